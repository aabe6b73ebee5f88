// Package session tracks a single incoming file: its metadata, the chunks
// received so far and the heuristic deciding when the file is complete.
//
// A Session is not safe for concurrent use. It is owned by the receiver event
// loop, which serializes every call.
package session

import (
	"bytes"
	"errors"
	"io"
	"math"

	"github.com/samber/lo"
)

// DefaultThreshold is the share of the expected size that has to be received
// before an end-of-stream signal is accepted.
const DefaultThreshold = 0.95

var (
	ErrEmptyTransfer = errors.New("no data received - transfer failed")
	ErrEmptyArtifact = errors.New("received empty file")
)

// State is the state of the transfer tracked by a Session.
type State int

// Flows from the top down, Receiving is re-entered when a completion check fails.
const (
	Empty State = iota
	Receiving
	Completing
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Receiving:
		return "receiving"
	case Completing:
		return "completing"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileMetadata describes the announced file.
type FileMetadata struct {
	Name      string
	TotalSize int64
}

// Artifact is the reassembled file. The content can not be modified once finalized.
type Artifact struct {
	Meta FileMetadata
	data []byte
}

// Size returns the number of bytes in the artifact.
func (a Artifact) Size() int64 {
	return int64(len(a.data))
}

// Reader returns a reader over the artifact content.
func (a Artifact) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

// WriteTo writes the artifact content to w.
func (a Artifact) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.data)
	return int64(n), err
}

type Option func(*Session)

// WithThreshold sets the share of the expected size required for completion.
func WithThreshold(threshold float64) Option {
	return func(s *Session) {
		s.threshold = threshold
	}
}

// Session holds the state of the current transfer.
type Session struct {
	threshold float64

	state    State
	meta     *FileMetadata
	chunks   [][]byte
	received int64
	err      error

	// epoch identifies the transfer instance, scheduled completion checks
	// carry it so they can not act on a superseded transfer.
	epoch uint64
}

// New returns an empty session.
func New(opts ...Option) *Session {
	s := &Session{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset discards everything, including metadata, and invalidates pending completion checks.
func (s *Session) Reset() {
	s.state = Empty
	s.meta = nil
	s.chunks = nil
	s.received = 0
	s.err = nil
	s.epoch++
}

// OnFileInfo starts a new transfer, superseding any transfer in progress.
func (s *Session) OnFileInfo(name string, totalSize int64) {
	if totalSize < 0 {
		totalSize = 0
	}
	s.Reset()
	s.meta = &FileMetadata{Name: name, TotalSize: totalSize}
	s.state = Receiving
}

// OnChunk appends a chunk to the buffer. Empty chunks, and chunks arriving
// after the transfer reached a terminal state, are ignored.
func (s *Session) OnChunk(data []byte) {
	if len(data) == 0 || s.terminal() {
		return
	}
	s.chunks = append(s.chunks, data)
	s.received += int64(len(data))
}

// OnFileEnd records the end-of-stream signal and resolves the size the
// completion check has to compare against. The declared size wins when it is
// present and non-zero, the announced size is used otherwise.
func (s *Session) OnFileEnd(declaredTotalBytes *int64) (epoch uint64, expected int64) {
	switch {
	case declaredTotalBytes != nil && *declaredTotalBytes > 0:
		expected = *declaredTotalBytes
	case s.meta != nil:
		expected = s.meta.TotalSize
	}
	if !s.terminal() {
		s.state = Completing
	}
	return s.epoch, expected
}

// Settle runs the completion check scheduled by OnFileEnd. It reports whether
// the transfer may be finalized. A rejected check returns the session to
// Receiving, nothing retries it.
func (s *Session) Settle(epoch uint64, expected int64) bool {
	if epoch != s.epoch || s.state != Completing {
		return false
	}
	if s.received >= s.required(expected) {
		return true
	}
	s.state = Receiving
	return false
}

// required is the number of bytes needed to accept completion. The epsilon
// absorbs float rounding so that exactly threshold*expected is accepted.
func (s *Session) required(expected int64) int64 {
	return int64(math.Ceil(s.threshold*float64(expected) - 1e-9))
}

// Finalize concatenates the buffered chunks in arrival order and releases the buffer.
func (s *Session) Finalize() (Artifact, error) {
	if len(s.chunks) == 0 {
		return Artifact{}, s.fail(ErrEmptyTransfer)
	}
	size := lo.SumBy(s.chunks, func(chunk []byte) int { return len(chunk) })
	if size == 0 {
		return Artifact{}, s.fail(ErrEmptyArtifact)
	}
	data := make([]byte, 0, size)
	for _, chunk := range s.chunks {
		data = append(data, chunk...)
	}
	var meta FileMetadata
	if s.meta != nil {
		meta = *s.meta
	}
	s.chunks = nil
	s.state = Complete
	return Artifact{Meta: meta, data: data}, nil
}

func (s *Session) terminal() bool {
	return s.state == Complete || s.state == Failed
}

func (s *Session) fail(err error) error {
	s.state = Failed
	s.err = err
	return err
}

// ------------------------------------------------------ Accessors ----------------------------------------------------

func (s *Session) State() State { return s.state }

func (s *Session) Epoch() uint64 { return s.epoch }

func (s *Session) ReceivedBytes() int64 { return s.received }

func (s *Session) Chunks() int { return len(s.chunks) }

func (s *Session) Err() error { return s.err }

// Metadata returns the announced metadata, if any.
func (s *Session) Metadata() (FileMetadata, bool) {
	if s.meta == nil {
		return FileMetadata{}, false
	}
	return *s.meta, true
}

// Progress returns the received share of the announced size in [0, 1].
// It is 0 while the size is unknown.
func (s *Session) Progress() float64 {
	if s.meta == nil || s.meta.TotalSize <= 0 {
		return 0
	}
	return math.Min(1, float64(s.received)/float64(s.meta.TotalSize))
}

// Percent returns the progress as a floored percentage in [0, 100].
func (s *Session) Percent() int {
	if s.meta == nil || s.meta.TotalSize <= 0 {
		return 0
	}
	return int(lo.Min([]int64{100, s.received * 100 / s.meta.TotalSize}))
}
