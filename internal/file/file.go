// Package file hands a received artifact off to the file system.
package file

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/wavedrop/wavedrop/internal/session"
)

const (
	ReceiveTempFilePrefix = "wavedrop-receive-temp"
	DefaultName           = "download"
)

var (
	ErrFileExists      = errors.New("file exists")
	ErrUnpackNoHeader  = errors.New("no header in tar archive")
	ErrUninitialized   = errors.New("unpacker is uninitialized")
	ErrUnsafePath      = errors.New("archive entry escapes the output directory")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// SanitizeName reduces a sender provided name to a plain file name.
func SanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, `\`, "/")))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return DefaultName
	}
	return name
}

// Committer defines a unit that can commit a file to disk.
type Committer interface {
	FileName() string
	Commit() (int64, error)
}

// ----------------------------------------------------- Artifacts -----------------------------------------------------

type artifactCommitter struct {
	dir      string
	name     string
	artifact session.Artifact
}

// NewCommitter resolves where the artifact is written inside dir. When prompt
// is set and the target already exists the committer is returned together
// with ErrFileExists, committing it overwrites the file.
func NewCommitter(dir string, artifact session.Artifact, prompt bool) (Committer, error) {
	c := &artifactCommitter{
		dir:      dir,
		name:     SanitizeName(artifact.Meta.Name),
		artifact: artifact,
	}
	if prompt && fileExists(filepath.Join(dir, c.name)) {
		return c, ErrFileExists
	}
	return c, nil
}

func (c *artifactCommitter) FileName() string {
	return c.name
}

// Commit writes the artifact to a temporary file next to the target and moves
// it in place once all bytes are on disk.
func (c *artifactCommitter) Commit() (int64, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(c.dir, ReceiveTempFilePrefix)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	n, err := c.artifact.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", c.name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, c.name)); err != nil {
		return 0, err
	}
	return n, nil
}

// IsArchive reports whether the artifact is gzip compressed.
func IsArchive(artifact session.Artifact) bool {
	magic := make([]byte, 2)
	if _, err := io.ReadFull(artifact.Reader(), magic); err != nil {
		return false
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}

// ---------------------------------------------------- Unpack Files ---------------------------------------------------

// Unpacker defines an encapsulated unit for unpacking a compressed
// tar archive into a directory.
type Unpacker struct {
	prompt bool // prompt defines whether we should prompt the user to overwrite files
	dir    string

	gr *pgzip.Reader
	tr *tar.Reader
}

func NewUnpacker(dir string, prompt bool, r io.Reader) (*Unpacker, error) {
	gr, err := pgzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Unpacker{
		prompt: prompt,
		dir:    dir,
		gr:     gr,
		tr:     tar.NewReader(gr),
	}, nil
}

// Close closes the decompressor of the unpacker.
func (u *Unpacker) Close() error {
	if u.gr != nil {
		return u.gr.Close()
	}
	return nil
}

// Unpack advances to the next archive entry and resolves a Committer for it.
// If the unpacker is configured to prompt it returns ErrFileExists along with
// the committer. Returns io.EOF once the archive has been fully consumed.
func (u *Unpacker) Unpack() (Committer, error) {
	if u.tr == nil {
		return nil, ErrUninitialized
	}
	header, err := u.tr.Next()
	switch {
	case err != nil:
		return nil, err
	case header == nil:
		return nil, ErrUnpackNoHeader
	}
	name := filepath.FromSlash(header.Name)
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
	}
	c := &entryCommitter{
		dir:    u.dir,
		name:   name,
		tr:     u.tr,
		header: header,
	}
	if u.prompt && header.Typeflag == tar.TypeReg && fileExists(filepath.Join(u.dir, name)) {
		return c, ErrFileExists
	}
	return c, nil
}

type entryCommitter struct {
	dir    string
	name   string
	tr     *tar.Reader
	header *tar.Header
}

func (c *entryCommitter) FileName() string {
	return c.name
}

func (c *entryCommitter) Commit() (int64, error) {
	path := filepath.Join(c.dir, c.name)
	switch c.header.Typeflag {
	case tar.TypeDir:
		return 0, os.MkdirAll(path, 0755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return 0, err
		}
		f, err := os.Create(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return io.Copy(f, c.tr)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, c.name)
	}
}

// ----------------------------------------------------- Utilities -----------------------------------------------------

// RemoveTemporaryFiles optimistically removes files in dir created with the specified prefix.
func RemoveTemporaryFiles(dir, prefix string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}
