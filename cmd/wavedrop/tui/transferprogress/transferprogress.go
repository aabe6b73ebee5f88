package transferprogress

import (
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/tui"
)

type Option func(*Model)

func WithPayloadSize(size int64) Option {
	return func(m *Model) {
		m.PayloadSize = size
	}
}

type Model struct {
	PayloadSize                int64
	bytesTransferred           int64
	progress                   float64
	TransferStartTime          *time.Time
	TransferSpeedEstimateBps   int64
	EstimatedRemainingDuration time.Duration

	Width       int
	progressBar progress.Model
}

func New(opts ...Option) Model {
	m := Model{
		progressBar: tui.Progressbar,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m *Model) StartTransfer() {
	now := time.Now()
	m.TransferStartTime = &now
}

// Reset discards the progress of a superseded transfer.
func (m *Model) Reset(payloadSize int64) {
	m.PayloadSize = payloadSize
	m.bytesTransferred = 0
	m.progress = 0
	m.TransferStartTime = nil
	m.TransferSpeedEstimateBps = 0
	m.EstimatedRemainingDuration = 0
}

func (m Model) BytesTransferred() int64 {
	return m.bytesTransferred
}

func (m Model) Progress() float64 {
	return m.progress
}

func (Model) Init() tea.Cmd {
	return nil
}

func (m Model) View() string {
	bar := m.progressBar.ViewAs(m.progress)
	if m.TransferSpeedEstimateBps == 0 {
		return bar
	}
	return bar + "\n\n" + tui.PadText + tui.HelpStyle(fmt.Sprintf("%s/s, %s remaining",
		tui.ByteCountSI(m.TransferSpeedEstimateBps),
		m.EstimatedRemainingDuration.Round(time.Second),
	))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.Width = msg.Width - 2*tui.MARGIN - 4
		if m.Width > tui.MAX_WIDTH {
			m.Width = tui.MAX_WIDTH
		}
		m.progressBar.Width = m.Width
		return m, nil

	case tui.ProgressMsg:
		if m.TransferStartTime == nil {
			m.StartTransfer()
		}
		m.bytesTransferred = int64(msg)
		if m.PayloadSize <= 0 {
			m.progress = 0
			return m, nil
		}
		m.progress = math.Min(1.0, float64(m.bytesTransferred)/float64(m.PayloadSize))

		secondsSpent := time.Since(*m.TransferStartTime).Seconds()
		if m.bytesTransferred == 0 || secondsSpent == 0 {
			return m, nil
		}
		bytesRemaining := math.Max(0, float64(m.PayloadSize-m.bytesTransferred))
		linearRemainingSeconds := bytesRemaining * secondsSpent / float64(m.bytesTransferred)
		remainingDuration, err := time.ParseDuration(fmt.Sprintf("%fs", linearRemainingSeconds))
		if err != nil {
			return m, tui.ErrorCmd(errors.Wrap(err, "failed to parse duration of estimated remaining transfer time"))
		}
		m.EstimatedRemainingDuration = remainingDuration
		m.TransferSpeedEstimateBps = int64(float64(m.bytesTransferred) / secondsSpent)
		return m, nil

	case progress.FrameMsg:
		progressModel, cmd := m.progressBar.Update(msg)
		m.progressBar = progressModel.(progress.Model)
		return m, cmd

	default:
		return m, nil
	}
}
