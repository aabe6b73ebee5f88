package receiver

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/erikgeiser/promptkit"
	"github.com/erikgeiser/promptkit/confirmation"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/tui"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/tui/filetable"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/tui/transferprogress"
	"github.com/wavedrop/wavedrop/internal/file"
	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/session"
)

// ------------------------------------------------------ tui State -----------------------------------------------------
type tuiState int

// Flows from the top down, reconnecting may loop back to connecting.
const (
	showConnecting tuiState = iota
	showWaiting
	showReceivingProgress
	showReconnecting
	showWriting
	showOverwritePrompt
	showFinished
)

// ------------------------------------------------------ Messages -----------------------------------------------------

type snapshotMsg receiver.Snapshot

type updatesClosedMsg struct{}

type writeDoneMsg struct{}

type overwritePromptMsg struct {
	committer file.Committer
}

type commitMsg struct {
	size int64
	name string
}

// ------------------------------------------------------- Model -------------------------------------------------------

type Option func(m *model)

func WithRelayAddr(addr string) Option {
	return func(m *model) {
		m.relayAddr = addr
	}
}

func WithOutputDir(dir string) Option {
	return func(m *model) {
		m.outputDir = dir
	}
}

// WithPrompt enables the overwrite prompt for existing files.
func WithPrompt(prompt bool) Option {
	return func(m *model) {
		m.prompt = prompt
	}
}

// WithUnpack extracts gzip compressed tar artifacts into the output directory.
func WithUnpack(unpack bool) Option {
	return func(m *model) {
		m.unpack = unpack
	}
}

type model struct {
	state      tuiState
	transferID string
	relayAddr  string
	outputDir  string
	prompt     bool
	unpack     bool

	receiver *receiver.Receiver
	last     receiver.Snapshot
	artifact *session.Artifact

	writtenFiles []filetable.File
	unpacker     *file.Unpacker
	committer    file.Committer

	width            int
	spinner          spinner.Model
	transferProgress transferprogress.Model
	fileTable        filetable.Model
	overwritePrompt  confirmation.Model
	help             help.Model
	keys             tui.KeyMap
}

// New creates a new receiver program driving r. Run must be called on r
// separately, the program only connects and observes it.
func New(r *receiver.Receiver, transferID string, opts ...Option) *tea.Program {
	return tea.NewProgram(newModel(r, transferID, opts...))
}

func newModel(r *receiver.Receiver, transferID string, opts ...Option) model {
	m := model{
		transferID:       transferID,
		outputDir:        ".",
		receiver:         r,
		transferProgress: transferprogress.New(),
		fileTable:        filetable.New(),
		overwritePrompt:  *confirmation.NewModel(confirmation.New("", confirmation.Undecided)),
		help:             help.New(),
		keys:             tui.Keys,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.resetSpinner()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectCmd(m.receiver, m.transferID), listenCmd(m.receiver.Updates()))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		return m.handleSnapshot(receiver.Snapshot(msg))

	case updatesClosedMsg:
		if m.state < showWriting {
			return m, tui.ErrorCmd(errors.New("receiver stopped before the transfer completed"))
		}
		return m, nil

	case commitMsg:
		m.writtenFiles = append(m.writtenFiles, filetable.File{Path: msg.name, Size: msg.size})
		if m.unpacker != nil {
			return m, m.unpackCmd()
		}
		return m, func() tea.Msg { return writeDoneMsg{} }

	case overwritePromptMsg:
		m.state = showOverwritePrompt
		m.committer = msg.committer
		m.resetSpinner()
		m.keys.OverwritePromptYes.SetEnabled(true)
		m.keys.OverwritePromptNo.SetEnabled(true)
		m.keys.OverwritePromptConfirm.SetEnabled(true)
		return m, tea.Batch(m.spinner.Tick, m.newOverwritePrompt(msg.committer.FileName()))

	case writeDoneMsg:
		if m.unpacker != nil {
			m.unpacker.Close()
		}
		m.state = showFinished
		m.fileTable.SetMaxHeight(math.MaxInt)
		m.fileTable.SetFiles(m.writtenFiles)
		m.fileTable = m.fileTable.Finalize().(filetable.Model)
		return m, tui.QuitCmd()

	case tui.ErrorMsg:
		return m, tui.ErrorCmd(errors.New(msg.Error()))

	case tea.KeyMsg:
		var cmds []tea.Cmd
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}

		fileTableModel, fileTableCmd := m.fileTable.Update(msg)
		m.fileTable = fileTableModel.(filetable.Model)
		cmds = append(cmds, fileTableCmd)

		_, promptCmd := m.overwritePrompt.Update(msg)
		if m.state == showOverwritePrompt {
			switch msg.String() {
			case "left", "right":
				cmds = append(cmds, promptCmd)
			}
			switch {
			case key.Matches(msg, m.keys.OverwritePromptYes, m.keys.OverwritePromptNo, m.keys.OverwritePromptConfirm):
				m.state = showWriting
				m.keys.OverwritePromptYes.SetEnabled(false)
				m.keys.OverwritePromptNo.SetEnabled(false)
				m.keys.OverwritePromptConfirm.SetEnabled(false)
				shouldOverwrite, _ := m.overwritePrompt.Value()
				switch {
				case shouldOverwrite:
					cmds = append(cmds, m.commitCmd())
				case m.unpacker != nil:
					cmds = append(cmds, m.unpackCmd())
				default:
					cmds = append(cmds, func() tea.Msg { return writeDoneMsg{} })
				}
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		transferProgressModel, transferProgressCmd := m.transferProgress.Update(msg)
		m.transferProgress = transferProgressModel.(transferprogress.Model)

		fileTableModel, fileTableCmd := m.fileTable.Update(msg)
		m.fileTable = fileTableModel.(filetable.Model)

		m.overwritePrompt.MaxWidth = msg.Width - 2*tui.MARGIN - 4
		_, promptCmd := m.overwritePrompt.Update(msg)

		return m, tea.Batch(transferProgressCmd, fileTableCmd, promptCmd)

	default:
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		transferProgressModel, transferProgressCmd := m.transferProgress.Update(msg)
		m.transferProgress = transferProgressModel.(transferprogress.Model)
		_, promptCmd := m.overwritePrompt.Update(msg)
		return m, tea.Batch(spinnerCmd, transferProgressCmd, promptCmd)
	}
}

// handleSnapshot maps a change of the receiver state onto the program state.
func (m model) handleSnapshot(snap receiver.Snapshot) (tea.Model, tea.Cmd) {
	prev := m.last
	m.last = snap
	if m.state >= showWriting {
		return m, nil
	}
	cmds := []tea.Cmd{listenCmd(m.receiver.Updates())}
	setState := func(state tuiState) {
		if m.state != state {
			m.state = state
			m.resetSpinner()
			cmds = append(cmds, m.spinner.Tick)
		}
	}

	switch {
	case snap.RetriesExhausted:
		return m, tui.ErrorCmd(snap.Err)
	case snap.Transfer == session.Failed:
		return m, tui.ErrorCmd(snap.Err)
	case snap.Artifact != nil:
		m.artifact = snap.Artifact
		setState(showWriting)
		m.receiver.Disconnect()
		message := fmt.Sprintf("Received %s (%s) in %s",
			tui.BoldText(snap.Artifact.Meta.Name),
			tui.ByteCountSI(snap.Artifact.Size()),
			m.elapsed(),
		)
		cmds = append(cmds, tui.TaskCmd(message, m.writeCmd()))
		return m, tea.Batch(cmds...)
	case snap.Connection == receiver.Disconnected:
		setState(showReconnecting)
	case snap.Connection == receiver.Connecting:
		if m.state != showReconnecting {
			setState(showConnecting)
		}
	case snap.Connection == receiver.Connected && snap.File == nil:
		setState(showWaiting)
	case snap.Connection == receiver.Connected:
		setState(showReceivingProgress)
	}

	if snap.Connection == receiver.Connected && prev.ConnectionID != snap.ConnectionID {
		message := fmt.Sprintf("Connected to relay (%s)", m.relayAddr)
		if prev.ConnectionID != "" {
			message = fmt.Sprintf("Reconnected to relay (%s)", m.relayAddr)
		}
		cmds = append(cmds, tui.TaskCmd(message, nil))
	}
	if snap.File != nil && (prev.File == nil || *prev.File != *snap.File || snap.ReceivedBytes < prev.ReceivedBytes) {
		m.transferProgress.Reset(snap.File.TotalSize)
		m.transferProgress.StartTransfer()
	}
	if snap.ReceivedBytes != m.transferProgress.BytesTransferred() {
		transferProgressModel, transferProgressCmd := m.transferProgress.Update(tui.ProgressMsg(snap.ReceivedBytes))
		m.transferProgress = transferProgressModel.(transferprogress.Model)
		cmds = append(cmds, transferProgressCmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	switch m.state {

	case showConnecting:
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.InfoStyle(fmt.Sprintf("%s Connecting to relay (%s)", m.spinner.View(), m.relayAddr)) + "\n\n" +
			tui.PadText + m.help.View(m.keys) + "\n\n"

	case showWaiting:
		waitingText := fmt.Sprintf("%s Waiting for sender of transfer %s", m.spinner.View(), tui.BoldText(m.transferID))
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.InfoStyle(waitingText) + "\n\n" +
			tui.PadText + m.help.View(m.keys) + "\n\n"

	case showReceivingProgress:
		receivingText := fmt.Sprintf("%s Receiving %s (%s of %s)",
			m.spinner.View(),
			tui.BoldText(tui.TruncateName(m.fileName(), m.nameWidth())),
			tui.ByteCountSI(m.last.ReceivedBytes),
			tui.ByteCountSI(m.payloadSize()),
		)
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.InfoStyle(receivingText) + "\n\n" +
			tui.PadText + m.transferProgress.View() + "\n\n" +
			tui.PadText + m.help.View(m.keys) + "\n\n"

	case showReconnecting:
		reconnectingText := fmt.Sprintf("%s Connection lost, reconnecting (attempt %d)", m.spinner.View(), m.last.ReconnectAttempts)
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.WarningText(reconnectingText) + "\n\n" +
			tui.PadText + m.help.View(m.keys) + "\n\n"

	case showOverwritePrompt:
		waitingText := fmt.Sprintf("%s Waiting for file overwrite confirmation", m.spinner.View())
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.InfoStyle(waitingText) + "\n\n" +
			tui.PadText + m.overwritePrompt.View() + "\n\n" +
			tui.PadText + m.help.View(m.keys) + "\n\n"

	case showWriting:
		writingText := fmt.Sprintf("%s Writing to %s", m.spinner.View(), m.outputDir)
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.InfoStyle(writingText) + "\n\n" +
			tui.PadText + m.transferProgress.View() + "\n\n"

	case showFinished:
		oneOrMoreFiles := "file"
		if len(m.writtenFiles) != 1 {
			oneOrMoreFiles += "s"
		}
		finishedText := fmt.Sprintf("Wrote %d %s to %s", len(m.writtenFiles), oneOrMoreFiles, m.outputDir)
		return tui.PadText + tui.LogSeparator(m.width) +
			tui.PadText + tui.SuccessText(finishedText) + "\n\n" +
			m.fileTable.View()

	default:
		return ""
	}
}

// ------------------------------------------------------ Commands -----------------------------------------------------

func connectCmd(r *receiver.Receiver, transferID string) tea.Cmd {
	return func() tea.Msg {
		r.Connect(transferID)
		return nil
	}
}

func listenCmd(updates <-chan receiver.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// writeCmd hands the artifact off to disk, unpacking it when configured to.
func (m *model) writeCmd() tea.Cmd {
	artifact := *m.artifact
	if m.unpack && file.IsArchive(artifact) {
		unpacker, err := file.NewUnpacker(m.outputDir, m.prompt, artifact.Reader())
		if err != nil {
			return tui.ErrorCmd(err)
		}
		m.unpacker = unpacker
		return m.unpackCmd()
	}
	outputDir, prompt := m.outputDir, m.prompt
	return func() tea.Msg {
		committer, err := file.NewCommitter(outputDir, artifact, prompt)
		switch {
		case errors.Is(err, file.ErrFileExists):
			return overwritePromptMsg{committer: committer}
		case err != nil:
			return tui.ErrorMsg(err)
		}
		return commit(committer)
	}
}

func (m *model) unpackCmd() tea.Cmd {
	unpacker := m.unpacker
	return func() tea.Msg {
		committer, err := unpacker.Unpack()
		switch {
		case errors.Is(err, io.EOF):
			return writeDoneMsg{}
		case errors.Is(err, file.ErrFileExists):
			return overwritePromptMsg{committer: committer}
		case err != nil:
			return tui.ErrorMsg(err)
		}
		return commit(committer)
	}
}

func (m *model) commitCmd() tea.Cmd {
	committer := m.committer
	m.committer = nil
	return func() tea.Msg {
		if committer == nil {
			return tui.ErrorMsg(errors.New("nil committer"))
		}
		return commit(committer)
	}
}

func commit(committer file.Committer) tea.Msg {
	size, err := committer.Commit()
	if err != nil {
		return tui.ErrorMsg(fmt.Errorf("writing %s: %w", committer.FileName(), err))
	}
	return commitMsg{size: size, name: committer.FileName()}
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

func (m *model) newOverwritePrompt(fileName string) tea.Cmd {
	prompt := confirmation.New(fmt.Sprintf("Overwrite file '%s'?", filepath.Join(m.outputDir, fileName)), confirmation.Yes)
	m.overwritePrompt = *confirmation.NewModel(prompt)
	m.overwritePrompt.MaxWidth = m.width
	m.overwritePrompt.WrapMode = promptkit.HardWrap
	m.overwritePrompt.Template = confirmation.TemplateYN
	m.overwritePrompt.ResultTemplate = confirmation.ResultTemplateYN
	m.overwritePrompt.KeyMap.Abort = []string{}
	m.overwritePrompt.KeyMap.Toggle = []string{}
	return m.overwritePrompt.Init()
}

func (m *model) resetSpinner() {
	m.spinner = spinner.New()
	m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(tui.ELEMENT_COLOR))
	switch m.state {
	case showReceivingProgress, showWriting:
		m.spinner.Spinner = tui.ReceivingSpinner
	case showReconnecting:
		m.spinner.Spinner = tui.ReconnectingSpinner
	default:
		m.spinner.Spinner = tui.WaitingSpinner
	}
}

func (m model) fileName() string {
	if m.last.File == nil {
		return ""
	}
	return m.last.File.Name
}

func (m model) payloadSize() int64 {
	if m.last.File == nil {
		return 0
	}
	return m.last.File.TotalSize
}

func (m model) nameWidth() int {
	return int(math.Min(tui.MAX_WIDTH, float64(m.width))) / 2
}

func (m model) elapsed() time.Duration {
	if m.transferProgress.TransferStartTime == nil {
		return 0
	}
	return time.Since(*m.transferProgress.TransferStartTime).Round(time.Millisecond)
}
