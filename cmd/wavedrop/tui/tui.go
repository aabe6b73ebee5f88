package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	MARGIN                  = 2
	MAX_WIDTH               = 80
	PRIMARY_COLOR           = "#B8BABA"
	SECONDARY_COLOR         = "#626262"
	DARK_COLOR              = "#1C1C1C"
	ELEMENT_COLOR           = "#3FA7D6"
	SECONDARY_ELEMENT_COLOR = "#59CD90"
	ERROR_COLOR             = "#CC0000"
	WARNING_COLOR           = "#FF7900"
	CHECK_COLOR             = "#34B233"
	SHUTDOWN_PERIOD         = 500 * time.Millisecond
)

var PadText = strings.Repeat(" ", MARGIN)

var Progressbar = progress.New(progress.WithGradient(SECONDARY_ELEMENT_COLOR, ELEMENT_COLOR))

var BaseStyle = lipgloss.NewStyle()
var InfoStyle = BaseStyle.Copy().Foreground(lipgloss.Color(PRIMARY_COLOR)).Render
var HelpStyle = BaseStyle.Copy().Foreground(lipgloss.Color(SECONDARY_COLOR)).Render
var ItalicText = BaseStyle.Copy().Italic(true).Render
var BoldText = BaseStyle.Copy().Bold(true).Render
var ErrorText = BaseStyle.Copy().Foreground(lipgloss.Color(ERROR_COLOR)).Render
var WarningText = BaseStyle.Copy().Foreground(lipgloss.Color(WARNING_COLOR)).Render
var SuccessText = BaseStyle.Copy().Foreground(lipgloss.Color(CHECK_COLOR)).Render

// ----------------------------------------------------- Spinners ------------------------------------------------------

var WaitingSpinner = spinner.Spinner{
	Frames: []string{"⠋ ", "⠙ ", "⠹ ", "⠸ ", "⠼ ", "⠴ ", "⠦ ", "⠧ ", "⠇ ", "⠏ "},
	FPS:    time.Second / 12,
}

var ReconnectingSpinner = spinner.Spinner{
	Frames: []string{"◐ ", "◓ ", "◑ ", "◒ "},
	FPS:    time.Second / 4,
}

var ReceivingSpinner = spinner.Spinner{
	Frames: []string{"   ", "  «", " ««", "«««"},
	FPS:    time.Second / 2,
}

// ------------------------------------------------------ Keymap -------------------------------------------------------

type KeyMap struct {
	Quit                   key.Binding
	OverwritePromptYes     key.Binding
	OverwritePromptNo      key.Binding
	OverwritePromptConfirm key.Binding
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Quit,
		k.OverwritePromptYes,
		k.OverwritePromptNo,
		k.OverwritePromptConfirm,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var Keys = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("(q)", "quit"),
	),
	OverwritePromptYes: key.NewBinding(
		key.WithDisabled(),
		key.WithKeys("y", "Y"),
		key.WithHelp("(y)", "overwrite"),
	),
	OverwritePromptNo: key.NewBinding(
		key.WithDisabled(),
		key.WithKeys("n", "N"),
		key.WithHelp("(n)", "skip"),
	),
	OverwritePromptConfirm: key.NewBinding(
		key.WithDisabled(),
		key.WithKeys("enter"),
		key.WithHelp("(enter)", "confirm"),
	),
}

// ------------------------------------------------------ Messages -----------------------------------------------------

type ErrorMsg error

// ProgressMsg carries the number of bytes received so far.
type ProgressMsg int64

// ------------------------------------------------------ Commands -----------------------------------------------------

// QuitCmd quits the program after a grace period so the final frame is rendered.
func QuitCmd() tea.Cmd {
	return tea.Tick(SHUTDOWN_PERIOD, func(_ time.Time) tea.Msg {
		return tea.Quit()
	})
}

// ErrorCmd prints the error above the program and quits.
func ErrorCmd(err error) tea.Cmd {
	return tea.Sequence(
		tea.Println(PadText+ErrorText(fmt.Sprintf("Error: %s", err))),
		QuitCmd(),
	)
}

// TaskCmd prints a completed task above the program and continues with cmd.
func TaskCmd(task string, cmd tea.Cmd) tea.Cmd {
	return tea.Sequence(tea.Println(fmt.Sprintf("%s• %s", PadText, task)), cmd)
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

func LogSeparator(width int) string {
	paddedWidth := width - 2*MARGIN
	if paddedWidth > MAX_WIDTH {
		paddedWidth = MAX_WIDTH
	}
	if paddedWidth < 0 {
		paddedWidth = 0
	}
	return fmt.Sprintf("%s\n\n", BaseStyle.Copy().Foreground(lipgloss.Color(SECONDARY_COLOR)).Render(strings.Repeat("─", paddedWidth)))
}

// ByteCountSI formats a byte count with SI prefixes.
func ByteCountSI(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}

// TruncateName shortens name to at most width display cells, keeping its end.
func TruncateName(name string, width int) string {
	if width <= 0 || runewidth.StringWidth(name) <= width {
		return name
	}
	overflowingLength := runewidth.StringWidth(name) - width
	return runewidth.TruncateLeft(name, overflowingLength+1, "…")
}
