package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s to at most width display cells, marking the cut with "...".
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// CandidateRow is one candidate of a poll.
type CandidateRow struct {
	Name  string
	Votes uint64
}

// PollRow is one poll with its candidates.
type PollRow struct {
	ID              uint64
	Description     string
	Address         string
	Start           time.Time
	End             time.Time
	Open            bool
	CandidateAmount uint64
	TotalVotes      uint64
	Candidates      []CandidateRow
}

// Dashboard is the state of the selected cluster as shown on screen.
type Dashboard struct {
	Cluster   string
	Program   string
	Deployed  bool
	Loading   bool // nothing read yet
	Fetching  bool
	Stale     bool
	Stalled   bool // no successful refresh for a while
	Err       string
	UpdatedAt time.Time
	Polls     []PollRow
}

// Notice is a one-line message such as a mutation outcome.
type Notice struct {
	Text  string
	Error bool
}

// DashboardMsg is sent when the dashboard should be redrawn.
type DashboardMsg struct {
	Dashboard Dashboard
}

// NoticeMsg is sent when a notice should be shown.
type NoticeMsg struct {
	Notice Notice
}

// Model holds the TUI state
type Model struct {
	dash       Dashboard
	notice     Notice
	refresh    func()
	refreshing bool // user asked for a reload that has not landed yet
	width      int
	height     int
}

// NewModel creates a new TUI model. refresh is called when the user asks
// for a reload and may be nil.
func NewModel(refresh func()) Model {
	return Model{
		dash:    Dashboard{Loading: true},
		refresh: refresh,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case DashboardMsg:
		m.dash = msg.Dashboard
		if !m.dash.Fetching {
			m.refreshing = false
		}
		return m, nil

	case NoticeMsg:
		m.notice = msg.Notice
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.refresh != nil {
				m.refresh()
				m.refreshing = true
			}
			return m, nil
		}
	}

	return m, nil
}

const minWidth = 40

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.width < minWidth {
		return "terminal too narrow"
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderPolls())
}

func (m Model) status() string {
	d := m.dash
	switch {
	case d.Loading:
		return "loading"
	case d.Err != "" && d.Stalled:
		return "stalled"
	case d.Err != "":
		return "error"
	case d.Fetching || m.refreshing:
		return "refreshing"
	case d.Stale:
		return "stale"
	}
	return "live"
}

// renderHeader renders the top header section
func (m Model) renderHeader() string {
	d := m.dash
	colWidth := (m.width - 4) / 2
	rightColWidth := m.width - colWidth - 3

	deployed := "no"
	if d.Deployed {
		deployed = "yes"
	}
	updated := "never"
	if !d.UpdatedAt.IsZero() {
		updated = d.UpdatedAt.Local().Format("15:04:05")
	}
	var votes uint64
	for _, p := range d.Polls {
		votes += p.TotalVotes
	}

	leftLines := []string{
		fmt.Sprintf("cluster: %s", d.Cluster),
		fmt.Sprintf("program: %s", d.Program),
		fmt.Sprintf("deployed: %s", deployed),
	}
	rightLines := []string{
		fmt.Sprintf("status: %s", m.status()),
		fmt.Sprintf("updated: %s", updated),
		fmt.Sprintf("polls: %d  votes: %d", len(d.Polls), votes),
	}

	rows := make([]string, 0, len(leftLines))
	for i := range leftLines {
		left := padToWidth(truncateToWidth(leftLines[i], colWidth-2), colWidth-2)
		right := padToWidth(truncateToWidth(rightLines[i], rightColWidth-2), rightColWidth-2)
		rows = append(rows, fmt.Sprintf("│ %s │ %s │", left, right))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┐", strings.Repeat("─", colWidth), strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┤", strings.Repeat("─", colWidth), strings.Repeat("─", rightColWidth))
	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

func (m Model) pollLines() []string {
	d := m.dash
	if d.Loading {
		return []string{"reading polls..."}
	}
	if !d.Deployed && len(d.Polls) == 0 {
		return []string{"the voting program is not deployed on this cluster"}
	}
	if len(d.Polls) == 0 {
		return []string{"no polls yet"}
	}

	var lines []string
	for _, p := range d.Polls {
		state := "closed"
		if p.Open {
			state = "open"
		}
		lines = append(lines, fmt.Sprintf("#%d %s  [%s]  %s → %s  votes=%d",
			p.ID, p.Description, state,
			p.Start.Local().Format("2006-01-02 15:04"), p.End.Local().Format("2006-01-02 15:04"),
			p.TotalVotes))
		if len(p.Candidates) == 0 {
			lines = append(lines, "    (no candidates)")
		}
		for _, c := range p.Candidates {
			lines = append(lines, fmt.Sprintf("    %-32s %6d %s", c.Name, c.Votes, bar(c.Votes, p.TotalVotes, 20)))
		}
	}
	return lines
}

// bar renders votes/total as a fixed-width bar.
func bar(votes, total uint64, width int) string {
	if total == 0 {
		return strings.Repeat("░", width)
	}
	filled := int(votes * uint64(width) / total)
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// renderPolls renders the polls table
func (m Model) renderPolls() string {
	// header takes 5 lines, footer 3
	availableHeight := m.height - 8
	if availableHeight <= 0 {
		return ""
	}
	lines := m.pollLines()
	if len(lines) > availableHeight {
		lines = append(lines[:availableHeight-1], fmt.Sprintf("... %d more lines", len(lines)-availableHeight+1))
	}

	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, formatInfoLine(" "+l, m.width))
	}

	info, isErr := "r refresh · q quit", false
	if m.dash.Err != "" {
		info, isErr = m.dash.Err, true
	}
	if m.notice.Text != "" {
		info, isErr = m.notice.Text, m.notice.Error
	}
	infoLine := formatInfoLine(" "+info, m.width)
	if isErr {
		infoLine = errorStyle.Render(infoLine)
	}
	bottomBorder := "└" + strings.Repeat("─", m.width-2) + "┘"
	return strings.Join(rows, "\n") + "\n" + separatorLine(m.width) + "\n" + infoLine + "\n" + bottomBorder
}

// Run starts the TUI program. Values received on updateCh are Dashboard or
// Notice; the program quits when updateCh is closed.
func Run(updateCh <-chan interface{}, refresh func()) error {
	m := NewModel(refresh)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for data := range updateCh {
			switch v := data.(type) {
			case Dashboard:
				p.Send(DashboardMsg{Dashboard: v})
			case Notice:
				p.Send(NoticeMsg{Notice: v})
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
