// Package tui is the live dashboard behind `taskwatch watch`.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

// Dashboard is the subset of the watcher the dashboard drives.
type Dashboard interface {
	Start(ctx context.Context) error
	Stop()
	Reconciler() *reconciler.Reconciler
	Polling() bool
	LiveConnected() bool
	Submit(ctx context.Context, request schemas.SubmitRequest) (*schemas.AnalysisTask, error)
}

type changedMsg struct{}

type actionDoneMsg struct {
	err error
}

type startedMsg struct {
	err error
}

// statusCycle is the order the s key walks through; "" means no filter.
var statusCycle = append([]schemas.AnalysisStatus{""}, schemas.AnalysisStatuses...)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Faint(true)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	liveStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	noticeStyles  = map[reconciler.NoticeLevel]lipgloss.Style{
		reconciler.NoticeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		reconciler.NoticeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		reconciler.NoticeError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
	statusStyles = map[schemas.AnalysisStatus]lipgloss.Style{
		schemas.AnalysisStatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		schemas.AnalysisStatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		schemas.AnalysisStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		schemas.AnalysisStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		schemas.AnalysisStatusCancelled:  lipgloss.NewStyle().Faint(true),
	}
)

type model struct {
	ctx       context.Context
	dashboard Dashboard
	rec       *reconciler.Reconciler
	notices   *reconciler.Recorder
	changes   <-chan struct{}

	search    textinput.Model
	searching bool
	spinner   spinner.Model
	cursor    int
	statusIdx int
	width     int
}

// Run starts the watcher and blocks until the user quits or ctx ends. The
// watcher is stopped before Run returns.
func Run(ctx context.Context, dashboard Dashboard, notices *reconciler.Recorder) error {
	defer dashboard.Stop()

	changes, unsubscribe := dashboard.Reconciler().Subscribe()
	defer unsubscribe()

	program := tea.NewProgram(newModel(ctx, dashboard, notices, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, dashboard Dashboard, notices *reconciler.Recorder, changes <-chan struct{}) model {
	search := textinput.New()
	search.Prompt = "search: "
	search.CharLimit = 120

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	if notices == nil {
		notices = &reconciler.Recorder{}
	}
	return model{
		ctx:       ctx,
		dashboard: dashboard,
		rec:       dashboard.Reconciler(),
		notices:   notices,
		changes:   changes,
		search:    search,
		spinner:   spin,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.start(), waitForChange(m.changes), m.spinner.Tick)
}

func (m model) start() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.dashboard.Start(m.ctx)}
	}
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case changedMsg:
		m.clampCursor()
		return m, waitForChange(m.changes)
	case startedMsg, actionDoneMsg:
		m.clampCursor()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		m.search.Blur()
		m.rec.SetSearch(strings.TrimSpace(m.search.Value()))
		m.cursor = 0
		return m, nil
	case "esc":
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.rec.View().Search)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rec.View().Items)-1 {
			m.cursor++
		}
	case "n", "right":
		m.rec.SetPage(m.rec.Page() + 1)
		m.cursor = 0
	case "p", "left":
		m.rec.SetPage(m.rec.Page() - 1)
		m.cursor = 0
	case "s":
		m.statusIdx = (m.statusIdx + 1) % len(statusCycle)
		m.rec.SetStatusFilter(statusCycle[m.statusIdx])
		m.cursor = 0
	case "/":
		m.searching = true
		cmd := m.search.Focus()
		return m, cmd
	case "r":
		if task, ok := m.selected(); ok {
			return m, m.action(func(ctx context.Context) error { return m.rec.Retry(ctx, task.ID) })
		}
	case "c":
		if task, ok := m.selected(); ok {
			return m, m.action(func(ctx context.Context) error { return m.rec.Cancel(ctx, task.ID) })
		}
	case "a":
		if task, ok := m.selected(); ok && task.MediaID > 0 && task.Model != "" {
			request := schemas.SubmitRequest{MediaID: task.MediaID, Model: task.Model}
			return m, m.action(func(ctx context.Context) error {
				_, err := m.dashboard.Submit(ctx, request)
				return err
			})
		}
	}
	return m, nil
}

// action runs a reconciler call off the update loop. Its outcome reaches the
// user through the notice line.
func (m model) action(run func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: run(m.ctx)}
	}
}

func (m model) selected() (schemas.AnalysisTask, bool) {
	items := m.rec.View().Items
	if m.cursor < 0 || m.cursor >= len(items) {
		return schemas.AnalysisTask{}, false
	}
	return items[m.cursor], true
}

func (m *model) clampCursor() {
	count := len(m.rec.View().Items)
	if m.cursor >= count {
		m.cursor = count - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m model) View() string {
	view := m.rec.View()
	var b strings.Builder

	b.WriteString(titleStyle.Render("taskwatch"))
	b.WriteString("  ")
	b.WriteString(m.connectionLabel())
	b.WriteString("\n")
	b.WriteString(renderStats(view.Stats))
	b.WriteString("\n\n")

	if !view.Loaded {
		b.WriteString(mutedStyle.Render("loading..."))
		b.WriteString("\n")
	} else if len(view.Items) == 0 {
		b.WriteString(mutedStyle.Render("no analyses match"))
		b.WriteString("\n")
	}
	for i, task := range view.Items {
		line := renderRow(task, m.rec.InFlight(task.ID))
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("page %d/%d  %d matching  filter: %s", view.Page, view.Pages, view.Filtered, filterLabel(view))))
	b.WriteString("\n")
	if m.searching {
		b.WriteString(m.search.View())
		b.WriteString("\n")
	}
	if notice, ok := m.notices.Last(); ok {
		b.WriteString(noticeStyles[notice.Level].Render(notice.Message))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ select  r retry  c cancel  a analyze again  / search  s status  n/p page  q quit"))
	return b.String()
}

func (m model) connectionLabel() string {
	switch {
	case m.dashboard.LiveConnected():
		return liveStyle.Render("● live")
	case m.dashboard.Polling():
		return m.spinner.View() + mutedStyle.Render(" polling")
	default:
		return mutedStyle.Render("idle")
	}
}

func renderStats(stats schemas.Stats) string {
	return fmt.Sprintf("total %d  %s %d  %s %d  %s %d  %s %d  %s %d",
		stats.Total,
		statusStyles[schemas.AnalysisStatusPending].Render("pending"), stats.Pending,
		statusStyles[schemas.AnalysisStatusProcessing].Render("processing"), stats.Processing,
		statusStyles[schemas.AnalysisStatusCompleted].Render("completed"), stats.Completed,
		statusStyles[schemas.AnalysisStatusFailed].Render("failed"), stats.Failed,
		statusStyles[schemas.AnalysisStatusCancelled].Render("cancelled"), stats.Cancelled,
	)
}

func renderRow(task schemas.AnalysisTask, busy bool) string {
	status := fmt.Sprintf("%-10s", task.Status)
	if style, ok := statusStyles[task.Status]; ok {
		status = style.Render(status)
	}
	marker := " "
	if busy {
		marker = "…"
	}
	detail := task.Description()
	if task.ErrorMessage != "" {
		detail = task.ErrorMessage
	}
	return fmt.Sprintf("%s %-6d %s %-28s %-12s %s", marker, task.ID, status, clip(task.Filename, 28), clip(task.Model, 12), clip(detail, 50))
}

func filterLabel(view reconciler.View) string {
	parts := []string{}
	if view.Status != "" {
		parts = append(parts, "status="+view.Status.String())
	}
	if view.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", view.Search))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func clip(value string, width int) string {
	runes := []rune(strings.ReplaceAll(value, "\n", " "))
	if len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-1]) + "…"
}
