package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

var statusStyles = map[schemas.AnalysisStatus]lipgloss.Style{
	schemas.AnalysisStatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	schemas.AnalysisStatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	schemas.AnalysisStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	schemas.AnalysisStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	schemas.AnalysisStatusCancelled:  lipgloss.NewStyle().Faint(true),
}

// StatusLabel pads before styling so escape codes do not break alignment.
func StatusLabel(status schemas.AnalysisStatus) string {
	label := fmt.Sprintf("%-10s", status)
	if style, ok := statusStyles[status]; ok {
		return style.Render(label)
	}
	return label
}

func printStats(w io.Writer, stats schemas.Stats) {
	fmt.Fprintf(w, "%s %d  %s %d  %s %d  %s %d  %s %d  %s %d\n",
		headerStyle.Render("total"), stats.Total,
		headerStyle.Render("pending"), stats.Pending,
		headerStyle.Render("processing"), stats.Processing,
		headerStyle.Render("completed"), stats.Completed,
		headerStyle.Render("failed"), stats.Failed,
		headerStyle.Render("cancelled"), stats.Cancelled,
	)
}

func printTaskTable(w io.Writer, view reconciler.View) {
	if len(view.Items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no analyses"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-6s %-10s %-28s %-12s %s", "ID", "STATUS", "FILE", "MODEL", "DETAIL")))
	for _, task := range view.Items {
		fmt.Fprintf(w, "%-6d %s %-28s %-12s %s\n",
			task.ID,
			StatusLabel(task.Status),
			truncate(task.Filename, 28),
			truncate(task.Model, 12),
			truncate(taskDetail(task), 60),
		)
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("page %d/%d, %d matching", view.Page, view.Pages, view.Filtered)))
}

func printTask(w io.Writer, task *schemas.AnalysisTask) {
	fmt.Fprintf(w, "analysis %d: %s", task.ID, StatusLabel(task.Status))
	if task.RetryCount > 0 {
		fmt.Fprintf(w, " (retries: %d)", task.RetryCount)
	}
	fmt.Fprintln(w)
}

// taskDetail is the description for completed tasks and the error otherwise.
func taskDetail(task schemas.AnalysisTask) string {
	switch {
	case task.Result != nil:
		return task.Result.Description
	case task.ErrorMessage != "":
		return task.ErrorMessage
	case task.CreatedAt != nil:
		return "queued " + task.CreatedAt.Local().Format(time.DateTime)
	}
	return ""
}

func truncate(value string, width int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

// printNotifier writes reconciler notices as single styled lines. Errors are
// skipped because the command returns them and Execute prints them.
type printNotifier struct {
	w io.Writer
}

func (n printNotifier) Info(message string)    { fmt.Fprintln(n.w, infoStyle.Render(message)) }
func (n printNotifier) Success(message string) { fmt.Fprintln(n.w, successStyle.Render(message)) }
func (n printNotifier) Error(string)           {}
