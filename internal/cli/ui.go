package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/cebarrett/todo/internal/todo"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	boxChecked   = "☑"
	boxUnchecked = "☐"
)

func ok(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render("✔ "+msg))
}

func fail(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render("✖ "+msg))
}

func renderList(w io.Writer, items []todo.Item) {
	done := 0
	for _, item := range items {
		if item.Completed {
			done++
		}
	}
	lines := []string{
		fmt.Sprintf("%s  %s %d  %s %d",
			titleStyle.Render("Todos"),
			successStyle.Render("✔"), done,
			pendingStyle.Render("•"), len(items)-done),
		"",
	}
	if len(items) == 0 {
		lines = append(lines, mutedStyle.Render("Nothing to do. Add with `todo add \"Buy milk\"`"))
	}
	for i, item := range items {
		box, text := boxUnchecked, item.Text
		if item.Completed {
			box, text = boxChecked, doneStyle.Render(item.Text)
		}
		lines = append(lines, fmt.Sprintf("%2d. %s %s", i+1, box, text))
	}
	fmt.Fprintln(w, panelStyle.Render(strings.Join(lines, "\n")))
}
