package progress

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg struct{}
type stopMsg struct{}

type downloadTeaModel struct {
	viewFn func() DownloadView
	view   DownloadView
	done   bool
}

func (m downloadTeaModel) Init() tea.Cmd {
	return nil
}

func (m downloadTeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		m.view = m.viewFn()
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m downloadTeaModel) View() string {
	if m.done {
		return formatSummaryLine(m.view) + "\n"
	}
	return fmt.Sprintf("%s\n%s\n", colorize("saving "+m.view.Name, colorCyan, true), formatDownloadLine(m.view, true))
}

func renderDownloadTea(ctx context.Context, w io.Writer, view func() DownloadView) func() {
	model := downloadTeaModel{viewFn: view, view: view()}
	// No input: Ctrl-C stays a SIGINT handled by the caller's signal context.
	program := tea.NewProgram(model, tea.WithOutput(w), tea.WithInput(nil), tea.WithoutSignalHandler(), tea.WithContext(ctx))
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = program.Run()
	}()
	ticker := time.NewTicker(250 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()
	return func() {
		close(stop)
		program.Send(stopMsg{})
		select {
		case <-finished:
		case <-time.After(time.Second):
			program.Kill()
		}
	}
}
