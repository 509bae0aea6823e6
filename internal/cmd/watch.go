package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/orchestrator"
	"github.com/sjennings/zeroshot-sub001/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch <cluster-id>",
	Short: "Attach a live view of a running or recently-run cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, shutdown, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer shutdown(ctx)
	return runWatchTUI(ctx, o, args[0])
}

const watchPollInterval = 400 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type tickMsg time.Time

type watchModel struct {
	o         *orchestrator.Orchestrator
	clusterID string
	vp        viewport.Model
	renderer  *glamour.TermRenderer
	lines     []string
	state     store.ClusterState
	lastSeen  int64
	done      bool
	err       error
}

func newWatchModel(o *orchestrator.Orchestrator, clusterID string) watchModel {
	r, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())
	vp := viewport.New(100, 24)
	return watchModel{o: o, clusterID: clusterID, vp: vp, renderer: r}
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(watchPollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.poll()
		m.vp.SetContent(m.render())
		m.vp.GotoBottom()
		if m.done {
			return m, tea.Quit
		}
		return m, tick()
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *watchModel) poll() {
	ctx := context.Background()

	rec, err := m.o.GetCluster(ctx, m.clusterID)
	if err != nil {
		m.err = err
	} else {
		m.state = rec.State
		switch rec.State {
		case store.ClusterCompleted, store.ClusterFailed, store.ClusterStopped, store.ClusterKilled:
			m.done = true
		}
	}

	if l, ok := m.o.Ledger(m.clusterID); ok {
		for _, msg := range l.Since(ledger.Criteria{ClusterID: m.clusterID, Since: m.lastSeen}) {
			m.lastSeen = msg.Timestamp
			m.lines = append(m.lines, formatMessage(msg))
		}
	}
}

func formatMessage(msg ledger.Message) string {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	header := fmt.Sprintf("[%s] %s -> %s  %s", ts, msg.Sender, msg.Receiver, msg.Topic)
	if msg.Content.Text == "" {
		return headerStyle.Render(header)
	}
	return headerStyle.Render(header) + "\n" + msg.Content.Text
}

func (m watchModel) render() string {
	out := ""
	for i, l := range m.lines {
		if i > 0 {
			out += "\n\n"
		}
		out += l
	}
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(out); err == nil {
			return rendered
		}
	}
	return out
}

func (m watchModel) View() string {
	status := fmt.Sprintf("cluster %s — state: %s", m.clusterID, m.state)
	if m.err != nil {
		status += "  " + errStyle.Render(m.err.Error())
	}
	footer := dimStyle.Render("q to quit")
	return lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(status), m.vp.View(), footer)
}

// runWatchTUI blocks running the bubbletea program until the cluster
// reaches a terminal state or the user quits. When invoked from the same
// process that started the cluster, live ledger messages are shown;
// otherwise only cluster state transitions (polled from the store) are
// visible, since the ledger is in-memory and does not survive past the
// process that owns it.
func runWatchTUI(ctx context.Context, o *orchestrator.Orchestrator, clusterID string) error {
	m := newWatchModel(o, clusterID)
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}
