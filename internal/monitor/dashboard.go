// Package monitor renders a live terminal dashboard of one tenant's
// knowledge index.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	recentOps       = 8
)

// Source is where the dashboard polls from. *client.Client satisfies it.
type Source interface {
	Status(ctx context.Context, tenantID string) (*orchestrator.Status, error)
	Operations(ctx context.Context, tenantID string, limit int) ([]store.Operation, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	src        Source
	tenantID   string
	interval   time.Duration
	now        func() time.Time
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	sectionProgress progress.Model
}

// Snapshot holds the latest poll plus history for the sparkline.
type Snapshot struct {
	Status  orchestrator.Status
	Journal []store.Operation

	VectorHistory []float64
	PeakVectors   int
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling tenantID from src every interval.
func NewModel(src Source, tenantID string, interval time.Duration) Model {
	return Model{
		src:      src,
		tenantID: tenantID,
		interval: interval,
		now:      time.Now,
		sectionProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(30),
		),
		snapshot: Snapshot{
			VectorHistory: make([]float64, 0, historySize),
		},
	}
}

// stateBadge colors an operation state.
func stateBadge(state string) string {
	switch orchestrator.State(state) {
	case orchestrator.StateVerified, orchestrator.StateOffboarded:
		return healthyStyle.Render("✓ " + state)
	case orchestrator.StateDegraded:
		return warningStyle.Render("⚠ " + state)
	case orchestrator.StateRolledBack:
		return errorStyle.Render("✗ " + state)
	case "":
		return dimStyle.Render("- none")
	default:
		return labelStyle.Render("… " + state)
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time

type statusMsg struct {
	status  *orchestrator.Status
	journal []store.Operation
}

type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.src, m.tenantID),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus polls the tenant's status and recent journal.
func fetchStatus(src Source, tenantID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		st, err := src.Status(ctx, tenantID)
		if err != nil {
			return errMsg(err)
		}
		journal, err := src.Operations(ctx, tenantID, recentOps)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg{status: st, journal: journal}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.src, m.tenantID)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.src, m.tenantID),
		)

	case statusMsg:
		next := Snapshot{
			Status:        *msg.status,
			Journal:       msg.journal,
			VectorHistory: appendToHistory(m.snapshot.VectorHistory, float64(msg.status.VectorCount)),
			PeakVectors:   max(m.snapshot.PeakVectors, msg.status.VectorCount),
		}
		m.snapshot = next
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("knowledged Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot read index status") + "\n\n")
	b.WriteString(dimStyle.Render("Tenant: ") + valueStyle.Render(m.tenantID) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Is knowledged running? Check --addr.") + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	st := m.snapshot.Status
	now := m.now()

	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	lastState := ""
	if st.LastOperation != nil {
		lastState = string(st.LastOperation.State)
	}

	b.WriteString(headerStyle.Render(" knowledged Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s   %s\n",
		valueStyle.Render(m.tenantID),
		stateBadge(lastState),
		dimStyle.Render(lastUpdateStr))

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	if m.lastUpdate.IsZero() {
		b.WriteString("\n" + dimStyle.Render("  waiting for first poll...") + "\n")
		b.WriteString("\n" + footer)
		return containerStyle.Render(b.String())
	}

	// Index
	b.WriteString("\n" + sectionStyle.Render("┃ Index") + "\n")
	if !st.Exists {
		b.WriteString(labelStyle.Render("  Tenant: ") + warningStyle.Render("not provisioned") + "\n")
	}
	b.WriteString(labelStyle.Render("  Namespace: ") + valueStyle.Render(st.Namespace) + "\n")
	b.WriteString(labelStyle.Render("  Vectors: ") +
		valueStyle.Render(FormatCount(st.VectorCount)) +
		dimStyle.Render(fmt.Sprintf(" (peak %s)", FormatCount(m.snapshot.PeakVectors))) +
		"   " + createSparkline(m.snapshot.VectorHistory) + "\n")

	// Sections
	if len(st.Sections) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Sections") + "\n")
		total := 0
		names := make([]string, 0, len(st.Sections))
		for section, ids := range st.Sections {
			total += len(ids)
			names = append(names, string(section))
		}
		sort.Strings(names)
		for _, name := range names {
			n := len(st.Sections[tenant.Section(name)])
			share := 0.0
			if total > 0 {
				share = float64(n) / float64(total)
			}
			fmt.Fprintf(&b, "%s%s %s\n",
				labelStyle.Render(fmt.Sprintf("  %-9s", name)),
				m.sectionProgress.ViewAs(share),
				dimStyle.Render(fmt.Sprintf("%d (%s)", n, FormatPercentage(share))))
		}
	}

	// Last operation
	b.WriteString("\n" + sectionStyle.Render("┃ Last Operation") + "\n")
	if last := st.LastOperation; last != nil {
		b.WriteString(labelStyle.Render("  Kind: ") + valueStyle.Render(string(last.Kind)) +
			"   " + stateBadge(string(last.State)) +
			"   " + dimStyle.Render(FormatAge(now, last.At)) + "\n")
		b.WriteString(labelStyle.Render("  Id: ") + dimStyle.Render(last.OperationID) + "\n")
		if last.Detail != "" {
			b.WriteString(labelStyle.Render("  Detail: ") + valueStyle.Render(last.Detail) + "\n")
		}
	} else {
		b.WriteString(dimStyle.Render("  no operations journaled") + "\n")
	}

	// Journal
	if len(m.snapshot.Journal) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Journal") + "\n")
		for _, op := range m.snapshot.Journal {
			fmt.Fprintf(&b, "  %s %s %s\n",
				dimStyle.Render(fmt.Sprintf("%-10s", FormatAge(now, op.At))),
				labelStyle.Render(fmt.Sprintf("%-16s", op.Kind)),
				stateBadge(op.State))
		}
	}

	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
