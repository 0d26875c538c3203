// Package tui is the terminal surface for reviewing the quarterly cascade:
// targets per domain, expanded missions, the primary-target gate, and the
// daily-action checklist. All mutations go through the planning session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/quarterdeck/internal/plan"
	"github.com/basket/quarterdeck/internal/planning"
)

// Controller is the slice of the planning session the TUI drives.
type Controller interface {
	Snapshot() planning.Snapshot
	SetSelection(d plan.Domain, subset []string)
	SelectPrimary(ctx context.Context, d plan.Domain, isTarget1 bool) error
	ExpandMissions(ctx context.Context) (map[plan.Domain]error, error)
	GenerateDailyActions(ctx context.Context) (map[plan.Domain]error, error)
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	activeTab     = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true).Padding(0, 1)
	gateStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type tickMsg time.Time

type batchDoneMsg struct {
	op       string
	failures map[plan.Domain]error
	err      error
}

type model struct {
	ctrl Controller
	ctx  context.Context

	snap    planning.Snapshot
	domain  int // index into plan.AllDomains
	cursor  int // index into the active domain's action set
	status  string
	lastErr string
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func newModel(ctx context.Context, ctrl Controller) model {
	return model{ctrl: ctrl, ctx: ctx, snap: ctrl.Snapshot()}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.snap = m.ctrl.Snapshot()
		m.clampCursor()
		return m, tickCmd()
	case batchDoneMsg:
		m.snap = m.ctrl.Snapshot()
		m.clampCursor()
		switch {
		case msg.err != nil:
			m.lastErr = msg.err.Error()
			m.status = ""
		case len(msg.failures) > 0:
			m.lastErr = fmt.Sprintf("%s: %d domain(s) failed", msg.op, len(msg.failures))
			m.status = ""
		default:
			m.lastErr = ""
			m.status = msg.op + " done"
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab", "right":
		m.domain = (m.domain + 1) % len(plan.AllDomains)
		m.cursor = 0
	case "shift+tab", "left":
		m.domain = (m.domain + len(plan.AllDomains) - 1) % len(plan.AllDomains)
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.activeActions())-1 {
			m.cursor++
		}
	case " ":
		m.toggleSelection()
	case "1", "2":
		d := m.activeDomain()
		if plan.Gate(m.snap.Targets[d]) == plan.GateUndecided {
			if err := m.ctrl.SelectPrimary(m.ctx, d, msg.String() == "1"); err != nil {
				m.lastErr = err.Error()
			} else {
				m.lastErr = ""
			}
			m.snap = m.ctrl.Snapshot()
		}
	case "e":
		m.status = "expanding missions..."
		return m, m.runBatch("expand", m.ctrl.ExpandMissions)
	case "g":
		m.status = "generating actions..."
		return m, m.runBatch("generate", m.ctrl.GenerateDailyActions)
	}
	return m, nil
}

func (m model) runBatch(op string, fn func(context.Context) (map[plan.Domain]error, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		failures, err := fn(ctx)
		return batchDoneMsg{op: op, failures: failures, err: err}
	}
}

func (m model) activeDomain() plan.Domain {
	return plan.AllDomains[m.domain]
}

func (m model) activeActions() []string {
	return m.snap.ActionSets[m.activeDomain()]
}

func (m *model) clampCursor() {
	if n := len(m.activeActions()); m.cursor >= n {
		m.cursor = 0
	}
}

func (m *model) toggleSelection() {
	d := m.activeDomain()
	actions := m.snap.ActionSets[d]
	if m.cursor >= len(actions) {
		return
	}
	target := actions[m.cursor]

	selected := make(map[string]bool, len(m.snap.Selections[d]))
	for _, sel := range m.snap.Selections[d] {
		selected[sel] = true
	}
	selected[target] = !selected[target]

	// Keep generated order in the stored subset.
	var subset []string
	for _, a := range actions {
		if selected[a] {
			subset = append(subset, a)
		}
	}
	m.ctrl.SetSelection(d, subset)
	m.snap = m.ctrl.Snapshot()
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Quarterdeck — "+m.snap.Period.Display()) + "\n")
	if m.snap.CanProceed {
		b.WriteString(dimStyle.Render("all gates clear") + "\n\n")
	} else {
		b.WriteString(gateStyle.Render("progression blocked: missions missing or gate undecided") + "\n\n")
	}

	var tabs []string
	for i, d := range plan.AllDomains {
		label := string(d)
		if i == m.domain {
			tabs = append(tabs, activeTab.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	b.WriteString(strings.Join(tabs, "") + "\n\n")

	d := m.activeDomain()
	t := m.snap.Targets[d]
	b.WriteString(m.renderTargets(t))
	b.WriteString(m.renderMissions(t))
	b.WriteString(m.renderActions(d))

	if m.status != "" {
		b.WriteString("\n" + dimStyle.Render(m.status) + "\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n" + errorStyle.Render("error: "+m.lastErr) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("tab: domain  space: toggle  e: expand  g: generate  1/2: pick primary  q: quit") + "\n")
	return b.String()
}

func (m model) renderTargets(t plan.Targets) string {
	var b strings.Builder
	if t.Target1 == "" {
		b.WriteString(dimStyle.Render("(no target set)") + "\n\n")
		return b.String()
	}
	b.WriteString("Target 1: " + t.Target1 + "\n")
	if t.Narrative1 != "" {
		b.WriteString(dimStyle.Render("  "+t.Narrative1) + "\n")
	}
	if t.Target2 != "" {
		b.WriteString("Target 2: " + t.Target2 + "\n")
		if t.Narrative2 != "" {
			b.WriteString(dimStyle.Render("  "+t.Narrative2) + "\n")
		}
	}

	switch plan.Gate(t) {
	case plan.GateUndecided:
		b.WriteString(gateStyle.Render("primary target undecided — press 1 or 2") + "\n")
	case plan.GateResolved:
		primary := "target 1"
		if !*t.PrimaryIsTarget1 {
			primary = "target 2"
		}
		b.WriteString(selectedStyle.Render("primary: "+primary) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) renderMissions(t plan.Targets) string {
	if !t.HasMissions() {
		return dimStyle.Render("(no missions — press e to expand)") + "\n\n"
	}
	var b strings.Builder
	months := m.snap.Period.Months()
	for _, month := range months {
		if entry, ok := t.Missions1[month]; ok {
			b.WriteString(fmt.Sprintf("%s: %s\n", month, entry.Mission))
			if entry.Why != "" {
				b.WriteString(dimStyle.Render("  why: "+entry.Why) + "\n")
			}
		}
		if entry, ok := t.Missions2[month]; ok {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [t2] %s: %s", month, entry.Mission)) + "\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) renderActions(d plan.Domain) string {
	actions := m.snap.ActionSets[d]
	if len(actions) == 0 {
		return dimStyle.Render("(no daily actions — press g to generate)") + "\n"
	}

	selected := make(map[string]bool, len(m.snap.Selections[d]))
	for _, sel := range m.snap.Selections[d] {
		selected[sel] = true
	}

	var b strings.Builder
	b.WriteString("Daily actions:\n")
	for i, a := range actions {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		box := "[ ]"
		line := cursor + box + " " + a
		if selected[a] {
			box = "[x]"
			line = cursor + selectedStyle.Render(box+" "+a)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Run starts the cascade review UI and blocks until quit or ctx cancel.
func Run(ctx context.Context, ctrl Controller) error {
	defer bestEffortResetTTY()

	p := tea.NewProgram(newModel(ctx, ctrl))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
