// Package ui renders live progress of bulk model building in the terminal.
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"grism/internal/pipeline"
)

// maxActive bounds the number of in-flight objects listed.
const maxActive = 8

type progressModel struct {
	title      string
	events     <-chan pipeline.Event
	spinner    spinner.Model
	prog       progress.Model
	objects    map[string]*objectItem
	order      []string
	stageLabel string
	width      int
	done       bool
}

type objectItem struct {
	name   string
	status pipeline.Status
	stage  pipeline.Stage
	err    error
}

type eventMsg pipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders per-object
// progress from events until the channel is closed.
func NewProgressModel(title string, objects []string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	m := &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		objects: make(map[string]*objectItem, len(objects)),
		width:   80,
	}
	for _, name := range objects {
		m.track(name)
	}
	return m
}

func (m *progressModel) track(name string) *objectItem {
	if it, ok := m.objects[name]; ok {
		return it
	}
	it := &objectItem{name: name, status: pipeline.StatusQueued}
	m.objects[name] = it
	m.order = append(m.order, name)
	return it
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(pipeline.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	counts := m.counts()
	b.WriteString("  ")
	for i, st := range []pipeline.Status{pipeline.StatusQueued, pipeline.StatusWorking, pipeline.StatusDone, pipeline.StatusSkipped, pipeline.StatusError} {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(styleStatus(st).Render(fmt.Sprintf("%s %d", st, counts[st])))
	}
	b.WriteString("\n\n")

	nameWidth := max(m.width-18, 20)
	for _, it := range m.visible() {
		label := statusLabel(it.stage, it.status)
		line := fmt.Sprintf("  %s object %s", styleStatus(it.status).Render(runewidth.FillLeft(label, 12)), truncate(it.name, nameWidth))
		if it.err != nil {
			line += ": " + truncate(it.err.Error(), nameWidth)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

// visible lists working objects, then failures, at most maxActive.
func (m *progressModel) visible() []*objectItem {
	var working, failed []*objectItem
	for _, name := range m.order {
		it := m.objects[name]
		switch it.status {
		case pipeline.StatusWorking:
			working = append(working, it)
		case pipeline.StatusError:
			failed = append(failed, it)
		}
	}
	out := append(working, failed...)
	if len(out) > maxActive {
		out = out[:maxActive]
	}
	return out
}

func (m *progressModel) counts() map[pipeline.Status]int {
	c := make(map[pipeline.Status]int, 5)
	for _, it := range m.objects {
		c[it.status]++
	}
	return c
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev pipeline.Event) tea.Cmd {
	if ev.Object == "" {
		m.stageLabel = stageLabel(ev.Stage)
		return nil
	}
	it := m.track(ev.Object)
	it.stage = ev.Stage
	it.status = ev.Status
	if ev.Err != nil {
		it.err = ev.Err
	}
	return m.prog.SetPercent(m.fraction())
}

// fraction weights each object by how far along the build it is.
func (m *progressModel) fraction() float64 {
	if len(m.objects) == 0 {
		return 0
	}
	total := 0.0
	for _, it := range m.objects {
		total += progressOf(it)
	}
	return total / float64(len(m.objects))
}

func progressOf(it *objectItem) float64 {
	switch it.status {
	case pipeline.StatusSkipped, pipeline.StatusError:
		return 1
	case pipeline.StatusDone:
		if it.stage == pipeline.StageBuild {
			return 0.8
		}
		return 1
	case pipeline.StatusWorking:
		switch it.stage {
		case pipeline.StageGeometry:
			return 0.1
		case pipeline.StageBuild:
			return 0.4
		case pipeline.StageComposite, pipeline.StageFit:
			return 0.9
		}
	}
	return 0
}

func statusLabel(stage pipeline.Stage, status pipeline.Status) string {
	if status == pipeline.StatusWorking {
		if l := stageLabel(stage); l != "" {
			return l
		}
	}
	return string(status)
}

func stageLabel(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageLoad:
		return "loading"
	case pipeline.StageGeometry:
		return "locating"
	case pipeline.StageBuild:
		return "dispersing"
	case pipeline.StageComposite:
		return "compositing"
	case pipeline.StageFit:
		return "fitting"
	case pipeline.StageSave:
		return "saving"
	default:
		return ""
	}
}

func styleStatus(status pipeline.Status) lipgloss.Style {
	switch status {
	case pipeline.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case pipeline.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case pipeline.StatusSkipped:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case pipeline.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}

// SortObjects orders object labels numerically when they are ids.
func SortObjects(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
}
