package report

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// StatusFunc fetches the current state of a batch.
type StatusFunc func(ctx context.Context) (events.BatchState, error)

// Model is the BubbleTea model behind Follow.
type Model struct {
	batchID  string
	total    int
	interval time.Duration
	fetch    StatusFunc

	state      events.BatchState
	lastDone   int
	throughput []float64
	lastUpdate time.Time
	err        error
	quitting   bool

	bar progress.Model
}

// NewModel creates a live view of a batch of total points.
func NewModel(batchID string, total int, interval time.Duration, fetch StatusFunc) Model {
	return Model{
		batchID:    batchID,
		total:      total,
		interval:   interval,
		fetch:      fetch,
		throughput: make([]float64, 0, historySize),
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Follow runs the live view until the batch stops, the user quits or ctx is
// done.
func Follow(ctx context.Context, m Model) error {
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	return err
}

type tickMsg time.Time
type stateMsg events.BatchState
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), m.poll())
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := m.fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return stateMsg(s)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), m.poll())

	case stateMsg:
		m.state = events.BatchState(msg)
		done := m.done()
		m.throughput = appendToHistory(m.throughput, float64(done-m.lastDone))
		m.lastDone = done
		m.lastUpdate = time.Now()
		m.err = nil
		if m.state.Done() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}
	return m, nil
}

// done counts points that reached a terminal status.
func (m Model) done() int {
	n := 0
	for _, s := range m.state.Points {
		if s == pipeline.StatusCompleted || s == pipeline.StatusFailed {
			n++
		}
	}
	return n
}

func (m Model) fraction() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done())/float64(m.total), 1)
}

// View renders the live view.
func (m Model) View() string {
	if m.quitting && !m.state.Done() {
		return ""
	}

	content := headerStyle.Render(" Watershed batch "+m.batchID+" ") + "\n"
	if m.err != nil {
		content += "\n" + errorStyle.Render("⚠ Cannot fetch batch status") + "\n"
		content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
		content += footerStyle.Render("[q] quit") + "\n"
		return containerStyle.Render(content)
	}

	status := string(m.state.Status)
	if status == "" {
		status = "waiting"
	}
	lastUpdate := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	content += dimStyle.Render("Status: ") + valueStyle.Render(status) + "   " + dimStyle.Render(lastUpdate) + "\n"

	content += "\n" + sectionStyle.Render("┃ Progress") + "\n"
	content += labelStyle.Render("  Points: ") +
		valueStyle.Render(fmt.Sprintf("%d / %d", m.done(), m.total)) + "\n"
	content += "  " + m.bar.ViewAs(m.fraction()) + " " + dimStyle.Render(FormatPercentage(m.fraction())) + "\n"

	content += "\n" + sectionStyle.Render("┃ Throughput") + "\n"
	content += "  " + createSparkline(m.throughput) + "\n"

	counts := make(map[pipeline.Status]int)
	for _, s := range m.state.Points {
		counts[s]++
	}
	content += "\n" + sectionStyle.Render("┃ Stages") + "\n"
	for _, s := range []pipeline.Status{
		pipeline.StatusStarted, pipeline.StatusLocated, pipeline.StatusResolved,
		pipeline.StatusRefined, pipeline.StatusCompleted, pipeline.StatusFailed,
	} {
		content += labelStyle.Render(fmt.Sprintf("  %-10s", s)) + valueStyle.Render(fmt.Sprintf("%d", counts[s])) + "\n"
	}

	content += footerStyle.Render("[q] quit") + "\n"
	return containerStyle.Render(content)
}

// appendToHistory appends a value to history, maintaining max size.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data.
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
