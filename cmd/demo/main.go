package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/relocate"
	"github.com/kass/go-geo-anchor/pkg/relocation"
)

// Config structure for YAML configuration
type Config struct {
	Demo struct {
		Anchors         int     `yaml:"anchors"`
		Steps           int     `yaml:"steps"`
		StepMeters      float64 `yaml:"step_meters"`
		ThresholdMeters float64 `yaml:"threshold_meters"`
		CenterLat       float64 `yaml:"center_lat"`
		CenterLon       float64 `yaml:"center_lon"`
		StepDelayMs     int     `yaml:"step_delay_ms"`
	} `yaml:"demo"`
}

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))
)

type stage int

const (
	stageSeeding stage = iota
	stageWalking
	stageDone
)

type model struct {
	stage           stage
	spinner         spinner.Model
	progress        progress.Model
	progressPercent float64

	// Seeding stats
	anchorsSeeded int
	seedTime      time.Duration

	// Walk state
	steps     []walkStep
	crossings int
	returns   int
	resolved  int

	width  int
	height int
}

type walkStep struct {
	step     int
	event    proximity.Event
	state    proximity.State
	distance float64
	assets   int
}

type progressMsg float64

type seededMsg struct {
	anchors  int
	duration time.Duration
}

type stepMsg walkStep

type walkDoneMsg struct{}

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	p := progress.New(progress.WithDefaultGradient())

	return model{
		stage:    stageSeeding,
		spinner:  s,
		progress: p,
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		runDemo(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 10
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case progressMsg:
		m.progressPercent = float64(msg)
		return m, m.progress.SetPercent(float64(msg))

	case seededMsg:
		m.anchorsSeeded = msg.anchors
		m.seedTime = msg.duration
		m.stage = stageWalking
		m.progressPercent = 0
		return m, m.progress.SetPercent(0)

	case stepMsg:
		m.steps = append(m.steps, walkStep(msg))
		if len(m.steps) > 10 {
			m.steps = m.steps[1:]
		}
		switch msg.event {
		case proximity.EventBoundaryCrossed:
			m.crossings++
			m.resolved += msg.assets
		case proximity.EventReturnedInRange:
			m.returns++
		}
		return m, nil

	case walkDoneMsg:
		m.stage = stageDone
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🌍 Geo-Anchor Demo"))
	b.WriteString("\n\n")

	switch m.stage {
	case stageSeeding:
		b.WriteString(subtitleStyle.Render("Seeding Anchors"))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " Placing anchors around the start position...\n\n")
		b.WriteString(m.progress.ViewAs(m.progressPercent))

	case stageWalking:
		b.WriteString(subtitleStyle.Render("Walking the Observer"))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " Feeding position samples into the tracker...\n\n")
		b.WriteString(m.progress.ViewAs(m.progressPercent))
		b.WriteString("\n\n")
		b.WriteString(renderSteps(m.steps))

	case stageDone:
		b.WriteString(renderSummary(m))
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("Press 'q' to quit"))

	return b.String()
}

func renderSteps(steps []walkStep) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("Recent events:"))
	b.WriteString("\n")

	for _, s := range steps {
		line := fmt.Sprintf("step %2d  d=%7.2f m  %-16s %s", s.step, s.distance, s.event, s.state)
		switch s.event {
		case proximity.EventBoundaryCrossed:
			line = errorStyle.Render(line) + infoStyle.Render(fmt.Sprintf("  → %d assets relocated", s.assets))
		case proximity.EventReturnedInRange:
			line = successStyle.Render(line)
		default:
			line = dimStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderSummary(m model) string {
	summary := titleStyle.Render("🎉 Demo Complete!")
	summary += "\n\n"

	summary += infoStyle.Render("The relocation engine demonstrated:")
	summary += "\n\n"

	features := []string{
		fmt.Sprintf("• Anchors indexed: %s in %s", statStyle.Render(fmt.Sprintf("%d", m.anchorsSeeded)), statStyle.Render(m.seedTime.String())),
		fmt.Sprintf("• Boundary crossings: %s", statStyle.Render(fmt.Sprintf("%d", m.crossings))),
		fmt.Sprintf("• Returns in range: %s", statStyle.Render(fmt.Sprintf("%d", m.returns))),
		fmt.Sprintf("• Observer vectors resolved: %s", statStyle.Render(fmt.Sprintf("%d", m.resolved))),
	}

	for _, feature := range features {
		summary += successStyle.Render(feature) + "\n"
	}

	summary += "\n"
	summary += boxStyle.Render(
		infoStyle.Render("Every crossing refreshed the nearby anchors and re-expressed\n") +
			infoStyle.Render("their creator vectors in the observer's local ENU frame."))

	return summary
}

var program *tea.Program

func runDemo() tea.Cmd {
	return func() tea.Msg {
		go executeDemo()
		return nil
	}
}

func executeDemo() {
	center := models.GeodeticPosition{
		Latitude:  config.Demo.CenterLat,
		Longitude: config.Demo.CenterLon,
		Height:    370,
	}

	// Seed phase
	start := time.Now()
	idx := index.NewAnchorIndex()
	anchors := seedAnchors(center, config.Demo.Anchors, func(done, total int) {
		program.Send(progressMsg(float64(done) / float64(total)))
	})
	if err := idx.Insert(anchors); err != nil {
		log.Printf("Error indexing anchors: %v", err)
	}
	program.Send(seededMsg{anchors: int(idx.Count()), duration: time.Since(start)})

	// Walk phase
	cfg := relocation.DefaultConfig()
	cfg.BoundaryThresholdMeters = config.Demo.ThresholdMeters
	svc := relocation.NewService(cfg, idx, nil, nil)
	sess := svc.NewSession()

	delay := time.Duration(config.Demo.StepDelayMs) * time.Millisecond
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	pos := center
	for i := 0; i <= config.Demo.Steps; i++ {
		update, err := svc.HandleSample(sess, pos.Latitude, pos.Longitude)
		if err == nil {
			program.Send(stepMsg{
				step:     i,
				event:    update.Event,
				state:    update.State,
				distance: update.DistanceMeters,
				assets:   len(update.ResolvedAssets),
			})
		}
		program.Send(progressMsg(float64(i) / float64(config.Demo.Steps)))

		pos = nextStep(r, pos, sess)
		time.Sleep(delay)
	}

	program.Send(walkDoneMsg{})
}

// stepFrom moves a position by a small ENU offset.
func stepFrom(pos models.GeodeticPosition, east, north float64) (models.GeodeticPosition, error) {
	return geodesy.SmallOffsetApprox(pos, models.EnuVector{East: east, North: north})
}

// seedAnchors places anchors with their creators scattered around the
// center and their objects a few meters from each creator.
func seedAnchors(center models.GeodeticPosition, n int, onProgress func(done, total int)) []*models.Anchor {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	anchors := make([]*models.Anchor, 0, n)

	for i := 0; i < n; i++ {
		creator, err := geodesy.SmallOffsetApprox(center, models.EnuVector{
			East:  (r.Float64()*2 - 1) * 600,
			North: (r.Float64()*2 - 1) * 600,
		})
		if err != nil {
			continue
		}

		vector := models.EnuVector{
			East:  (r.Float64()*2 - 1) * 15,
			North: (r.Float64()*2 - 1) * 15,
			Up:    r.Float64() * 2,
		}
		object, err := relocate.DeriveObjectPosition(creator, vector)
		if err != nil {
			continue
		}

		anchors = append(anchors, &models.Anchor{
			ID:              uuid.NewString(),
			CreatorPosition: creator,
			CreatorToObject: vector,
			ObjectPosition:  object,
		})

		if onProgress != nil && i%50 == 0 {
			onProgress(i, n)
		}
	}
	if onProgress != nil {
		onProgress(n, n)
	}
	return anchors
}

var config Config

func loadConfig() error {
	data, err := os.ReadFile("config.yaml")
	if err != nil {
		data, err = os.ReadFile("config.yaml.example")
		if err != nil {
			return fmt.Errorf("config.yaml not found. Please copy config.yaml.example to config.yaml")
		}
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Demo.Anchors <= 0 {
		config.Demo.Anchors = 500
	}
	if config.Demo.Steps <= 0 {
		config.Demo.Steps = 40
	}
	if config.Demo.StepMeters <= 0 {
		config.Demo.StepMeters = 12
	}
	if config.Demo.ThresholdMeters <= 0 {
		config.Demo.ThresholdMeters = 50
	}
	if config.Demo.CenterLat == 0 && config.Demo.CenterLon == 0 {
		config.Demo.CenterLat = 49.2781
		config.Demo.CenterLon = -122.9199
	}
	if config.Demo.StepDelayMs <= 0 {
		config.Demo.StepDelayMs = 120
	}
	return nil
}

func main() {
	if err := loadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Pipes and CI logs get the plain renderer.
	plain := !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
	if len(os.Args) > 1 && os.Args[1] == "--plain" {
		plain = true
	}
	if plain {
		runPlainDemo()
		return
	}

	program = tea.NewProgram(initialModel())
	if _, err := program.Run(); err != nil {
		log.Fatal(err)
	}
}
