// Package tui provides the interactive terminal UI for editem.
//
// The bubbletea Update method is the event loop of the client: key
// presses, pushed frames and request outcomes all arrive there as messages
// and are the only path into the reconciler.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/knaw-huc/editem/internal/dispatch"
	"github.com/knaw-huc/editem/internal/elapsed"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/reconciler"
)

// Backend is the server as seen by the UI.
type Backend interface {
	dispatch.Requester
	ListTasks(ctx context.Context) ([]string, error)
}

// Config configures an App.
type Config struct {
	Backend Backend
	// Tasks declares the panes. Empty means ask the server.
	Tasks   []string
	Project string
	Tracker *elapsed.Tracker
	Logger  *slog.Logger
}

// App is the main TUI application model.
type App struct {
	ctx     context.Context
	backend Backend
	rec     *reconciler.Reconciler
	sink    *reconciler.MemorySink
	disp    *dispatch.Dispatcher
	logger  *slog.Logger
	events  <-chan tea.Msg

	keys     keyMap
	help     help.Model
	viewport viewport.Model
	spinner  spinner.Model

	selected  int
	width     int
	height    int
	connected bool
	message   string
}

type pushMsg struct {
	msg push.Message
}

type outcomeMsg struct {
	outcome dispatch.Outcome
}

type tasksLoadedMsg struct {
	tasks []string
}

type connectedMsg struct{}

type disconnectedMsg struct {
	err error
}

type errMsg struct {
	err error
}

type channelClosedMsg struct{}

// New creates a new TUI application.
func New(ctx context.Context, cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sink := reconciler.NewMemorySink()
	rec := reconciler.New(cfg.Tasks, sink, reconciler.Options{
		Project: cfg.Project,
		Dynamic: len(cfg.Tasks) == 0,
		Tracker: cfg.Tracker,
		Logger:  logger,
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		ctx:      ctx,
		backend:  cfg.Backend,
		rec:      rec,
		sink:     sink,
		disp:     dispatch.New(cfg.Backend, rec, sink, logger),
		logger:   logger,
		keys:     defaultKeys,
		help:     help.New(),
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
}

// Run starts the TUI. sub feeds the push channel until ctx is done.
func (a *App) Run(sub *push.Subscriber) error {
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	events := make(chan tea.Msg, 64)
	a.events = events
	go a.subscribe(ctx, sub, events)

	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (a *App) subscribe(ctx context.Context, sub *push.Subscriber, events chan<- tea.Msg) {
	frames := make(chan push.Message, 64)
	done := make(chan error, 1)
	sub.OnReady(func() {
		select {
		case events <- connectedMsg{}:
		case <-ctx.Done():
		}
	})
	go func() { done <- sub.Run(ctx, frames) }()

	for {
		select {
		case m := <-frames:
			select {
			case events <- pushMsg{m}:
			case <-ctx.Done():
				return
			}
		case err := <-done:
			select {
			case events <- disconnectedMsg{err}:
			case <-ctx.Done():
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func listenForEvents(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return msg
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick, listenForEvents(a.events)}
	if len(a.rec.Tasks()) == 0 {
		cmds = append(cmds, a.fetchTasks())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Up):
			if a.selected > 0 {
				a.selected--
			}
		case key.Matches(msg, a.keys.Down):
			if a.selected < len(a.rec.Tasks())-1 {
				a.selected++
			}
		case key.Matches(msg, a.keys.Start):
			cmds = append(cmds, a.send(models.ActionStart))
		case key.Matches(msg, a.keys.Kill):
			cmds = append(cmds, a.send(models.ActionKill))
		case key.Matches(msg, a.keys.Help):
			a.help.ShowAll = !a.help.ShowAll
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.viewport.Width = max(msg.Width-a.listWidth()-4, 20)
		a.viewport.Height = max(msg.Height-6, 5)

	case pushMsg:
		a.handlePush(msg.msg)
		cmds = append(cmds, listenForEvents(a.events))

	case connectedMsg:
		a.connected = true
		cmds = append(cmds, listenForEvents(a.events))

	case disconnectedMsg:
		a.connected = false
		if msg.err != nil {
			a.message = "Error: push channel closed: " + msg.err.Error()
			a.logger.Error("push channel closed", "err", msg.err)
		}

	case channelClosedMsg:
		a.connected = false

	case outcomeMsg:
		if err := a.disp.Handle(msg.outcome); err != nil {
			a.logger.Warn("response rejected", "task", msg.outcome.Task, "err", err)
		}

	case tasksLoadedMsg:
		for _, t := range msg.tasks {
			a.rec.Declare(t)
		}

	case errMsg:
		a.message = "Error: " + msg.err.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	a.refreshViewport()
	return a, tea.Batch(cmds...)
}

func (a *App) handlePush(m push.Message) {
	var err error
	switch {
	case m.Status != nil:
		err = a.rec.Apply(*m.Status)
	case m.Progress != nil:
		err = a.rec.Progress(*m.Progress)
	}
	if err != nil {
		a.logger.Warn("event rejected", "err", err)
	}
}

// send issues a request for the selected task. The request itself runs as
// a command; its outcome comes back as an outcomeMsg.
func (a *App) send(action models.Action) tea.Cmd {
	task, ok := a.selectedTask()
	if !ok {
		return nil
	}
	call := a.disp.Send(a.ctx, task, action)
	return func() tea.Msg {
		return outcomeMsg{call()}
	}
}

func (a *App) fetchTasks() tea.Cmd {
	return func() tea.Msg {
		tasks, err := a.backend.ListTasks(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) selectedTask() (string, bool) {
	tasks := a.rec.Tasks()
	if len(tasks) == 0 {
		return "", false
	}
	if a.selected >= len(tasks) {
		a.selected = len(tasks) - 1
	}
	return tasks[a.selected], true
}

func (a *App) refreshViewport() {
	task, ok := a.selectedTask()
	if !ok {
		a.viewport.SetContent("")
		return
	}
	a.viewport.SetContent(a.renderPane(task))
	a.viewport.GotoBottom()
}

func (a *App) renderPane(task string) string {
	p := a.sink.Pane(task)

	var b strings.Builder
	b.WriteString(Render(p.Status.Style, p.Status.Text) + "\n")
	b.WriteString(Render(p.Actor.Style, p.Actor.Text) + "\n")
	b.WriteString(strings.Repeat("─", max(a.viewport.Width-2, 10)) + "\n")
	for _, l := range p.Log {
		b.WriteString(Render(l.Style, l.Text) + "\n")
	}
	return b.String()
}

func (a *App) listWidth() int {
	w := 12
	for _, t := range a.rec.Tasks() {
		w = max(w, len([]rune(t))+8)
	}
	return w
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	conn := onlineStyle.Render("● LIVE")
	if !a.connected {
		conn = offlineStyle.Render("○ OFFLINE")
	}
	header := titleStyle.Render("editem") + "  " + conn
	if p := a.rec.Project(); p != "" {
		header += "  " + projectStyle.Render(fmt.Sprintf("[project %s]", p))
	}
	b.WriteString(header + "\n")

	list := panelStyle.Width(a.listWidth()).Render(a.renderTaskList())
	pane := panelStyle.Render(a.viewport.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list, pane) + "\n")

	if a.message != "" {
		b.WriteString(Render(reconciler.StyleError, a.message) + "\n")
	}
	b.WriteString(a.help.View(a.keys))
	return b.String()
}

func (a *App) renderTaskList() string {
	tasks := a.rec.Tasks()
	if len(tasks) == 0 {
		return "Loading tasks..."
	}

	lines := make([]string, 0, len(tasks))
	for i, t := range tasks {
		state := a.rec.State(t)
		glyph := stateGlyph(state.String())
		if state.Running() {
			glyph = a.spinner.View()
		}
		if i == a.selected {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s %s", glyph, t)))
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s %s", glyph, t)))
		}
	}
	return strings.Join(lines, "\n")
}
