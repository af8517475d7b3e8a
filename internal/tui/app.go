// Package tui renders the project workbench. The model never mutates
// application state directly: key presses post request events to the
// dispatcher, and every view is drawn from the latest Snapshot published on
// the bus.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/dispatch"
	"github.com/emberworks/ember/internal/store"
)

// Config carries the wiring the TUI needs from main.
type Config struct {
	Loop    *dispatch.Loop
	Bus     *bus.Bus
	Logger  *slog.Logger
	HomeDir string
	Theme   string
	Version string
}

type busEventMsg struct {
	event bus.Event
}

type ctxDoneMsg struct{}

type spinnerTickMsg struct{}

type viewMode int

const (
	modeList viewMode = iota
	modeDetail
	modeForm
	modePicker
	modeConfirm
	modeStatus
)

// activityKeep bounds the status view's recent-events feed.
const activityKeep = 10

type activityEntry struct {
	at    time.Time
	line  string
	isErr bool
}

type confirmModel struct {
	prompt    string
	projectID int64
}

type model struct {
	ctx   context.Context
	cfg   Config
	st    styles
	theme string

	width  int
	height int

	snap   dispatch.Snapshot
	loaded bool

	thinking   bool
	spinnerIdx int

	mode       viewMode
	cursor     int   // project index in the list view
	selected   int64 // project ID shown in the detail view
	featCursor int

	form    formModel
	picker  pickerModel
	confirm confirmModel

	notice     string
	activity   []activityEntry
	lastBackup string

	sub *bus.Subscription
}

func newModel(ctx context.Context, cfg Config) model {
	theme := cfg.Theme
	if theme == "" {
		theme = "auto"
	}
	m := model{
		ctx:      ctx,
		cfg:      cfg,
		st:       newStyles(theme),
		theme:    theme,
		thinking: true, // initial loads are posted before the program starts
	}
	if cfg.Bus != nil {
		m.sub = cfg.Bus.Subscribe("")
	}
	return m
}

// Run owns the terminal until the user quits or ctx is canceled. The initial
// overview and tag loads are posted before the program starts so the first
// snapshot is already on its way when the screen appears.
func Run(ctx context.Context, cfg Config) error {
	// Bubbletea should restore the terminal on exit, but an interrupt at the
	// wrong moment can leave the TTY in raw mode. Best-effort safety net.
	defer bestEffortResetTTY()

	m := newModel(ctx, cfg)
	cfg.Loop.Post(dispatch.LoadOverviewRequested{})
	cfg.Loop.Post(dispatch.ListTagsRequested{})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	_, err := p.Run()
	if cfg.Bus != nil {
		cfg.Bus.Unsubscribe(m.sub)
	}
	if err != nil && ctx.Err() != nil {
		// Parent cancellation is a normal shutdown; renderer errors from the
		// teardown race are noise.
		return nil
	}
	return err
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitCtxDone(m.ctx), waitForSpinner()}
	if m.sub != nil {
		cmds = append(cmds, waitForBusEvent(m.sub))
	}
	return tea.Batch(cmds...)
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func waitForSpinner() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

// waitForBusEvent blocks until the next bus event for the TUI subscription.
func waitForBusEvent(sub *bus.Subscription) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Ch()
		if !ok {
			return nil // unsubscribed during shutdown
		}
		return busEventMsg{event: event}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case busEventMsg:
		m = m.applyBusEvent(msg.event)
		var cmd tea.Cmd
		if m.sub != nil {
			cmd = waitForBusEvent(m.sub)
		}
		return m, cmd

	case spinnerTickMsg:
		if m.thinking {
			m.spinnerIdx++
			return m, waitForSpinner()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case formSubmittedMsg:
		return m.postForm(msg)

	case formCancelledMsg:
		if m.form.kind == formFeature {
			m.mode = modeDetail
		} else {
			m.mode = modeList
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// postForm turns a completed dialog into the matching request event.
func (m model) postForm(msg formSubmittedMsg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case formProject:
		m.post(dispatch.CreateProjectRequested{Name: msg.name, Description: msg.desc})
		m.mode = modeList
	case formFeature:
		m.post(dispatch.CreateFeatureRequested{ProjectID: msg.projectID, Description: msg.name})
		m.mode = modeDetail
	case formTag:
		m.post(dispatch.CreateTagRequested{Name: msg.name, Color: msg.color})
		m.mode = modeList
	}
	return m, waitForSpinner()
}

// post hands a request to the dispatcher and starts the spinner. The loop
// mailbox is buffered well past anything a single keyboard can produce.
func (m *model) post(ev dispatch.Event) {
	m.cfg.Loop.Post(ev)
	m.thinking = true
	m.notice = ""
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeForm:
		cmd := m.form.Update(msg)
		return m, cmd

	case modePicker:
		m.picker.Update(msg)
		if m.picker.quit {
			m.mode = modeDetail
			return m, nil
		}
		if m.picker.done {
			if m.picker.attach {
				m.post(dispatch.AttachTagRequested{ProjectID: m.picker.projectID, TagID: m.picker.selected})
			} else {
				m.post(dispatch.DetachTagRequested{ProjectID: m.picker.projectID, TagID: m.picker.selected})
			}
			m.mode = modeDetail
			return m, waitForSpinner()
		}
		return m, nil

	case modeConfirm:
		switch msg.String() {
		case "y", "Y", "enter":
			m.post(dispatch.DeleteProjectRequested{ProjectID: m.confirm.projectID})
			m.mode = modeList
			return m, waitForSpinner()
		case "n", "N", "esc":
			m.mode = modeList
			return m, nil
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		}
		return m, nil

	case modeStatus:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "q":
			return m, tea.Quit
		case "t":
			return m.cycleTheme()
		default:
			// Any other key returns to the list.
			m.mode = modeList
			return m, nil
		}

	case modeDetail:
		return m.handleDetailKey(msg)

	default:
		return m.handleListKey(msg)
	}
}

func (m model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Overview)-1 {
			m.cursor++
		}

	case "enter", "l", "right":
		if row := m.rowAt(m.cursor); row != nil {
			m.selected = row.Project.ID
			m.featCursor = 0
			m.mode = modeDetail
			// Refresh the project's features so the detail view is current
			// even if the overview snapshot is stale.
			m.post(dispatch.ListFeaturesRequested{ProjectID: row.Project.ID})
			return m, waitForSpinner()
		}

	case "n":
		m.form = newProjectForm()
		m.mode = modeForm

	case "t":
		m.form = newTagForm()
		m.mode = modeForm

	case "d", "x":
		if row := m.rowAt(m.cursor); row != nil {
			m.confirm = confirmModel{
				prompt:    fmt.Sprintf("Delete project %q and everything in it?", row.Project.Name),
				projectID: row.Project.ID,
			}
			m.mode = modeConfirm
		}

	case "r":
		m.post(dispatch.LoadOverviewRequested{})
		m.post(dispatch.ListTagsRequested{})
		return m, waitForSpinner()

	case "s":
		m.mode = modeStatus
	}
	return m, nil
}

func (m model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	row := m.selectedRow()
	if row == nil {
		// The project vanished under us (racing delete); fall back.
		m.mode = modeList
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "ctrl+d", "q":
		return m, tea.Quit

	case "esc", "h", "left", "backspace":
		m.mode = modeList
		return m, nil

	case "up", "k":
		if m.featCursor > 0 {
			m.featCursor--
		}
	case "down", "j":
		if m.featCursor < len(row.Features)-1 {
			m.featCursor++
		}

	case " ", "enter":
		if m.featCursor < len(row.Features) {
			f := row.Features[m.featCursor]
			m.post(dispatch.SetFeatureCompletedRequested{FeatureID: f.ID, Completed: !f.Completed})
			return m, waitForSpinner()
		}

	case "a":
		m.form = newFeatureForm(row.Project.ID)
		m.mode = modeForm

	case "x":
		if m.featCursor < len(row.Features) {
			m.post(dispatch.RemoveFeatureRequested{FeatureID: row.Features[m.featCursor].ID})
			return m, waitForSpinner()
		}

	case "t":
		m.picker = newAttachPicker(row.Project.ID, unattachedTags(m.snap.Tags, row.Tags))
		m.mode = modePicker

	case "u":
		m.picker = newDetachPicker(row.Project.ID, row.Tags)
		m.mode = modePicker

	case "s":
		m.mode = modeStatus
	}
	return m, nil
}

// cycleTheme steps auto -> dark -> light and persists the choice so the next
// session starts with it. The config watcher sees the write and reloads.
func (m model) cycleTheme() (tea.Model, tea.Cmd) {
	next := "auto"
	switch m.theme {
	case "auto":
		next = "dark"
	case "dark":
		next = "light"
	}
	if err := config.SetTheme(m.cfg.HomeDir, next); err != nil {
		m.notice = "Could not save theme: " + humanMessage(err.Error())
		return m, nil
	}
	m.theme = next
	m.st = newStyles(next)
	m = m.pushActivity("theme set to "+next, false)
	return m, nil
}

// applyBusEvent folds one bus event into the model: snapshots replace the
// rendered state, lifecycle and maintenance events feed the notice line and
// the status view's activity feed.
func (m model) applyBusEvent(ev bus.Event) model {
	switch ev.Topic {
	case bus.TopicStateUpdated:
		snap, ok := ev.Payload.(dispatch.Snapshot)
		if !ok {
			return m
		}
		m.snap = snap
		m.loaded = true
		m.thinking = len(snap.Busy) > 0
		m = m.clampCursors()

	case bus.TopicTaskCompleted:
		if tl, ok := ev.Payload.(bus.TaskLifecycleEvent); ok {
			m = m.pushActivity(fmt.Sprintf("%s ok (%dms)", tl.Kind, tl.DurationMS), false)
		}

	case bus.TopicTaskFailed, bus.TopicTaskRejected:
		if tl, ok := ev.Payload.(bus.TaskLifecycleEvent); ok {
			m.notice = humanMessage(tl.Err)
			m = m.pushActivity(fmt.Sprintf("%s failed: %s", tl.Kind, tl.Err), true)
		}

	case bus.TopicBackupCompleted:
		if be, ok := ev.Payload.(bus.BackupEvent); ok {
			m.lastBackup = fmt.Sprintf("%s (%d KiB)", be.Path, be.SizeBytes/1024)
			m = m.pushActivity(fmt.Sprintf("backup written: %s", be.Path), false)
		}

	case bus.TopicBackupFailed:
		if be, ok := ev.Payload.(bus.BackupEvent); ok {
			m.notice = "Backup failed: " + humanMessage(be.Err)
			m = m.pushActivity("backup failed: "+be.Err, true)
		}

	case bus.TopicIntegrityChecked:
		if ie, ok := ev.Payload.(bus.IntegrityEvent); ok {
			if ie.Healthy {
				m = m.pushActivity("integrity check ok", false)
			} else {
				m.notice = "Integrity check failed: " + ie.Detail
				m = m.pushActivity("integrity check failed: "+ie.Detail, true)
			}
		}

	case bus.TopicConfigReloaded:
		m = m.pushActivity("config reloaded", false)
	}
	return m
}

func (m model) pushActivity(line string, isErr bool) model {
	m.activity = append(m.activity, activityEntry{at: time.Now(), line: line, isErr: isErr})
	if len(m.activity) > activityKeep {
		m.activity = m.activity[len(m.activity)-activityKeep:]
	}
	return m
}

// clampCursors keeps selections valid after a snapshot shrinks the lists.
func (m model) clampCursors() model {
	if m.cursor >= len(m.snap.Overview) {
		m.cursor = len(m.snap.Overview) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.mode == modeDetail {
		row := m.selectedRow()
		if row == nil {
			m.mode = modeList
			return m
		}
		if m.featCursor >= len(row.Features) {
			m.featCursor = len(row.Features) - 1
		}
		if m.featCursor < 0 {
			m.featCursor = 0
		}
	}
	return m
}

func (m model) rowAt(i int) *store.ProjectOverview {
	if i < 0 || i >= len(m.snap.Overview) {
		return nil
	}
	return &m.snap.Overview[i]
}

func (m model) selectedRow() *store.ProjectOverview {
	for i := range m.snap.Overview {
		if m.snap.Overview[i].Project.ID == m.selected {
			return &m.snap.Overview[i]
		}
	}
	return nil
}

// unattachedTags returns all tags not currently attached to the project, in
// the all-tags (name) order.
func unattachedTags(all, attached []store.Tag) []store.Tag {
	have := make(map[int64]bool, len(attached))
	for _, t := range attached {
		have[t.ID] = true
	}
	var out []store.Tag
	for _, t := range all {
		if !have[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
