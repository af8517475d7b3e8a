package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emberworks/ember/internal/store"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())

	switch m.mode {
	case modeForm:
		b.WriteString("\n" + m.form.View(m.st) + "\n")
		return b.String()
	case modePicker:
		b.WriteString(m.picker.View(m.st))
		return b.String()
	case modeConfirm:
		b.WriteString(m.renderConfirm())
		return b.String()
	case modeStatus:
		b.WriteString(m.renderStatus())
		return b.String()
	case modeDetail:
		b.WriteString(m.renderDetail())
	default:
		b.WriteString(m.renderList())
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m model) renderHeader() string {
	left := m.st.title.Render("Ember") + m.st.subtle.Render("  project workbench  "+m.cfg.Version)
	if m.thinking {
		spin := spinnerFrames[m.spinnerIdx%len(spinnerFrames)]
		left += "  " + m.st.accent.Render(spin+" working")
	}
	return left + "\n"
}

func (m model) renderList() string {
	var b strings.Builder

	if !m.loaded {
		b.WriteString("\n  Loading projects...\n")
		return b.String()
	}

	b.WriteString(m.st.subtle.Render(fmt.Sprintf("%d projects · %d tags", len(m.snap.Overview), len(m.snap.Tags))))
	b.WriteString("\n\n")

	if len(m.snap.Overview) == 0 {
		b.WriteString(m.st.subtle.Render("  No projects yet. Press n to create one.") + "\n")
		return b.String()
	}

	start, end := m.listWindow(len(m.snap.Overview))
	for i := start; i < end; i++ {
		row := m.snap.Overview[i]
		cursor := "  "
		name := row.Project.Name
		if i == m.cursor {
			cursor = m.st.cursor.Render("▸ ")
			name = m.st.cursor.Render(name)
		}
		done, total := featureStats(row.Features)
		line := fmt.Sprintf("%s%-24s %s", cursor, name, m.st.subtle.Render(fmt.Sprintf("%d/%d done", done, total)))
		if tags := renderTagList(m.st, row.Tags); tags != "" {
			line += "  " + tags
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// listWindow clips the project list to the terminal height, keeping the
// cursor visible.
func (m model) listWindow(n int) (int, int) {
	available := m.height - 7 // header, count line, blank, help, notice
	if available < 3 {
		available = 3
	}
	if n <= available {
		return 0, n
	}
	start := m.cursor - available/2
	if start < 0 {
		start = 0
	}
	if start+available > n {
		start = n - available
	}
	return start, start + available
}

func (m model) renderDetail() string {
	row := m.selectedRow()
	if row == nil {
		return "\n  Project no longer exists.\n"
	}

	var b strings.Builder
	b.WriteString("\n" + m.st.title.Render(row.Project.Name))
	b.WriteString(m.st.subtle.Render("  created " + time.Unix(row.Project.CreatedAt, 0).Format("2006-01-02")))
	b.WriteString("\n")
	if row.Project.Description != nil && *row.Project.Description != "" {
		b.WriteString(m.st.subtle.Render(*row.Project.Description) + "\n")
	}

	b.WriteString("Tags: ")
	if tags := renderTagList(m.st, row.Tags); tags != "" {
		b.WriteString(tags)
	} else {
		b.WriteString(m.st.subtle.Render("(none)"))
	}
	b.WriteString("\n\n")

	done, total := featureStats(row.Features)
	b.WriteString(fmt.Sprintf("Features (%d/%d done):\n", done, total))
	if total == 0 {
		b.WriteString(m.st.subtle.Render("  Nothing yet. Press a to add a feature.") + "\n")
		return b.String()
	}
	for i, f := range row.Features {
		cursor := "  "
		if i == m.featCursor {
			cursor = m.st.cursor.Render("▸ ")
		}
		box := "[ ]"
		text := f.Description
		if f.Completed {
			box = m.st.okText.Render("[x]")
			text = m.st.done.Render(text)
		}
		b.WriteString(fmt.Sprintf("%s%s %s\n", cursor, box, text))
	}
	return b.String()
}

func (m model) renderConfirm() string {
	var b strings.Builder
	b.WriteString("\n  " + m.st.errText.Render(m.confirm.prompt) + "\n\n")
	b.WriteString("  [y] Delete  [n] Cancel\n")
	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder
	b.WriteString("\nStatus  " + m.st.subtle.Render("[t: theme "+m.theme+"]  [any other key: back]") + "\n")
	b.WriteString(strings.Repeat("-", 40) + "\n\n")

	if len(m.snap.Busy) == 0 {
		b.WriteString("In flight: " + m.st.subtle.Render("(none)") + "\n")
	} else {
		kinds := make([]string, 0, len(m.snap.Busy))
		for kind := range m.snap.Busy {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		b.WriteString("In flight: " + m.st.accent.Render(strings.Join(kinds, " ")) + "\n")
	}

	if len(m.snap.Errors) > 0 {
		b.WriteString("\nRecent failures:\n")
		kinds := make([]string, 0, len(m.snap.Errors))
		for kind := range m.snap.Errors {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			f := m.snap.Errors[kind]
			b.WriteString(fmt.Sprintf("  %-16s %s\n", kind, m.st.errText.Render(f.Message)))
		}
	}

	b.WriteString("\nLast backup: ")
	if m.lastBackup != "" {
		b.WriteString(m.lastBackup)
	} else {
		b.WriteString(m.st.subtle.Render("(none this session)"))
	}
	b.WriteString("\n")

	if len(m.activity) > 0 {
		b.WriteString("\nActivity:\n")
		for i := len(m.activity) - 1; i >= 0; i-- {
			entry := m.activity[i]
			age := time.Since(entry.at).Truncate(time.Second)
			line := fmt.Sprintf("  %6s ago  %s", age, entry.line)
			if entry.isErr {
				line = m.st.errText.Render(line)
			} else {
				line = m.st.notice.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func (m model) renderFooter() string {
	var help string
	if m.mode == modeDetail {
		help = "[space] toggle  [a]dd  [x] remove  [t] attach tag  [u] detach  [esc] back  [q]uit"
	} else {
		help = "[enter] open  [n]ew project  [t] new tag  [d]elete  [r]efresh  [s]tatus  [q]uit"
	}

	out := "\n" + m.st.helpBar.Render(help) + "\n"
	if m.notice != "" {
		out += m.st.errText.Render(m.notice) + "\n"
	}
	return out
}

func renderTagList(st styles, tags []store.Tag) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = st.tag.Render("#" + t.Name)
	}
	return strings.Join(parts, " ")
}

func featureStats(feats []store.Feature) (done, total int) {
	for _, f := range feats {
		if f.Completed {
			done++
		}
	}
	return done, len(feats)
}
