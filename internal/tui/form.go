package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/emberworks/ember/internal/store"
)

// formKind selects which create dialog is open.
type formKind int

const (
	formProject formKind = iota
	formFeature
	formTag
)

// tagColorOptions cycle through the tag color field; "none" stores NULL.
var tagColorOptions = []string{"none", "red", "amber", "green", "blue", "violet"}

// formSubmittedMsg carries a completed dialog back to the app model, which
// turns it into the matching request event.
type formSubmittedMsg struct {
	kind      formKind
	name      string
	desc      *string
	color     *string
	projectID int64
}

type formCancelledMsg struct{}

// formModel is the shared create dialog. Tab/Down walk the fields, Enter on
// the button submits, Esc cancels. Text fields take printable runes only.
type formModel struct {
	kind       formKind
	focusIndex int

	name      string
	desc      string
	colorIdx  int
	projectID int64

	err string
}

func newProjectForm() formModel {
	return formModel{kind: formProject}
}

func newFeatureForm(projectID int64) formModel {
	return formModel{kind: formFeature, projectID: projectID}
}

func newTagForm() formModel {
	return formModel{kind: formTag}
}

// fieldCount is the number of focus stops including the submit button.
func (f formModel) fieldCount() int {
	switch f.kind {
	case formProject:
		return 3 // name, description, button
	case formTag:
		return 3 // name, color, button
	default:
		return 2 // description, button
	}
}

func (f formModel) buttonIndex() int { return f.fieldCount() - 1 }

func (f *formModel) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		return func() tea.Msg { return formCancelledMsg{} }
	case "tab", "down":
		f.focusIndex = (f.focusIndex + 1) % f.fieldCount()
		return nil
	case "shift+tab", "up":
		f.focusIndex = (f.focusIndex + f.fieldCount() - 1) % f.fieldCount()
		return nil
	case "enter":
		if f.focusIndex == f.buttonIndex() {
			return f.submit()
		}
		f.focusIndex = (f.focusIndex + 1) % f.fieldCount()
		return nil
	case "left", "right":
		if f.kind == formTag && f.focusIndex == 1 {
			n := len(tagColorOptions)
			if msg.String() == "left" {
				f.colorIdx = (f.colorIdx - 1 + n) % n
			} else {
				f.colorIdx = (f.colorIdx + 1) % n
			}
		}
		return nil
	case "backspace":
		switch {
		case f.focusIndex == 0:
			f.name = trimLastRune(f.name)
		case f.kind == formProject && f.focusIndex == 1:
			f.desc = trimLastRune(f.desc)
		}
		return nil
	default:
		// Chorded keys stringify as names ("ctrl+a"); only real rune input
		// and the space key may reach a text field.
		if msg.Type != tea.KeyRunes && msg.String() != " " {
			return nil
		}
		var target *string
		switch {
		case f.focusIndex == 0:
			target = &f.name
		case f.kind == formProject && f.focusIndex == 1:
			target = &f.desc
		default:
			return nil
		}
		for _, r := range msg.String() {
			if r >= 0x20 && r != 0x7f {
				*target += string(r)
			}
		}
	}
	return nil
}

func (f *formModel) submit() tea.Cmd {
	name := strings.TrimSpace(f.name)
	if name == "" {
		switch f.kind {
		case formProject:
			f.err = "Project name is required"
		case formFeature:
			f.err = "Feature description is required"
		default:
			f.err = "Tag name is required"
		}
		return nil
	}

	out := formSubmittedMsg{kind: f.kind, name: name, projectID: f.projectID}
	if f.kind == formProject {
		if desc := strings.TrimSpace(f.desc); desc != "" {
			out.desc = &desc
		}
	}
	if f.kind == formTag && f.colorIdx > 0 {
		color := tagColorOptions[f.colorIdx]
		out.color = &color
	}
	return func() tea.Msg { return out }
}

func (f formModel) title() string {
	switch f.kind {
	case formProject:
		return "New Project"
	case formFeature:
		return "New Feature"
	default:
		return "New Tag"
	}
}

func (f formModel) View(st styles) string {
	mk := func(idx int) string {
		if f.focusIndex == idx {
			return st.accent.Render("▸ ")
		}
		return "  "
	}

	var b strings.Builder
	b.WriteString(st.title.Render(f.title()) + "\n\n")

	switch f.kind {
	case formProject:
		b.WriteString(mk(0) + "Name:        [ " + f.name + " ]\n")
		descPreview := f.desc
		if len(descPreview) > 32 {
			descPreview = descPreview[:32] + "..."
		}
		b.WriteString(mk(1) + "Description: [ " + descPreview + " ]\n")
	case formFeature:
		b.WriteString(mk(0) + "Description: [ " + f.name + " ]\n")
	case formTag:
		b.WriteString(mk(0) + "Name:  [ " + f.name + " ]\n")
		b.WriteString(mk(1) + "Color: [ ◀ " + tagColorOptions[f.colorIdx] + " ▶ ]\n")
	}

	b.WriteString("\n")
	label := "[ Create ]"
	if f.kind == formFeature {
		label = "[ Add ]"
	}
	if f.focusIndex == f.buttonIndex() {
		label = st.accent.Render(label)
	}
	b.WriteString("  " + label + st.subtle.Render("  (Esc to cancel)") + "\n")
	if f.err != "" {
		b.WriteString("\n" + st.formErr.Render("  ⚠ "+f.err))
	}
	return st.formBox.Render(b.String())
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return string(r[:len(r)-1])
}

// pickerModel lists tags to attach to or detach from one project.
type pickerModel struct {
	tags      []store.Tag
	cursor    int
	attach    bool
	projectID int64

	done     bool
	quit     bool
	selected int64
}

func newAttachPicker(projectID int64, candidates []store.Tag) pickerModel {
	return pickerModel{tags: candidates, attach: true, projectID: projectID}
}

func newDetachPicker(projectID int64, attached []store.Tag) pickerModel {
	return pickerModel{tags: attached, projectID: projectID}
}

func (p *pickerModel) Update(msg tea.KeyMsg) {
	switch msg.String() {
	case "ctrl+c", "esc":
		p.quit = true
	case "enter", "ctrl+m", "ctrl+j":
		if len(p.tags) > 0 {
			p.selected = p.tags[p.cursor].ID
			p.done = true
		} else {
			p.quit = true
		}
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down", "j":
		if p.cursor < len(p.tags)-1 {
			p.cursor++
		}
	}
}

func (p pickerModel) View(st styles) string {
	var b strings.Builder
	if p.attach {
		b.WriteString("\n  Attach which tag?\n\n")
	} else {
		b.WriteString("\n  Detach which tag?\n\n")
	}

	if len(p.tags) == 0 {
		if p.attach {
			b.WriteString(st.subtle.Render("  No unattached tags. Create one with 't' from the project list.") + "\n")
		} else {
			b.WriteString(st.subtle.Render("  Nothing attached.") + "\n")
		}
		b.WriteString("\n  [Esc] Back\n")
		return b.String()
	}

	for i, tag := range p.tags {
		cursor := "  "
		if i == p.cursor {
			cursor = st.cursor.Render("> ")
		}
		label := st.tag.Render("#" + tag.Name)
		color := ""
		if tag.Color != nil {
			color = st.subtle.Render(" (" + *tag.Color + ")")
		}
		b.WriteString(fmt.Sprintf("  %s%s%s\n", cursor, label, color))
	}

	b.WriteString("\n  [Up/Down] Navigate  [Enter] Select  [Esc] Cancel\n")
	return b.String()
}
