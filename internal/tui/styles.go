package tui

import "github.com/charmbracelet/lipgloss"

// styles is the rendered palette for one theme. Built once at startup and
// copied with the model.
type styles struct {
	title   lipgloss.Style
	subtle  lipgloss.Style
	accent  lipgloss.Style
	cursor  lipgloss.Style
	tag     lipgloss.Style
	done    lipgloss.Style
	errText lipgloss.Style
	okText  lipgloss.Style
	notice  lipgloss.Style
	helpBar lipgloss.Style
	formBox lipgloss.Style
	formErr lipgloss.Style
}

// newStyles builds the palette for "dark", "light", or "auto". Auto asks the
// terminal; a wrong guess only costs contrast.
func newStyles(theme string) styles {
	dark := true
	switch theme {
	case "light":
		dark = false
	case "dark":
		dark = true
	default:
		dark = lipgloss.HasDarkBackground()
	}

	if dark {
		return styles{
			title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
			subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
			cursor:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
			tag:     lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
			done:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true),
			errText: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			okText:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
			notice:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
			helpBar: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			formBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("208")).Padding(1, 2).Width(54),
			formErr: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("166")),
		subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("30")),
		cursor:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("166")),
		tag:     lipgloss.NewStyle().Foreground(lipgloss.Color("25")),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Strikethrough(true),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		okText:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		notice:  lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		helpBar: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		formBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("166")).Padding(1, 2).Width(54),
		formErr: lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
	}
}
