// Package ui renders CLI output with lipgloss. Styling is dropped when
// stdout is not a terminal or NO_COLOR is set, so piped output stays plain.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#8bd450"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#f07178"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#59c2ff"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#8a8f98"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

var plain bool

func init() {
	if !IsTerminal() || os.Getenv("NO_COLOR") != "" {
		SetPlain(true)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals, which
// is what interactive forms need.
func IsInteractive() bool {
	return IsTerminal() && term.IsTerminal(int(os.Stdin.Fd()))
}

// SetPlain switches styling off (or back on).
func SetPlain(on bool) {
	plain = on
	if on {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.ColorProfile())
	}
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderSynced shows a record's sync flag.
func RenderSynced(synced bool) string {
	if synced {
		return RenderPass("synced")
	}
	return RenderWarn("pending")
}

// RenderTable draws rows under headers. Plain mode uses ASCII borders.
func RenderTable(headers []string, rows [][]string) string {
	border := lipgloss.RoundedBorder()
	if plain {
		border = lipgloss.ASCIIBorder()
	}
	t := table.New().
		Border(border).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
