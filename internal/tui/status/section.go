package status

import (
	"fmt"
	"strings"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
)

// modeLabel returns a colored label for the FIPS mode.
func modeLabel(s mode.Status) string {
	if s.Enabled {
		return onStyle.Render("FIPS ENABLED")
	}
	return offStyle.Render("FIPS DISABLED")
}

// renderModeBox renders the status group: enabled flag and version.
func renderModeBox(s mode.Status) string {
	version := s.Version
	if version == mode.VersionNone {
		version = dimStyle.Render("none")
	}
	return modeBoxStyle.Render(fmt.Sprintf("%s   Version: %s", modeLabel(s), version))
}

// renderProviders renders the provider group with the cursor and the
// active profile marked.
func renderProviders(providers []string, cursor int, active mode.Status) string {
	var b strings.Builder
	b.WriteString(" " + sectionNameStyle.Render("Available providers") + "\n")
	if len(providers) == 0 {
		b.WriteString(dimStyle.Render("   (none)") + "\n")
		return b.String()
	}
	for i, p := range providers {
		pointer := "  "
		name := p
		if i == cursor {
			pointer = selectedStyle.Render("> ")
			name = selectedStyle.Render(p)
		}
		line := fmt.Sprintf("  %s%s", pointer, name)
		if active.Enabled && active.Version == p {
			line += "  " + onStyle.Render("active")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// renderEntry renders one journal entry.
func renderEntry(e history.Entry) string {
	icon := onStyle.Render("●")
	outcome := "ok"
	if !e.Success {
		icon = failStyle.Render("✖")
		outcome = e.Class
	}
	profile := e.Profile
	if profile == "" {
		profile = "-"
	}
	return fmt.Sprintf("   %s %s  %-7s %-8s %s",
		icon, dimStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
		e.Operation, profile, outcome)
}

// renderHistory renders the most recent journal entries.
func renderHistory(entries []history.Entry) string {
	var b strings.Builder
	b.WriteString(" " + sectionNameStyle.Render("Recent transitions") + "\n")
	if len(entries) == 0 {
		b.WriteString(dimStyle.Render("   (none recorded)") + "\n")
		return b.String()
	}
	for _, e := range entries {
		b.WriteString(renderEntry(e) + "\n")
	}
	return b.String()
}
