// Package formatter renders analysis reports for terminals.
package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/gnolang/cprop/analyze"
)

var (
	fileStyle     = color.New(color.FgCyan, color.Bold)
	functionStyle = color.New(color.FgYellow, color.Bold)
	lineStyle     = color.New(color.FgHiBlue, color.Bold)
	bottomStyle   = color.New(color.FgRed, color.Bold)
	constStyle    = color.New(color.FgGreen)
	topStyle      = color.New(color.Faint)
	noStyle       = color.New(color.FgWhite)
)

// FormatReport renders the per-location constants of r.
func FormatReport(r *analyze.Report) string {
	var b strings.Builder
	fileStyle.Fprintf(&b, "%s", r.File)
	b.WriteString(" (entry ")
	functionStyle.Fprintf(&b, "%s", r.Entry)
	b.WriteString(")\n")
	if len(r.Dirty) > 0 {
		fmt.Fprintf(&b, "  address taken: %s\n", strings.Join(r.Dirty, ", "))
	}

	width := numberWidth(r.Locations)
	function := ""
	for _, loc := range r.Locations {
		if loc.Function != function {
			function = loc.Function
			functionStyle.Fprintf(&b, "%s:\n", function)
		}
		lineStyle.Fprintf(&b, "  %*d", width, loc.Number)
		b.WriteString(" | ")
		noStyle.Fprintf(&b, "%s", loc.Instruction)
		b.WriteString("\n")
		b.WriteString(strings.Repeat(" ", width+2))
		b.WriteString(" | ")
		b.WriteString(formatState(loc))
		b.WriteString("\n")
	}

	if r.Program != "" {
		fmt.Fprintf(&b, "\nrewrote %d instructions:\n", r.Rewritten)
		b.WriteString(r.Program)
	}
	return b.String()
}

func formatState(loc analyze.Location) string {
	switch {
	case loc.Bottom:
		return bottomStyle.Sprint("unreachable")
	case len(loc.Constants) == 0:
		return topStyle.Sprint("top")
	}
	names := make([]string, 0, len(loc.Constants))
	for name := range loc.Constants {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = constStyle.Sprintf("%s=%s", name, loc.Constants[name])
	}
	return strings.Join(parts, ", ")
}

func numberWidth(locs []analyze.Location) int {
	maxNum := 0
	for _, loc := range locs {
		if loc.Number > maxNum {
			maxNum = loc.Number
		}
	}
	return len(fmt.Sprint(maxNum))
}
