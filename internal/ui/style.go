package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintLogo renders the colored weft logo to stderr.
func PrintLogo() {
	w := os.Stderr
	frame := color.New(color.FgCyan)
	threads := color.New(color.FgCyan, color.Faint)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   ╔══════════════════════╗")
	threads.Fprintln(w, "   ║  ─┼─┼─┼─┼─┼─┼─┼─┼─  ║")
	brand.Fprintln(w, "   ║   W   E   F   T      ║")
	threads.Fprintln(w, "   ║  ─┼─┼─┼─┼─┼─┼─┼─┼─  ║")
	frame.Fprintln(w, "   ╚══════════════════════╝")
	tag.Fprintln(w, "   Subagent task orchestration")
	fmt.Fprintln(w)
}

// agentColors is a palette of distinct bold colors for differentiating tasks.
var agentColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// agentColorIndex hashes a label to a palette index.
func agentColorIndex(label string) int {
	var h uint32
	for _, c := range label {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(agentColors)))
}

// AgentPrefix returns a colored [agent] prefix string. Each label gets a
// distinct color from the palette.
func AgentPrefix(label string) string {
	c := agentColors[agentColorIndex(label)]
	return Dim("[") + c(label) + Dim("]")
}

// StatusIcon returns a colored status icon for compact table display.
func StatusIcon(status string) string {
	switch status {
	case "complete", "completed":
		return Green("✓")
	case "running":
		return Cyan("●")
	case "failed":
		return Red("✗")
	case "queued":
		return Yellow("◌")
	default:
		return Dim("◌")
	}
}
