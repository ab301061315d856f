package sandbox

import (
	"fmt"
	"strings"
)

// FormatResult renders a run result as a chat reply: elapsed time, a fenced
// stdout block and, when stderr is non-empty, a fenced stderr block.
func FormatResult(result RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "time: %dms", result.Elapsed.Milliseconds())
	if result.TimedOut {
		b.WriteString(" (timed out)")
	}
	b.WriteString("\nstdout:\n```\n")
	b.WriteString(result.Stdout)
	b.WriteString("\n```")
	if result.Stderr != "" {
		b.WriteString("\nstderr:\n```\n")
		b.WriteString(result.Stderr)
		b.WriteString("\n```")
	}
	return b.String()
}
