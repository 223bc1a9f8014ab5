package tasklist

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// PatternsHeading marks the reserved note block that survives across
// phases. Everything under it is carried verbatim into the next
// phase's progress record.
const PatternsHeading = "## Reusable Patterns"

// ExtractPatterns returns the reusable-patterns block of a progress
// record verbatim (heading included), or "" if the record has none.
// The block runs from its heading to the next second-level heading.
func ExtractPatterns(content string) string {
	idx := strings.Index(content, PatternsHeading)
	if idx == -1 {
		return ""
	}
	rest := content[idx:]
	// Find the next "## " heading after the patterns heading line.
	afterHeading := rest[len(PatternsHeading):]
	if end := strings.Index(afterHeading, "\n## "); end != -1 {
		return rest[:len(PatternsHeading)+end+1]
	}
	return rest
}

// SeedProgress writes a fresh progress record for a phase, carrying
// the previous record's patterns block verbatim at the top. prevPath
// may not exist (first phase); that is not an error.
func SeedProgress(prevPath, newPath, phaseID, description string) error {
	var patterns string
	if data, err := os.ReadFile(prevPath); err == nil {
		patterns = ExtractPatterns(string(data))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Progress: %s\n\n", phaseID)
	if description != "" {
		fmt.Fprintf(&b, "%s\n\n", description)
	}
	if patterns != "" {
		b.WriteString(strings.TrimRight(patterns, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "## Notes\n\nStarted %s.\n", time.Now().Format("2006-01-02 15:04"))

	return os.WriteFile(newPath, []byte(b.String()), 0o644)
}
