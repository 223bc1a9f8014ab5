// Package prompts holds the instruction templates sent to the coding
// agent. Templates are embedded at build time and can be overridden by
// files on disk, so prompt tuning never requires a rebuild.
package prompts

import "embed"

//go:embed phase/*.md
var embeddedFS embed.FS
