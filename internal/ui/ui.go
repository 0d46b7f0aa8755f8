// Package ui provides the terminal surfaces of mongomaint: the progress
// renderer pair (plain text for pipes and CI, a bubbletea TUI for
// interactive terminals), the confirmation prompt, and the run summary.
//
// Renderers implement coordinator.Coordinator, so the orchestrators drive
// them through the same lifecycle hooks an external observer would use.
package ui

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/mongomaint/internal/coordinator"
)

// Renderer displays run progress. It is a Coordinator plus a lifecycle.
type Renderer interface {
	coordinator.Coordinator

	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Stop stops the renderer and cleans up the terminal.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output io.Writer
	// ForcePlain skips the TUI even on a terminal (--no-tui).
	ForcePlain bool
	NoColor    bool
	// Title names the run in the TUI header, e.g. "rebuild appdb".
	Title string
}

// NewRenderer picks a renderer for the environment: the TUI on interactive
// terminals, plain text for pipes, CI, and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether we are running under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
