package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Aman-CERP/mongomaint/internal/report"
)

// PrintSummary renders a finished run report for humans, mirroring the JSON
// performance log the run wrote (or would have written).
func PrintSummary(w io.Writer, r *report.RunReport, noColor bool) {
	styles := DefaultStyles()
	if noColor || DetectNoColor() {
		styles = NoColorStyles()
	}

	var b strings.Builder

	title := fmt.Sprintf("%s — %s", strings.ToUpper(r.Operation), r.Cluster)
	if r.Error != "" {
		b.WriteString(styles.Error.Render("✗ " + title))
	} else if len(r.Warnings) > 0 {
		b.WriteString(styles.Warning.Render("⚠ " + title))
	} else {
		b.WriteString(styles.Success.Render("✓ " + title))
	}
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("  %s %s\n", styles.Label.Render(label), value))
	}

	if r.Log != nil {
		row("Database:  ", r.Log.Database)
		row("Collections:", fmt.Sprintf("%d", len(r.Log.Collections)))
	}
	row("Initial:   ", humanize.IBytes(uint64(r.InitialMB)*1024*1024))
	row("Final:     ", humanize.IBytes(uint64(r.FinalMB)*1024*1024))
	row("Reclaimed: ", styles.Active.Render(humanize.IBytes(uint64(r.ReclaimedMB)*1024*1024)))
	row("Elapsed:   ", (time.Duration(r.TotalSeconds * float64(time.Second))).Round(time.Second).String())

	if n := failedCount(r); n > 0 {
		b.WriteString(styles.Error.Render(fmt.Sprintf("  ✗ %d indexes failed\n", n)))
	}
	for _, warning := range r.Warnings {
		b.WriteString(styles.Warning.Render("  ⚠ "+warning) + "\n")
	}
	if r.Error != "" {
		b.WriteString(styles.Error.Render("  error: "+r.Error) + "\n")
	}

	_, _ = io.WriteString(w, b.String())
}

func failedCount(r *report.RunReport) int {
	if r.Log == nil {
		return 0
	}
	return r.Log.FailedIndexCount()
}
