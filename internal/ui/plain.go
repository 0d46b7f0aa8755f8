package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// PlainRenderer prints one line per lifecycle event (for CI and pipes).
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func (r *PlainRenderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

// OnRunStart implements coordinator.Coordinator.
func (r *PlainRenderer) OnRunStart(database string, collections int) {
	r.printf("[DB] %s: %d collections to process", database, collections)
}

// OnCollectionStart implements coordinator.Coordinator.
func (r *PlainRenderer) OnCollectionStart(collection string, indexCount int) {
	r.printf("[COLL] %s: %d indexes", collection, indexCount)
}

// OnIndexStart implements coordinator.Coordinator.
func (r *PlainRenderer) OnIndexStart(collection, index string, sizeMB int64) {
	r.printf("[IDX] %s.%s (%s) rebuilding", collection, index, mb(sizeMB))
}

// OnIndexComplete implements coordinator.Coordinator.
func (r *PlainRenderer) OnIndexComplete(collection, index string, seconds float64, success bool) {
	if success {
		r.printf("[IDX] %s.%s done in %s", collection, index, secs(seconds))
		return
	}
	r.printf("[IDX] %s.%s FAILED after %s", collection, index, secs(seconds))
}

// OnCollectionComplete implements coordinator.Coordinator.
func (r *PlainRenderer) OnCollectionComplete(collection string, reclaimedMB int64, seconds float64) {
	r.printf("[COLL] %s done: reclaimed %s in %s", collection, mb(reclaimedMB), secs(seconds))
}

// OnRunComplete implements coordinator.Coordinator.
func (r *PlainRenderer) OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string) {
	status := "done"
	if !success {
		status = "finished with failures"
	}
	r.printf("[DB] %s %s: reclaimed %s in %s", database, status, mb(reclaimedMB), secs(seconds))
	if warning != "" {
		r.printf("WARN: %s", warning)
	}
}

// OnError implements coordinator.Coordinator.
func (r *PlainRenderer) OnError(message, context string) {
	if context != "" {
		r.printf("ERROR: %s: %s", context, message)
		return
	}
	r.printf("ERROR: %s", message)
}

func mb(n int64) string {
	return humanize.IBytes(uint64(n) * 1024 * 1024)
}

func secs(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(100 * time.Millisecond).String()
}

var _ Renderer = (*PlainRenderer)(nil)
