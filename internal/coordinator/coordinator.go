// Package coordinator defines the optional lifecycle observer notified as a
// maintenance run progresses. Hooks are strictly best-effort: a misbehaving
// observer must never abort the underlying maintenance work, so engines only
// ever see coordinators wrapped by Safe, which swallows and logs panics.
package coordinator

import (
	"fmt"
	"log/slog"
)

// Coordinator receives lifecycle notifications during a run.
// Implementations embed Base to pick up no-op defaults for the hooks they
// do not care about.
type Coordinator interface {
	OnRunStart(database string, collections int)
	OnCollectionStart(collection string, indexCount int)
	OnIndexStart(collection, index string, sizeMB int64)
	OnIndexComplete(collection, index string, seconds float64, success bool)
	OnCollectionComplete(collection string, reclaimedMB int64, seconds float64)
	OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string)
	OnError(message, context string)
}

// Base is a Coordinator whose every hook is a no-op.
type Base struct{}

func (Base) OnRunStart(string, int)                             {}
func (Base) OnCollectionStart(string, int)                          {}
func (Base) OnIndexStart(string, string, int64)                     {}
func (Base) OnIndexComplete(string, string, float64, bool)          {}
func (Base) OnCollectionComplete(string, int64, float64)            {}
func (Base) OnRunComplete(string, int64, float64, bool, string) {}
func (Base) OnError(string, string)                                 {}

var _ Coordinator = Base{}

// Safe wraps a coordinator so every hook is invoked best-effort: panics are
// recovered and logged at low severity, never propagated. A nil coordinator
// becomes a no-op one, so engines never need nil checks.
func Safe(c Coordinator, log *slog.Logger) Coordinator {
	if c == nil {
		return Base{}
	}
	if _, ok := c.(*safe); ok {
		return c
	}
	return &safe{inner: c, log: log}
}

type safe struct {
	inner Coordinator
	log   *slog.Logger
}

// guard runs one hook, recovering anything it throws.
func (s *safe) guard(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("coordinator hook failed, ignoring",
				slog.String("hook", hook),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (s *safe) OnRunStart(database string, collections int) {
	s.guard("OnRunStart", func() { s.inner.OnRunStart(database, collections) })
}

func (s *safe) OnCollectionStart(collection string, indexCount int) {
	s.guard("OnCollectionStart", func() { s.inner.OnCollectionStart(collection, indexCount) })
}

func (s *safe) OnIndexStart(collection, index string, sizeMB int64) {
	s.guard("OnIndexStart", func() { s.inner.OnIndexStart(collection, index, sizeMB) })
}

func (s *safe) OnIndexComplete(collection, index string, seconds float64, success bool) {
	s.guard("OnIndexComplete", func() { s.inner.OnIndexComplete(collection, index, seconds, success) })
}

func (s *safe) OnCollectionComplete(collection string, reclaimedMB int64, seconds float64) {
	s.guard("OnCollectionComplete", func() { s.inner.OnCollectionComplete(collection, reclaimedMB, seconds) })
}

func (s *safe) OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string) {
	s.guard("OnRunComplete", func() {
		s.inner.OnRunComplete(database, reclaimedMB, seconds, success, warning)
	})
}

func (s *safe) OnError(message, context string) {
	s.guard("OnError", func() { s.inner.OnError(message, context) })
}

// Multi fans notifications out to several coordinators.
type Multi []Coordinator

func (m Multi) OnRunStart(database string, collections int) {
	for _, c := range m {
		c.OnRunStart(database, collections)
	}
}

func (m Multi) OnCollectionStart(collection string, indexCount int) {
	for _, c := range m {
		c.OnCollectionStart(collection, indexCount)
	}
}

func (m Multi) OnIndexStart(collection, index string, sizeMB int64) {
	for _, c := range m {
		c.OnIndexStart(collection, index, sizeMB)
	}
}

func (m Multi) OnIndexComplete(collection, index string, seconds float64, success bool) {
	for _, c := range m {
		c.OnIndexComplete(collection, index, seconds, success)
	}
}

func (m Multi) OnCollectionComplete(collection string, reclaimedMB int64, seconds float64) {
	for _, c := range m {
		c.OnCollectionComplete(collection, reclaimedMB, seconds)
	}
}

func (m Multi) OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string) {
	for _, c := range m {
		c.OnRunComplete(database, reclaimedMB, seconds, success, warning)
	}
}

func (m Multi) OnError(message, context string) {
	for _, c := range m {
		c.OnError(message, context)
	}
}
