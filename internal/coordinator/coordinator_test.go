package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/mongomaint/internal/logging"
)

// recorder captures hook invocations for assertions.
type recorder struct {
	Base
	calls []string
}

func (r *recorder) OnRunStart(database string, collections int) {
	r.calls = append(r.calls, "run_start")
}

func (r *recorder) OnIndexComplete(collection, index string, seconds float64, success bool) {
	r.calls = append(r.calls, "index_complete:"+collection+"."+index)
}

// panicky throws from every hook it implements.
type panicky struct {
	Base
}

func (panicky) OnRunStart(string, int) { panic("observer bug") }
func (panicky) OnError(string, string)     { panic("even the error hook") }

func TestSafe_SwallowsPanics(t *testing.T) {
	// Given: a coordinator that panics in its hooks
	c := Safe(panicky{}, logging.Discard())

	// When/Then: notifications never propagate the panic
	assert.NotPanics(t, func() {
		c.OnRunStart("appdb", 3)
		c.OnError("boom", "test")
		c.OnCollectionStart("users", 2)
	})
}

func TestSafe_NilBecomesNoop(t *testing.T) {
	c := Safe(nil, logging.Discard())

	assert.NotPanics(t, func() {
		c.OnRunStart("appdb", 1)
		c.OnRunComplete("appdb", 0, 1.5, true, "")
	})
}

func TestSafe_Idempotent(t *testing.T) {
	// Wrapping an already-safe coordinator must not stack wrappers.
	r := &recorder{}
	once := Safe(r, logging.Discard())
	twice := Safe(once, logging.Discard())
	assert.Same(t, once, twice)
}

func TestSafe_DelegatesToInner(t *testing.T) {
	// Given: a recording coordinator
	r := &recorder{}
	c := Safe(r, logging.Discard())

	// When: notifying
	c.OnRunStart("appdb", 2)
	c.OnIndexComplete("users", "email_1", 4.2, true)
	c.OnCollectionComplete("users", 10, 8) // Base no-op

	// Then: implemented hooks fired, defaulted ones were silent
	assert.Equal(t, []string{"run_start", "index_complete:users.email_1"}, r.calls)
}

func TestMulti_FansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	m := Multi{Safe(a, logging.Discard()), Safe(b, logging.Discard())}

	m.OnRunStart("appdb", 1)

	assert.Equal(t, []string{"run_start"}, a.calls)
	assert.Equal(t, []string{"run_start"}, b.calls)
}

func TestBase_ImplementsEverything(t *testing.T) {
	var c Coordinator = Base{}
	assert.NotPanics(t, func() {
		c.OnRunStart("", 0)
		c.OnCollectionStart("", 0)
		c.OnIndexStart("", "", 0)
		c.OnIndexComplete("", "", 0, false)
		c.OnCollectionComplete("", 0, 0)
		c.OnRunComplete("", 0, 0, false, "")
		c.OnError("", "")
	})
}
