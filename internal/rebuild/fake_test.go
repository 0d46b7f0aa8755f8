package rebuild

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// fakeCluster is an in-memory Target. The mutex matters: the backup pass
// lists collections concurrently.
type fakeCluster struct {
	mu          sync.Mutex
	collections []string
	idx         map[string][]indexes.Descriptor
	stats       map[string]cluster.CollStats
	building    map[string]int // index name -> remaining "still building" polls
	failCreate  map[string]int // coll/name -> remaining creation failures
	createCalls []string
	dropCalls   []string
	version     cluster.Version
	rsName      string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		idx:        map[string][]indexes.Descriptor{},
		stats:      map[string]cluster.CollStats{},
		building:   map[string]int{},
		failCreate: map[string]int{},
		version:    cluster.Version{Major: 7, Minor: 0, Full: "7.0.4"},
		rsName:     "rs0",
	}
}

func (f *fakeCluster) addCollection(name string) {
	f.collections = append(f.collections, name)
	if _, ok := f.idx[name]; !ok {
		f.idx[name] = nil
	}
}

func (f *fakeCluster) addIndex(coll, name string, keys bson.D, opts bson.M, sizeBytes int64) {
	f.idx[coll] = append(f.idx[coll], indexes.Descriptor{
		Name:      name,
		Keys:      keys,
		Options:   opts,
		SizeBytes: sizeBytes,
		Raw:       bson.D{{Key: "name", Value: name}, {Key: "key", Value: keys}},
	})
}

func (f *fakeCluster) hasIndex(coll, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.idx[coll] {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (f *fakeCluster) ListCollections(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.collections...)
	sort.Strings(out)
	return out, nil
}

func (f *fakeCluster) ListIndexes(_ context.Context, _, coll string) ([]indexes.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]indexes.Descriptor, len(f.idx[coll]))
	copy(out, f.idx[coll])
	for i := range out {
		if f.building[out[i].Name] > 0 {
			out[i].Building = true
			f.building[out[i].Name]--
		}
	}
	return out, nil
}

func (f *fakeCluster) CreateIndex(_ context.Context, _, coll, name string, keys bson.D, opts bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := coll + "/" + name
	f.createCalls = append(f.createCalls, key)
	if n := f.failCreate[key]; n > 0 {
		f.failCreate[key] = n - 1
		return fmt.Errorf("createIndexes %s failed", name)
	}
	f.idx[coll] = append(f.idx[coll], indexes.Descriptor{Name: name, Keys: keys, Options: opts})
	return nil
}

func (f *fakeCluster) DropIndex(_ context.Context, _, coll, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCalls = append(f.dropCalls, coll+"/"+name)
	kept := f.idx[coll][:0]
	for _, d := range f.idx[coll] {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	f.idx[coll] = kept
	return nil
}

func (f *fakeCluster) IndexStats(_ context.Context, _, coll string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, d := range f.idx[coll] {
		names = append(names, d.Name)
	}
	return names, nil
}

func (f *fakeCluster) CollStats(_ context.Context, _, coll string) (cluster.CollStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[coll], nil
}

func (f *fakeCluster) ServerVersion(context.Context) (cluster.Version, error) {
	return f.version, nil
}

func (f *fakeCluster) ReplicaSetName(context.Context) (string, error) {
	return f.rsName, nil
}

var _ Target = (*fakeCluster)(nil)

// scriptConfirmer replays a fixed sequence of answers, then keeps saying yes.
type scriptConfirmer struct {
	answers []ui.Answer
	errs    []error
	prompts []string
	i       int
}

func (s *scriptConfirmer) Confirm(prompt string) (ui.Answer, error) {
	s.prompts = append(s.prompts, prompt)
	if s.i >= len(s.answers) {
		return ui.AnswerYes, nil
	}
	a := s.answers[s.i]
	var err error
	if s.i < len(s.errs) {
		err = s.errs[s.i]
	}
	s.i++
	return a, err
}

// testRebuildConfig keeps the polling and retry delays tiny so tests run in
// milliseconds.
func testRebuildConfig() config.RebuildConfig {
	return config.RebuildConfig{
		CoverSuffix:   "_cover_temp",
		CoverField:    "__covering",
		RetryAttempts: 1,
		RetryDelay:    "1ms",
		PollInitial:   "1ms",
		PollMax:       "2ms",
		BuildTimeout:  "100ms",
	}
}
