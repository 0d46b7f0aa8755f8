package compact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// fakeCluster scripts a replica set for compaction tests. Per-node collection
// sizes follow a schedule indexed by how many compactions the node has run:
// nodeSizes["host/coll"][n] is the size (MB) reported after n compactions,
// clamped at the last entry.
type fakeCluster struct {
	mu sync.Mutex

	collections []string
	seedStats   map[string]cluster.CollStats
	members     []cluster.Member
	version     cluster.Version
	rsName      string

	nodeSizes   map[string][]int64
	compacted   map[string]int
	failCompact map[string]int // "host/coll" -> remaining failures
	dialErr     map[string]error

	compactCalls  []string // "host/coll" in call order
	stepDownCalls int
	onStepDown    func() // typically flips members

	enabled  []string // hosts where the background job was switched on
	disabled []string
	running  map[string]int // polls reporting "still running" per host
	estimate map[string]int64
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		seedStats:   make(map[string]cluster.CollStats),
		nodeSizes:   make(map[string][]int64),
		compacted:   make(map[string]int),
		failCompact: make(map[string]int),
		dialErr:     make(map[string]error),
		running:     make(map[string]int),
		estimate:    make(map[string]int64),
		version:     cluster.Version{Major: 7, Minor: 0, Full: "7.0.4"},
		rsName:      "rs0",
	}
}

func (f *fakeCluster) addCollection(name string, storageMB, freeMB int64) {
	f.collections = append(f.collections, name)
	f.seedStats[name] = cluster.CollStats{
		StorageSizeBytes: storageMB * mbBytes,
		FreeStorageBytes: freeMB * mbBytes,
	}
}

// schedule sets the sizes one node reports for one collection as it compacts.
func (f *fakeCluster) schedule(host, coll string, sizesMB ...int64) {
	f.nodeSizes[host+"/"+coll] = sizesMB
}

func (f *fakeCluster) nodeSize(host, coll string) int64 {
	sizes := f.nodeSizes[host+"/"+coll]
	if len(sizes) == 0 {
		return f.seedStats[coll].StorageSizeMB()
	}
	i := f.compacted[host+"/"+coll]
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return sizes[i]
}

func (f *fakeCluster) ListCollections(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.collections))
	copy(out, f.collections)
	return out, nil
}

func (f *fakeCluster) CollStats(_ context.Context, _ string, coll string) (cluster.CollStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seedStats[coll], nil
}

func (f *fakeCluster) Members(_ context.Context) ([]cluster.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cluster.Member, len(f.members))
	copy(out, f.members)
	return out, nil
}

func (f *fakeCluster) DialDirect(_ context.Context, host string) (Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dialErr[host]; err != nil {
		return nil, err
	}
	return &fakeNode{c: f, host: host}, nil
}

func (f *fakeCluster) StepDown(_ context.Context, _ int) error {
	f.mu.Lock()
	f.stepDownCalls++
	hook := f.onStepDown
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeCluster) ServerVersion(_ context.Context) (cluster.Version, error) {
	return f.version, nil
}

func (f *fakeCluster) ReplicaSetName(_ context.Context) (string, error) {
	return f.rsName, nil
}

var _ Cluster = (*fakeCluster)(nil)

type fakeNode struct {
	c    *fakeCluster
	host string
}

func (n *fakeNode) Host() string { return n.host }

func (n *fakeNode) Compact(_ context.Context, _ string, coll string) error {
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	key := n.host + "/" + coll
	if c.failCompact[key] > 0 {
		c.failCompact[key]--
		return fmt.Errorf("compact failed on %s", n.host)
	}
	c.compactCalls = append(c.compactCalls, key)
	c.compacted[key]++
	return nil
}

func (n *fakeNode) CompactEstimate(_ context.Context, _ string, coll string) (int64, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if est, ok := n.c.estimate[coll]; ok {
		return est, nil
	}
	return 0, fmt.Errorf("dry run not supported")
}

func (n *fakeNode) CollStats(_ context.Context, _ string, coll string) (cluster.CollStats, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return cluster.CollStats{StorageSizeBytes: n.c.nodeSize(n.host, coll) * mbBytes}, nil
}

func (n *fakeNode) EnableAutoCompact(_ context.Context, _ int64) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	n.c.enabled = append(n.c.enabled, n.host)
	return nil
}

func (n *fakeNode) DisableAutoCompact(_ context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	n.c.disabled = append(n.c.disabled, n.host)
	return nil
}

func (n *fakeNode) AutoCompactRunning(_ context.Context) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.c.running[n.host] > 0 {
		n.c.running[n.host]--
		return true, nil
	}
	return false, nil
}

func (n *fakeNode) Close(_ context.Context) error { return nil }

var _ Node = (*fakeNode)(nil)

// replicaSet seeds one primary and two zone-tagged secondaries.
func replicaSet(f *fakeCluster) {
	f.members = []cluster.Member{
		{Host: "prim:27017", State: "PRIMARY", Healthy: true, Tags: map[string]string{"az": "a"}},
		{Host: "sec1:27017", State: "SECONDARY", Healthy: true, Tags: map[string]string{"az": "b"}},
		{Host: "sec2:27017", State: "SECONDARY", Healthy: true, Tags: map[string]string{"az": "c"}},
	}
}

// flipPrimary makes sec1 primary and the former primary a secondary.
func flipPrimary(f *fakeCluster) func() {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.members {
			switch f.members[i].Host {
			case "prim:27017":
				f.members[i].State = "SECONDARY"
			case "sec1:27017":
				f.members[i].State = "PRIMARY"
			}
		}
	}
}

func testCompactConfig() config.CompactConfig {
	return config.CompactConfig{
		MinSavingsMB:     100,
		Tolerance:        0.20,
		MinConvergenceMB: 1000,
		MaxIterations:    3,
		StepDownSeconds:  60,
		StepDownWait:     "50ms",
	}
}

// instantSleep keeps polling loops from slowing tests down.
func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// scriptConfirmer replays a fixed answer sequence, then keeps answering yes.
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
	ans := s.answers[s.i]
	var err error
	if s.i < len(s.errs) {
		err = s.errs[s.i]
	}
	s.i++
	return ans, err
}
