package resolver

import (
	"context"
	"testing"

	"objgraph/process"

	"github.com/cockroachdb/errors"
)

// countingStrategy records how often the root had to be located.
type countingStrategy struct {
	container process.ProcessMemoryAddress
	calls     int
}

func (c *countingStrategy) Name() string { return "counting" }

func (c *countingStrategy) Locate(process.MemoryAccessor, *Validator) (process.ProcessMemoryAddress, error) {
	c.calls++
	return c.container, nil
}

func newTestResolver(t *testing.T, names []string) (*Resolver, *testList, []process.ProcessMemoryAddress, *countingStrategy) {
	t.Helper()
	l, objs := newObjectList(t, names)
	cs := &countingStrategy{container: containerAddr}
	r := New(l.mem, Config{Strategies: []RootStrategy{cs}})
	return r, l, objs, cs
}

func TestResolveEntity(t *testing.T) {
	names := []string{"a", "b", "c", "d", "Target", "f", "g"}
	r, l, objs, _ := newTestResolver(t, names)
	labelled(t, l, objs[4], "boss", "")

	e, err := r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	must(t, err)
	if e.Address != objs[4] || e.Node.Record != l.record(4) {
		t.Fatalf("entity = %+v", e)
	}
	if v, _ := e.Field("label"); v.Text != "boss" {
		t.Fatalf("label = %s", v)
	}
}

func TestResolveEntityNotFound(t *testing.T) {
	r, _, _, _ := newTestResolver(t, []string{"a", "b", "c"})

	_, err := r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	if !errors.Is(err, ErrEntityNotFound) || !IsStructural(err) {
		t.Fatalf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestResolveExplicitContainer(t *testing.T) {
	l, objs := newObjectList(t, []string{"a", "Target"})
	labelled(t, l, objs[1], "x", "")
	r := New(l.mem, Config{})

	e, err := r.ResolveEntity(context.Background(), RootHint{Container: containerAddr}, targetSpec())
	must(t, err)
	if e.Address != objs[1] {
		t.Fatalf("entity = %+v", e)
	}

	if _, err := r.ResolveEntity(context.Background(), RootHint{}, targetSpec()); !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("err = %v, want ErrRootNotFound without strategies", err)
	}
}

func TestRootSessionCache(t *testing.T) {
	r, _, _, cs := newTestResolver(t, []string{"a", "b", "c"})

	steps := []struct {
		label      string
		session    uint64
		invalidate bool
		calls      int
	}{
		{"first", 1, false, 1},
		{"cached", 1, false, 1},
		{"new session", 2, false, 2},
		{"cached again", 2, false, 2},
		{"invalidated", 2, true, 3},
	}
	for _, s := range steps {
		if s.invalidate {
			r.Invalidate()
		}
		_, err := r.Root(RootHint{Session: s.session})
		must(t, err)
		if cs.calls != s.calls {
			t.Fatalf("%s: %d locate calls, want %d", s.label, cs.calls, s.calls)
		}
	}
}

func TestStaleRootInvalidated(t *testing.T) {
	names := []string{"a", "Target", "c"}
	r, l, objs, cs := newTestResolver(t, names)
	labelled(t, l, objs[1], "x", "")

	_, err := r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	must(t, err)

	// the head record was freed and reused
	must(t, l.mem.PutPointer(l.record(0).Add(DefaultNodeLayout.Self), 0))
	_, err = r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	if !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("err = %v, want ErrRootNotFound", err)
	}

	must(t, l.mem.PutPointer(l.record(0).Add(DefaultNodeLayout.Self), objs[0]))
	_, err = r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	must(t, err)
	if cs.calls != 2 {
		t.Fatalf("%d locate calls, want 2", cs.calls)
	}
}

func TestFindFirst(t *testing.T) {
	names := []string{"a", "b", "Target", "d", "Target"}
	r, l, objs, _ := newTestResolver(t, names)
	labelled(t, l, objs[2], "first", "")
	labelled(t, l, objs[4], "last", "")

	e, err := r.FindFirst(context.Background(), RootHint{}, targetSpec())
	must(t, err)
	if e.Address != objs[2] {
		t.Fatalf("FindFirst = %s, want the first match", e.Address)
	}

	spec := targetSpec()
	spec.Name = "d"
	labelled(t, l, objs[3], "x", "")
	if e, err = r.FindFirst(context.Background(), RootHint{}, spec); err != nil || e.Address != objs[3] {
		t.Fatalf("FindFirst(d) = %s, %v", e.Address, err)
	}
}

func TestFindFirstTail(t *testing.T) {
	r, l, objs, _ := newTestResolver(t, []string{"a", "b", "Target"})
	labelled(t, l, objs[2], "x", "")

	e, err := r.FindFirst(context.Background(), RootHint{}, targetSpec())
	must(t, err)
	if e.Address != objs[2] {
		t.Fatalf("FindFirst = %s, want tail", e.Address)
	}

	spec := targetSpec()
	spec.Name = "nobody"
	if _, err := r.FindFirst(context.Background(), RootHint{}, spec); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestResolveSingleNode(t *testing.T) {
	r, l, objs, _ := newTestResolver(t, []string{"Target"})
	labelled(t, l, objs[0], "only", "")

	e, err := r.ResolveEntity(context.Background(), RootHint{}, targetSpec())
	must(t, err)
	if e.Address != objs[0] {
		t.Fatalf("entity = %+v", e)
	}
}

func TestResolveAborted(t *testing.T) {
	r, _, _, _ := newTestResolver(t, []string{"a", "b", "c", "d"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveEntity(ctx, RootHint{}, targetSpec())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
}
