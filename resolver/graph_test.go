package resolver

import (
	"sync/atomic"
	"testing"

	"objgraph/process"
	"objgraph/process_blob"
)

const (
	recordBase    = process.ProcessMemoryAddress(0x100000)
	recordStride  = 0x20
	objectBase    = process.ProcessMemoryAddress(0x200000)
	objectStride  = 0x100
	containerAddr = process.ProcessMemoryAddress(0x300000)
	heapSize      = 0x10000

	// object layout used by the synthetic graph
	objName     = 0x0  // pointer to name text
	objHealth   = 0x10 // uint32
	objLabel    = 0x20 // pointer to label text, may be null
	objAltLabel = 0x28 // pointer to fallback label text
	objText     = 0x80 // inline storage for the name
)

// testList is a synthetic doubly-linked list held in a blob.
type testList struct {
	mem     *process_blob.Memory
	records []process.ProcessMemoryAddress
	selfs   []process.ProcessMemoryAddress
}

func (l *testList) record(i int) process.ProcessMemoryAddress { return l.records[i] }

// newTestList links one record per self value, in order, and stores the
// head and tail record pointers in the container.
func newTestList(t *testing.T, selfs []process.ProcessMemoryAddress) *testList {
	t.Helper()

	mem := process_blob.NewMemory()
	must(t, mem.Map(recordBase, heapSize, "rw-p"))
	must(t, mem.Map(objectBase, heapSize, "rw-p"))
	must(t, mem.Map(containerAddr, 0x100, "rw-p"))

	l := &testList{mem: mem, selfs: selfs}
	for i := range selfs {
		l.records = append(l.records, recordBase+process.ProcessMemoryAddress(i*recordStride))
	}
	for i, rec := range l.records {
		var prev, next process.ProcessMemoryAddress
		if i > 0 {
			prev = l.records[i-1]
		}
		if i < len(l.records)-1 {
			next = l.records[i+1]
		}
		must(t, mem.PutPointer(rec.Add(DefaultNodeLayout.Prev), prev))
		must(t, mem.PutPointer(rec.Add(DefaultNodeLayout.Next), next))
		must(t, mem.PutPointer(rec.Add(DefaultNodeLayout.Self), selfs[i]))
	}
	if len(l.records) > 0 {
		must(t, mem.PutPointer(containerAddr.Add(DefaultContainerLayout.Head), l.records[0]))
		must(t, mem.PutPointer(containerAddr.Add(DefaultContainerLayout.Tail), l.records[len(l.records)-1]))
	}
	return l
}

// newObjectList creates count objects named by names[i] and a list over them.
func newObjectList(t *testing.T, names []string) (*testList, []process.ProcessMemoryAddress) {
	t.Helper()

	objs := make([]process.ProcessMemoryAddress, len(names))
	for i := range names {
		objs[i] = objectBase + process.ProcessMemoryAddress(i*objectStride)
	}
	l := newTestList(t, objs)
	for i, obj := range objs {
		must(t, l.mem.PutText(obj.Add(objText), names[i], process.TextUTF8))
		must(t, l.mem.PutPointer(obj.Add(objName), obj.Add(objText)))
		must(t, l.mem.PutUint32(obj.Add(objHealth), uint32(100+i)))
	}
	return l, objs
}

func (l *testList) ends(t *testing.T) (Node, Node) {
	t.Helper()
	head, err := ReadNode(l.mem, DefaultNodeLayout, l.records[0])
	must(t, err)
	tail, err := ReadNode(l.mem, DefaultNodeLayout, l.records[len(l.records)-1])
	must(t, err)
	return head, tail
}

func ids(from, to int) []process.ProcessMemoryAddress {
	var out []process.ProcessMemoryAddress
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, process.ProcessMemoryAddress(i))
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, process.ProcessMemoryAddress(i))
	}
	return out
}

// lowValidator accepts the small literal ids used as self values.
func lowValidator() *Validator {
	return NewValidator(WithRange(1, DefaultMaxAddress))
}

func selfMatcher(target process.ProcessMemoryAddress) Matcher {
	return MatcherFunc(func(n Node) (ResolvedEntity, bool) {
		if n.Self != target {
			return ResolvedEntity{}, false
		}
		return ResolvedEntity{Address: n.Self}, true
	})
}

// countingMemory counts reads and can fail every read after a budget.
type countingMemory struct {
	process.MemoryAccessor
	reads     atomic.Int64
	failAfter int64
}

func (c *countingMemory) fail() bool {
	n := c.reads.Add(1)
	return c.failAfter > 0 && n > c.failAfter
}

func (c *countingMemory) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if c.fail() {
		return nil, process.ErrChannel
	}
	return c.MemoryAccessor.ReadMemory(addr, size)
}

func (c *countingMemory) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	if c.fail() {
		return 0, process.ErrChannel
	}
	return c.MemoryAccessor.ReadPOINTER(addr)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
