// Package resolver locates an object in a remote process by walking the
// process's doubly-linked object list from both ends at once.
//
// All remote reads go through an injected process.MemoryAccessor so the same
// code runs against a live process, a saved dump or a synthetic graph.
package resolver

import (
	"context"
	"sync"

	"objgraph/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/cockroachdb/errors"
)

// Config wires the resolver's parts. Zero layouts and budgets fall back to
// the package defaults; a nil Validator means NewValidator().
type Config struct {
	Validator       *Validator
	NodeLayout      *NodeLayout
	ContainerLayout *ContainerLayout
	Strategies      []RootStrategy
	MaxVisits       int
}

// RootHint tells the resolver where the list is. A non-zero Container skips
// locating. A Session different from the previous call discards the cached
// root.
type RootHint struct {
	Container process.ProcessMemoryAddress
	Session   uint64
}

type Resolver struct {
	mem       process.MemoryAccessor
	validator *Validator
	chains    *ChainReader
	scanner   *Scanner
	race      *RaceResolver
	locator   *RootLocator
	log       *logger.Logger

	mu      sync.Mutex
	root    *Root
	session uint64
}

func New(mem process.MemoryAccessor, cfg Config) *Resolver {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	nodeLayout := DefaultNodeLayout
	if cfg.NodeLayout != nil {
		nodeLayout = *cfg.NodeLayout
	}
	containerLayout := DefaultContainerLayout
	if cfg.ContainerLayout != nil {
		containerLayout = *cfg.ContainerLayout
	}

	scanner := NewScanner(mem, v, WithNodeLayout(nodeLayout), WithMaxVisits(cfg.MaxVisits))
	return &Resolver{
		mem:       mem,
		validator: v,
		chains:    NewChainReader(mem, v),
		scanner:   scanner,
		race:      NewRaceResolver(scanner),
		locator:   NewRootLocator(mem, v, containerLayout, cfg.Strategies...),
		log:       logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "resolver")),
	}
}

func (r *Resolver) Validator() *Validator { return r.validator }
func (r *Resolver) Chains() *ChainReader  { return r.chains }
func (r *Resolver) Scanner() *Scanner     { return r.scanner }
func (r *Resolver) Locator() *RootLocator { return r.locator }

func (r *Resolver) Matcher(spec MatcherSpec) *NameMatcher {
	return NewNameMatcher(r.mem, r.chains, spec)
}

// Invalidate drops the cached root so the next call locates it again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = nil
}

// Root returns the list root for hint, locating it if needed.
func (r *Resolver) Root(hint RootHint) (Root, error) {
	if hint.Container != 0 {
		return r.locator.FromContainer(hint.Container)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.root != nil && r.session == hint.Session {
		return *r.root, nil
	}
	if r.root != nil {
		r.log.Infoln("session changed", r.session, "->", hint.Session, "relocating root")
	}
	r.root = nil

	root, err := r.locator.Locate()
	if err != nil {
		return Root{}, err
	}
	r.root = &root
	r.session = hint.Session
	return root, nil
}

// ends reads and checks the head and tail records before any scan starts.
func (r *Resolver) ends(hint RootHint) (head, tail Node, err error) {
	root, err := r.Root(hint)
	if err != nil {
		return Node{}, Node{}, err
	}

	defer func() {
		if err != nil && !errors.Is(err, ErrChannel) {
			r.Invalidate()
			err = errors.Mark(err, ErrRootNotFound)
		}
	}()

	if head, err = r.scanner.ReadNode(root.Head); err != nil {
		return Node{}, Node{}, errors.Wrapf(err, "read head record %s", root.Head)
	}
	if tail, err = r.scanner.ReadNode(root.Tail); err != nil {
		return Node{}, Node{}, errors.Wrapf(err, "read tail record %s", root.Tail)
	}

	type check struct {
		what string
		addr process.ProcessMemoryAddress
	}
	checks := []check{{"head self", head.Self}, {"tail self", tail.Self}}
	if head.Self != tail.Self {
		checks = append(checks, check{"head next", head.Next}, check{"tail prev", tail.Prev})
	}
	for _, c := range checks {
		if err = r.validator.Validate(c.addr); err != nil {
			return Node{}, Node{}, errors.Wrap(err, c.what)
		}
	}
	return head, tail, nil
}

// ResolveWith races m over the list.
func (r *Resolver) ResolveWith(ctx context.Context, hint RootHint, m Matcher) (ScanResult, error) {
	head, tail, err := r.ends(hint)
	if err != nil {
		return ScanResult{}, err
	}

	if head.Self == tail.Self {
		return matchSingle(ctx, head, m)
	}
	return r.race.Resolve(ctx, head, tail, m)
}

// ResolveEntity is the entry point: locate the list, race both directions
// for the node named spec.Name and extract its fields.
func (r *Resolver) ResolveEntity(ctx context.Context, hint RootHint, spec MatcherSpec) (ResolvedEntity, error) {
	res, err := r.ResolveWith(ctx, hint, r.Matcher(spec))
	if err != nil {
		return ResolvedEntity{}, errors.Wrapf(err, "resolve %q", spec.Name)
	}
	return res.Entity, nil
}

// FindFirst walks head to tail only. It mirrors ResolveEntity's error
// classification for a single worker.
func (r *Resolver) FindFirst(ctx context.Context, hint RootHint, spec MatcherSpec) (ResolvedEntity, error) {
	head, tail, err := r.ends(hint)
	if err != nil {
		return ResolvedEntity{}, err
	}

	m := r.Matcher(spec)
	if head.Self == tail.Self {
		res, err := matchSingle(ctx, head, m)
		return res.Entity, err
	}

	res, err := r.scanner.Scan(ctx, ScanRange{Start: head, Terminal: tail}, Forward, m)
	switch {
	case err == nil:
		return res.Entity, nil
	case errors.Is(err, ErrCancelled):
		return ResolvedEntity{}, errors.Wrapf(ErrAborted, "%v", err)
	case errors.Is(err, ErrNotFound):
		// the terminal is never offered to the scan
		if tailRes, tailErr := matchSingle(ctx, tail, m); tailErr == nil {
			return tailRes.Entity, nil
		}
		return ResolvedEntity{}, errors.Mark(err, ErrEntityNotFound)
	case errors.Is(err, ErrScanExhausted):
		return ResolvedEntity{}, errors.Mark(err, ErrEntityNotFound)
	default:
		return ResolvedEntity{}, err
	}
}

func matchSingle(ctx context.Context, n Node, m Matcher) (ScanResult, error) {
	if ctx.Err() != nil {
		return ScanResult{}, errors.Wrapf(ErrAborted, "%v", ctx.Err())
	}
	entity, ok := m.Match(n)
	if !ok {
		return ScanResult{Visits: 1}, errors.Wrapf(ErrEntityNotFound, "single node %s", n.Self)
	}
	entity.Node = n
	entity.Via = Forward
	return ScanResult{Entity: entity, Direction: Forward, Visits: 1}, nil
}
