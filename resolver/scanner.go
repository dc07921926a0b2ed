package resolver

import (
	"context"

	"objgraph/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/cockroachdb/errors"
)

// DefaultMaxVisits bounds a single directional walk.
const DefaultMaxVisits = 1 << 18

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Matcher inspects one node. A node whose fields cannot be read is simply
// not a match; implementations must not fail the scan.
type Matcher interface {
	Match(n Node) (ResolvedEntity, bool)
}

type MatcherFunc func(n Node) (ResolvedEntity, bool)

func (f MatcherFunc) Match(n Node) (ResolvedEntity, bool) { return f(n) }

// ScanRange bounds one directional walk. Terminal is only a stop condition
// and is never offered to the matcher.
type ScanRange struct {
	Start    Node
	Terminal Node
}

// ScanResult is what one walk produced. Visits counts matcher invocations.
type ScanResult struct {
	Entity    ResolvedEntity
	Direction Direction
	Visits    int
}

// Scanner walks node records. Workers share nothing but the accessor.
type Scanner struct {
	mem       process.MemoryAccessor
	validator *Validator
	layout    NodeLayout
	maxVisits int
	log       *logger.Logger
}

type ScannerOption func(*Scanner)

func WithNodeLayout(l NodeLayout) ScannerOption {
	return func(s *Scanner) { s.layout = l }
}

// WithMaxVisits sets the per-walk budget; n <= 0 keeps the default.
func WithMaxVisits(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.maxVisits = n
		}
	}
}

func NewScanner(mem process.MemoryAccessor, v *Validator, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		mem:       mem,
		validator: v,
		layout:    DefaultNodeLayout,
		maxVisits: DefaultMaxVisits,
		log:       logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scanner")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadNode reads the record at addr using the scanner's layout.
func (s *Scanner) ReadNode(addr process.ProcessMemoryAddress) (Node, error) {
	return ReadNode(s.mem, s.layout, addr)
}

// Scan walks from rng.Start toward rng.Terminal. It returns ErrCancelled if
// ctx is done at the top of an iteration, ErrNotFound on reaching the
// terminal or a dead link, ErrScanExhausted when the visit budget runs out,
// and a channel error if the transport fails.
func (s *Scanner) Scan(ctx context.Context, rng ScanRange, dir Direction, m Matcher) (res ScanResult, err error) {
	res.Direction = dir
	current := rng.Start

	defer func() {
		if err != nil {
			s.log.Debugln("scan stopped:", err)
		} else {
			s.log.Debugln(dir, "match at", res.Entity.Node.Self.ToString(), "after", res.Visits, "nodes")
		}
	}()

	for current.Self != rng.Terminal.Self {
		if ctx.Err() != nil {
			return res, errors.Wrapf(ErrCancelled, "%s after %d nodes", dir, res.Visits)
		}
		if res.Visits >= s.maxVisits {
			return res, errors.Wrapf(ErrScanExhausted, "%s walked %d nodes without reaching the terminal", dir, res.Visits)
		}
		if !s.validator.IsValid(current.Self) {
			return res, errors.Wrapf(ErrNotFound, "%s dead end at record %s", dir, current.Record)
		}

		res.Visits++
		if entity, ok := m.Match(current); ok {
			entity.Node = current
			entity.Via = dir
			res.Entity = entity
			return res, nil
		}

		link := current.Next
		if dir == Backward {
			link = current.Prev
		}
		if linkErr := s.validator.Validate(link); linkErr != nil {
			return res, errors.Wrapf(ErrNotFound, "%s broken link at record %s: %v", dir, current.Record, linkErr)
		}

		next, readErr := s.ReadNode(link)
		if readErr != nil {
			if errors.Is(readErr, ErrChannel) {
				return res, errors.Wrapf(readErr, "%s read node %s", dir, link)
			}
			return res, errors.Wrapf(ErrNotFound, "%s unreadable node %s: %v", dir, link, readErr)
		}
		current = next
	}

	return res, errors.Wrapf(ErrNotFound, "%s reached terminal after %d nodes", dir, res.Visits)
}
