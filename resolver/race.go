package resolver

import (
	"context"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// RaceResolver scans a list from both ends at once and keeps whichever
// direction matches first.
type RaceResolver struct {
	scanner *Scanner
	log     *logger.Logger
}

func NewRaceResolver(s *Scanner) *RaceResolver {
	return &RaceResolver{
		scanner: s,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "race")),
	}
}

type outcome struct {
	res ScanResult
	err error
}

// Resolve runs a forward walk head→tail and a backward walk tail→head that
// share one cancellation signal. The first match wins and cancels the other
// walk, which stops at its next loop top; Resolve returns once both workers
// have exited.
//
// With no match it fails with ErrAborted if ctx was cancelled, with a channel
// error if either walk lost the transport, and with ErrEntityNotFound
// otherwise. An exhausted walk yields an error matching both
// ErrScanExhausted and ErrEntityNotFound.
func (r *RaceResolver) Resolve(ctx context.Context, head, tail Node, m Matcher) (ScanResult, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan outcome, 2)
	var g errgroup.Group

	workers := []struct {
		rng ScanRange
		dir Direction
	}{
		{ScanRange{Start: head, Terminal: tail}, Forward},
		{ScanRange{Start: tail, Terminal: head}, Backward},
	}
	for _, w := range workers {
		w := w
		g.Go(func() error {
			res, err := r.scanner.Scan(scanCtx, w.rng, w.dir, m)
			outcomes <- outcome{res: res, err: err}
			return nil
		})
	}

	var (
		winner   *outcome
		failures []error
	)
	for range workers {
		o := <-outcomes
		if o.err == nil {
			winner = &o
			cancel()
			break
		}
		failures = append(failures, o.err)
	}
	_ = g.Wait()

	if winner != nil {
		r.log.Infoln("entity found", winner.res.Direction.String(), "at", winner.res.Entity.Address.ToString(),
			"after", winner.res.Visits, "nodes")
		return winner.res, nil
	}

	return ScanResult{}, r.classify(ctx, failures)
}

func (r *RaceResolver) classify(ctx context.Context, failures []error) error {
	if ctx.Err() != nil {
		return errors.Wrapf(ErrAborted, "%v", ctx.Err())
	}

	for _, err := range failures {
		if errors.Is(err, ErrChannel) {
			return err
		}
	}

	combined := errors.Newf("forward: %v; backward: %v", failures[0], failures[1])
	for _, err := range failures {
		if errors.Is(err, ErrScanExhausted) {
			return errors.Mark(errors.Mark(combined, ErrScanExhausted), ErrEntityNotFound)
		}
	}
	return errors.Mark(combined, ErrEntityNotFound)
}
