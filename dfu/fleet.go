package dfu

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

// Target is one peripheral of a fleet update.
type Target struct {
	Address    string
	Image      []byte
	Descriptor []byte
	Variant    protocol.Variant
}

// Result is the outcome of one Target.
type Result struct {
	Address string
	Err     error
	Elapsed time.Duration
}

// LinkFactory returns a fresh, unconnected link for address.
type LinkFactory func(address string) (link.Link, error)

// UpdateAll updates every target concurrently, at most Config.Parallelism at
// a time. Each target gets its own link, Engine and session; a failing target
// does not stop the others.
//
// The returned slice has one Result per target, in order. The error is
// non-nil when at least one target failed. Targets still queued when ctx is
// done are skipped with ctx.Err(). A progress callback passed in opts
// is called from several goroutines; use Progress.Address to tell sessions
// apart.
func UpdateAll(ctx context.Context, targets []Target, newLink LinkFactory, opts ...Option) ([]Result, error) {
	if newLink == nil {
		return nil, errors.New("link factory cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	results := make([]Result, len(targets))

	var g errgroup.Group
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}

	for i := range targets {
		i, target := i, targets[i]
		g.Go(func() error {
			started := time.Now()
			results[i] = Result{Address: target.Address}

			// queued targets are not started once the caller gave up
			if err := ctx.Err(); err != nil {
				results[i].Err = errors.Wrapf(err, "skipped %s", target.Address)
				return nil
			}

			l, err := newLink(target.Address)
			if err != nil {
				results[i].Err = errors.Wrapf(err, "open link for %s", target.Address)
				return nil
			}

			err = New(l, opts...).Update(ctx, target.Address, target.Image, target.Descriptor, target.Variant)
			results[i].Err = err
			results[i].Elapsed = time.Since(started)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, errors.Errorf("%d of %d updates failed", failed, len(targets))
	}
	return results, nil
}
