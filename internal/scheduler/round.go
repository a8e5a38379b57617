package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/coursegrab/internal/auth"
	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/obs"
	"github.com/example/coursegrab/internal/portal"
)

// DefaultWorkers caps concurrent probes in a round.
const DefaultWorkers = 5

// Prober attempts one course with the given credential.
type Prober interface {
	Probe(ctx context.Context, c course.Course, cred auth.Credential) portal.Result
}

// CredentialSource hands out the current credential and refreshes it when a
// probe reports it expired.
type CredentialSource interface {
	Token(ctx context.Context, forceRefresh bool) (auth.Credential, error)
	Refresh(ctx context.Context, stale auth.Credential) (auth.Credential, error)
}

// RoundResult summarizes one pass. Secured is nil when nothing was won.
type RoundResult struct {
	Secured     *course.Entry
	AuthExpired bool
	Probed      int
	Skipped     int
}

// Round runs one pass over the prioritized course list.
type Round struct {
	Prober     Prober
	Creds      CredentialSource
	Concurrent bool
	Workers    int
	Log        zerolog.Logger
	Metrics    *obs.Metrics
	Now        func() time.Time
}

func (r *Round) Run(ctx context.Context, courses []course.Course, record *course.SelectionRecord) (RoundResult, error) {
	ordered := course.SortByPriority(courses)
	if r.Concurrent {
		return r.runConcurrent(ctx, ordered, record)
	}
	return r.runSequential(ctx, ordered, record)
}

func (r *Round) runSequential(ctx context.Context, ordered []course.Course, record *course.SelectionRecord) (RoundResult, error) {
	var res RoundResult
	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !r.approve(c, record) {
			res.Skipped++
			continue
		}
		cred, err := r.Creds.Token(ctx, false)
		if err != nil {
			return res, err
		}

		res.Probed++
		pr := r.Prober.Probe(ctx, c, cred)
		r.logOutcome(c, pr)

		switch pr.Outcome {
		case portal.Secured:
			if e, ok := r.secure(c, record); ok {
				res.Secured = &e
				return res, nil
			}
		case portal.AuthExpired:
			res.AuthExpired = true
			if _, err := r.Creds.Refresh(ctx, cred); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

type probeDone struct {
	entry       *course.Entry
	authExpired bool
	fatal       error
}

// runConcurrent dispatches probes in priority order under the worker cap.
// The first success cancels the round; probes still in flight are abandoned
// and their results are never awaited.
func (r *Round) runConcurrent(ctx context.Context, ordered []course.Course, record *course.SelectionRecord) (RoundResult, error) {
	var res RoundResult
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sem := semaphore.NewWeighted(int64(workers))
	// buffered for every course so abandoned probes never block
	results := make(chan probeDone, len(ordered))
	pending := 0

	for _, c := range ordered {
		if !r.approve(c, record) {
			res.Skipped++
			continue
		}
		if err := sem.Acquire(rctx, 1); err != nil {
			break
		}
		cred, err := r.Creds.Token(rctx, false)
		if err != nil {
			sem.Release(1)
			if rctx.Err() != nil {
				break
			}
			return res, err
		}

		res.Probed++
		pending++
		go func(c course.Course, cred auth.Credential) {
			defer sem.Release(1)
			results <- r.probeOne(ctx, rctx, cancel, c, cred, record)
		}(c, cred)
	}

	for pending > 0 {
		select {
		case d := <-results:
			pending--
			if d.authExpired {
				res.AuthExpired = true
			}
			if d.entry != nil {
				res.Secured = d.entry
				return res, nil
			}
			if d.fatal != nil {
				return res, d.fatal
			}
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	return res, ctx.Err()
}

func (r *Round) probeOne(ctx, rctx context.Context, cancel context.CancelFunc, c course.Course, cred auth.Credential, record *course.SelectionRecord) probeDone {
	var d probeDone
	pr := r.Prober.Probe(rctx, c, cred)
	r.logOutcome(c, pr)

	switch pr.Outcome {
	case portal.Secured:
		if e, ok := r.secure(c, record); ok {
			d.entry = &e
			cancel()
		}
	case portal.AuthExpired:
		d.authExpired = true
		if rctx.Err() != nil {
			// round already decided, the next one refreshes
			break
		}
		if _, err := r.Creds.Refresh(ctx, cred); err != nil {
			d.fatal = err
			cancel()
		}
	}
	return d
}

// approve runs the conflict check and reports whether c should be probed.
func (r *Round) approve(c course.Course, record *course.SelectionRecord) bool {
	err := course.Check(c, record)
	if err == nil {
		return true
	}
	var ce *course.ConflictError
	switch {
	case errors.Is(err, course.ErrAlreadySecured):
		r.Metrics.Skipped("already_secured")
		r.Log.Debug().Str("course", c.Code).Str("section", c.Section).Msg("already secured")
	case errors.As(err, &ce):
		r.Metrics.Skipped(string(ce.Kind))
		r.Log.Info().Str("course", c.Code).Str("section", c.Section).Str("conflict", string(ce.Kind)).Err(err).Msg("skipping conflicting course")
	default:
		r.Log.Warn().Str("course", c.Code).Err(err).Msg("conflict check failed")
	}
	return false
}

// secure adds a confirmed claim to the record. A success that conflicts with
// one recorded earlier in the same round is dropped.
func (r *Round) secure(c course.Course, record *course.SelectionRecord) (course.Entry, bool) {
	e, err := record.Secure(c, r.now())
	if err != nil {
		r.Log.Warn().Str("course", c.Code).Str("section", c.Section).Err(err).Msg("discarding conflicting success")
		return course.Entry{}, false
	}
	r.Metrics.SetSecured(record.Len())
	r.Log.Info().Str("course", c.Code).Str("section", c.Section).Msg("course secured")
	return e, true
}

func (r *Round) logOutcome(c course.Course, pr portal.Result) {
	var ev *zerolog.Event
	switch pr.Outcome {
	case portal.TransientError, portal.AuthExpired:
		ev = r.Log.Warn().Err(pr.Err)
	default:
		ev = r.Log.Info()
	}
	ev.Str("course", c.Code).Str("section", c.Section).Stringer("status", pr.Outcome).Msg("probe finished")
}

func (r *Round) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
