package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/obs"
	"github.com/example/coursegrab/internal/store"
)

type State int32

const (
	StateInit State = iota
	StateAuthenticating
	StateScheduling
	StateWaiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAuthenticating:
		return "authenticating"
	case StateScheduling:
		return "scheduling"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Goal string

const (
	GoalFirst Goal = "first"
	GoalAll   Goal = "all"
)

const (
	DefaultWaitTime = 5 * time.Second
	DefaultJitter   = 200 * time.Millisecond
)

// Loop drives rounds until a course is secured, the context is cancelled or
// authentication fails for good.
type Loop struct {
	Round   *Round
	Creds   CredentialSource
	Courses []course.Course
	Record  *course.SelectionRecord
	Store   store.Store
	RunID   uuid.UUID

	WaitTime         time.Duration
	Jitter           time.Duration
	Goal             Goal
	Resume           bool
	MaxRounds        int
	AuthFailureLimit int

	Log     zerolog.Logger
	Metrics *obs.Metrics

	// Sleep and Rand are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64

	state     atomic.Int32
	round     atomic.Int64
	runID     atomic.Value
	savedSize int
}

// Status reports the current state, round number and run ID. It is safe to
// call while Run is in progress.
func (l *Loop) Status() (State, int64, uuid.UUID) {
	id, _ := l.runID.Load().(uuid.UUID)
	return State(l.state.Load()), l.round.Load(), id
}

// Run returns nil on success and on cancellation. A non-nil error is fatal.
func (l *Loop) Run(ctx context.Context) error {
	l.transition(StateInit)
	if l.Record == nil {
		l.Record = course.NewSelectionRecord()
	}
	if l.RunID == uuid.Nil {
		l.RunID = uuid.New()
	}
	if l.Resume {
		if err := l.restore(ctx); err != nil {
			l.transition(StateTerminated)
			return err
		}
	}
	l.runID.Store(l.RunID)
	l.savedSize = l.Record.Len()
	l.Metrics.SetSecured(l.Record.Len())

	l.transition(StateAuthenticating)
	if _, err := l.Creds.Token(ctx, false); err != nil {
		if ctx.Err() != nil {
			return l.terminate(ctx, "cancelled")
		}
		l.transition(StateTerminated)
		return fmt.Errorf("initial authentication: %w", err)
	}

	failures := 0
	for round := int64(1); ; round++ {
		if ctx.Err() != nil {
			return l.terminate(ctx, "cancelled")
		}
		if l.MaxRounds > 0 && round > int64(l.MaxRounds) {
			return l.terminate(ctx, "round limit reached")
		}
		if l.remaining() == 0 {
			return l.terminate(ctx, "nothing left to attempt")
		}

		l.round.Store(round)
		l.transition(StateScheduling)
		l.Metrics.Round()

		res, err := l.schedule(ctx)
		if ctx.Err() != nil {
			return l.terminate(ctx, "cancelled")
		}
		switch {
		case errors.Is(err, internaltypes.ErrAuthUnavailable):
			failures++
			l.Log.Error().Err(err).Int64("round", round).Int("consecutive_auth_failures", failures).Msg("round aborted")
			if l.AuthFailureLimit > 0 && failures >= l.AuthFailureLimit {
				l.terminate(ctx, "authentication failure limit reached")
				return fmt.Errorf("%d consecutive authentication failures: %w", failures, err)
			}
		case err != nil:
			failures = 0
			l.Log.Error().Err(err).Int64("round", round).Msg("round aborted")
		default:
			failures = 0
		}

		if res.AuthExpired {
			l.Log.Info().Int64("round", round).Msg("credential expired during round")
		}
		if res.Secured != nil {
			l.save(ctx)
			if l.Goal != GoalAll {
				return l.terminate(ctx, "course secured")
			}
			continue
		}

		l.transition(StateWaiting)
		if err := l.sleep(ctx, l.backoff()); err != nil {
			return l.terminate(ctx, "cancelled")
		}
	}
}

// schedule re-checks the credential then runs one round.
func (l *Loop) schedule(ctx context.Context) (RoundResult, error) {
	if _, err := l.Creds.Token(ctx, false); err != nil {
		return RoundResult{}, err
	}
	return l.Round.Run(ctx, l.Courses, l.Record)
}

// remaining counts configured courses that are neither secured nor blocked
// by a secured course.
func (l *Loop) remaining() int {
	n := 0
	for _, c := range l.Courses {
		if course.Check(c, l.Record) == nil {
			n++
		}
	}
	return n
}

// backoff is WaitTime plus uniform jitter in [-Jitter, +Jitter], never negative.
func (l *Loop) backoff() time.Duration {
	wait := l.WaitTime
	if wait < 0 {
		wait = 0
	}
	jitter := l.Jitter
	if jitter < 0 {
		jitter = 0
	}
	r := rand.Float64
	if l.Rand != nil {
		r = l.Rand
	}
	d := wait + time.Duration((r()*2-1)*float64(jitter))
	if d < 0 {
		return 0
	}
	return d
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) restore(ctx context.Context) error {
	if l.Store == nil {
		return nil
	}
	snap, err := l.Store.Load(ctx)
	if errors.Is(err, internaltypes.ErrNotFound) {
		l.Log.Info().Msg("no saved selection to resume")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	l.Record.Restore(snap.Entries)
	if snap.RunID != uuid.Nil {
		l.RunID = snap.RunID
	}
	l.Log.Info().Str("run_id", l.RunID.String()).Int("entries", len(snap.Entries)).Time("saved_at", snap.SavedAt).Msg("selection resumed")
	return nil
}

// save persists the record. Failures are logged; the seats are already ours.
func (l *Loop) save(ctx context.Context) {
	if l.Store == nil {
		return
	}
	entries := l.Record.Entries()
	snap := store.Snapshot{RunID: l.RunID, SavedAt: time.Now().UTC(), Entries: entries}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.Store.Save(sctx, snap); err != nil {
		l.Log.Error().Err(err).Msg("saving selection failed")
		return
	}
	l.savedSize = len(entries)
	l.Log.Debug().Int("entries", len(entries)).Msg("selection saved")
}

func (l *Loop) terminate(ctx context.Context, reason string) error {
	// late successes from abandoned probes may have landed since the last save
	if l.Record.Len() != l.savedSize {
		l.save(ctx)
	}
	l.Log.Info().Str("reason", reason).Int("secured", l.Record.Len()).Msg("stopping")
	l.transition(StateTerminated)
	return nil
}

func (l *Loop) transition(s State) {
	l.state.Store(int32(s))
	l.Log.Info().Str("state", s.String()).Int64("round", l.round.Load()).Msg("state transition")
}
