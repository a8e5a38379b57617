package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/auth"
	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/obs"
)

type Outcome int

const (
	Secured Outcome = iota + 1
	Full
	NotFound
	AuthExpired
	TransientError
)

func (o Outcome) String() string {
	switch o {
	case Secured:
		return "secured"
	case Full:
		return "full"
	case NotFound:
		return "not_found"
	case AuthExpired:
		return "auth_expired"
	case TransientError:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result of one probe. Row is set when a claim succeeded; Err carries the
// cause for AuthExpired and TransientError.
type Result struct {
	Outcome Outcome
	Row     *SeatRow
	Err     error
}

// Prober runs the list-then-claim exchange for a single course.
type Prober struct {
	Client            *Client
	AllowOverCapacity bool
	Log               zerolog.Logger
	Metrics           *obs.Metrics
}

func (p *Prober) Probe(ctx context.Context, c course.Course, cred auth.Credential) Result {
	res := p.probe(ctx, c, cred)
	p.Metrics.Probe(res.Outcome.String())
	return res
}

func (p *Prober) probe(ctx context.Context, c course.Course, cred auth.Credential) Result {
	log := p.Log.With().Str("course", c.Code).Str("section", c.Section).Logger()

	rows, skipped, err := p.Client.List(ctx, cred.Token, c)
	if err != nil {
		return failure(err)
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("malformed seat rows ignored")
	}
	if len(rows) == 0 {
		if skipped > 0 {
			return Result{Outcome: TransientError, Err: fmt.Errorf("%w: all %d rows malformed", internaltypes.ErrTransient, skipped)}
		}
		return Result{Outcome: NotFound}
	}

	var netErr error
	for i := range rows {
		row := rows[i]
		if !row.HasSeat() && !p.AllowOverCapacity {
			log.Debug().Int("selected", row.Selected).Int("capacity", row.Capacity).Msg("class full")
			continue
		}
		// another probe may already have won the round
		if err := ctx.Err(); err != nil {
			return Result{Outcome: TransientError, Err: err}
		}
		err := p.Client.Claim(ctx, cred.Token, row)
		switch {
		case err == nil:
			return Result{Outcome: Secured, Row: &row}
		case errors.Is(err, internaltypes.ErrAuthExpired):
			return Result{Outcome: AuthExpired, Err: err}
		case errors.Is(err, ErrRejected):
			log.Info().Str("class", row.ClaimID).Err(err).Msg("claim rejected")
		default:
			log.Warn().Str("class", row.ClaimID).Err(err).Msg("claim failed")
			netErr = err
		}
	}
	if netErr != nil {
		return Result{Outcome: TransientError, Err: netErr}
	}
	return Result{Outcome: Full}
}

func failure(err error) Result {
	if errors.Is(err, internaltypes.ErrAuthExpired) {
		return Result{Outcome: AuthExpired, Err: err}
	}
	return Result{Outcome: TransientError, Err: err}
}
