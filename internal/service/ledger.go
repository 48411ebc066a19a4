package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/metrics"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

// VoteState is where a device stands on one code.
type VoteState int

const (
	NoVote VoteState = iota
	UpVoted
	DownVoted
)

func (s VoteState) String() string {
	switch s {
	case UpVoted:
		return "up"
	case DownVoted:
		return "down"
	default:
		return "none"
	}
}

// MarshalText renders the state as "none", "up" or "down" in JSON.
func (s VoteState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateOf(value int) VoteState {
	switch value {
	case model.Upvote:
		return UpVoted
	case model.Downvote:
		return DownVoted
	default:
		return NoVote
	}
}

// VoteResult is the outcome of a successful CastVote.
type VoteResult struct {
	State   VoteState `json:"state"`
	Changed bool      `json:"changed"` // false for a same-value re-vote
	Score   int       `json:"score"`   // authoritative score from the store
}

// VoteLedger turns a device's vote into at most one Vote row per
// (code, device) and keeps the code's score equal to the sum of its votes.
//
// STATE MACHINE (per code and device):
//
//	NoVote    --vote v-->        Up/Down    insert
//	Up/Down   --same value-->    unchanged  no-op
//	Up/Down   --opposite-->      Down/Up    update in place
//
// Every real transition ends with the store's atomic RecomputeScore, whose
// result is returned so callers never have to guess the new score.
type VoteLedger struct {
	store   repository.CodeStore
	devices device.Provider
	logger  *slog.Logger
}

// NewVoteLedger creates a VoteLedger.
func NewVoteLedger(store repository.CodeStore, devices device.Provider, logger *slog.Logger) *VoteLedger {
	return &VoteLedger{store: store, devices: devices, logger: logger}
}

// CastVote records value (+1 or -1) for codeID on behalf of the current
// device.
//
// Errors:
//   - apperror.ErrValidation: value is not ±1 or codeID is empty
//   - apperror.ErrNotFound: the code does not exist
//   - apperror.ErrSelfVote: the device submitted the code itself
//   - apperror.ErrUnavailable: the store or device identity failed
func (l *VoteLedger) CastVote(ctx context.Context, codeID string, value int) (VoteResult, error) {
	res, err := l.castVote(ctx, codeID, value)
	metrics.Votes.WithLabelValues(voteOutcome(res, err)).Inc()
	return res, err
}

func (l *VoteLedger) castVote(ctx context.Context, codeID string, value int) (VoteResult, error) {
	codeID = strings.TrimSpace(codeID)
	if codeID == "" {
		return VoteResult{}, apperror.ValidationFailed("id", "code ID is required")
	}
	if !model.ValidVoteValue(value) {
		return VoteResult{}, apperror.ValidationFailed("value", "vote must be 1 or -1")
	}

	deviceID, err := l.devices.DeviceID(ctx)
	if err != nil {
		return VoteResult{}, l.fail("vote", codeID, err)
	}

	owner, err := l.store.GetCodeOwner(ctx, codeID)
	if err != nil {
		return VoteResult{}, l.fail("vote", codeID, err)
	}
	if owner == deviceID {
		return VoteResult{}, apperror.SelfVote(codeID)
	}

	existing, err := l.store.FindVote(ctx, codeID, deviceID)
	if err != nil {
		return VoteResult{}, l.fail("vote", codeID, err)
	}

	if existing == nil {
		err = l.store.InsertVote(ctx, &model.Vote{CodeID: codeID, DeviceID: deviceID, Value: value})
		if errors.Is(err, apperror.ErrConflict) {
			// Another request from this device inserted first. Re-read and
			// treat it as an existing vote.
			existing, err = l.store.FindVote(ctx, codeID, deviceID)
			if err == nil && existing == nil {
				err = apperror.Conflict("vote", codeID)
			}
		}
		if err != nil {
			return VoteResult{}, l.fail("vote", codeID, err)
		}
	}

	if existing != nil {
		if existing.Value == value {
			c, err := l.store.GetCode(ctx, codeID)
			if err != nil {
				return VoteResult{}, l.fail("vote", codeID, err)
			}
			return VoteResult{State: stateOf(value), Changed: false, Score: c.VoteScore}, nil
		}
		if err := l.store.UpdateVote(ctx, existing.ID, value); err != nil {
			return VoteResult{}, l.fail("vote", codeID, err)
		}
	}

	score, err := l.store.RecomputeScore(ctx, codeID)
	if err != nil {
		return VoteResult{}, l.fail("vote", codeID, err)
	}

	l.logger.Info("vote recorded",
		slog.String("code_id", codeID),
		slog.String("state", stateOf(value).String()),
		slog.Int("score", score),
	)
	return VoteResult{State: stateOf(value), Changed: true, Score: score}, nil
}

// fail passes NotFound and already-typed unavailability through and turns
// anything else into apperror.ErrUnavailable.
func (l *VoteLedger) fail(op, codeID string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrUnavailable) {
		return err
	}
	l.logger.Error("vote failed",
		slog.String("code_id", codeID),
		slog.String("error", err.Error()),
	)
	return apperror.Unavailable(op, err)
}

func voteOutcome(res VoteResult, err error) string {
	switch {
	case err == nil && !res.Changed:
		return metrics.OutcomeNoop
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, apperror.ErrSelfVote):
		return metrics.OutcomeSelfVote
	case errors.Is(err, apperror.ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, apperror.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeUnavailable
	}
}
