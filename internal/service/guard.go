// Package service contains the business logic of stallcode.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP / CLI)     → parses input, renders output
//	Service (business rules) → validates, guards duplicates, runs the vote ledger
//	Repository (storage)     → sqlite, postgres or memory behind repository.CodeStore
//
// Services receive their collaborators (store, device identity, logger)
// through constructors. Nothing here knows about HTTP or SQL.
//
// ERRORS:
// Write paths return typed errors from internal/apperror so callers can tell
// a likely duplicate from a store outage from a self-vote. Read paths
// (nearby queries) swallow store failures and return an empty list.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/metrics"
	"github.com/sakif/stallcode/internal/repository"
)

// DuplicateRadiusMeters is how close the same code text must be to count
// as a duplicate.
const DuplicateRadiusMeters = 50.0

// DuplicatePolicy decides what happens when the duplicate check itself
// cannot reach the store.
type DuplicatePolicy string

const (
	// PolicyAdvisory fails open: the submission goes ahead unchecked.
	PolicyAdvisory DuplicatePolicy = "advisory"
	// PolicyStrict fails closed: the submission is rejected as unavailable.
	PolicyStrict DuplicatePolicy = "strict"
)

// ParseDuplicatePolicy accepts "advisory" and "strict". Empty means advisory.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", PolicyAdvisory:
		return PolicyAdvisory, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want advisory or strict)", s)
	}
}

// DuplicateGuard decides whether a submission repeats a code that already
// exists close by.
//
// It is a read-then-write check: two devices submitting the same code at
// the same moment can both pass. Uniqueness is best-effort.
type DuplicateGuard struct {
	store  repository.CodeStore
	policy DuplicatePolicy
	logger *slog.Logger
}

// NewDuplicateGuard creates a guard with the given failure policy.
func NewDuplicateGuard(store repository.CodeStore, policy DuplicatePolicy, logger *slog.Logger) *DuplicateGuard {
	if policy == "" {
		policy = PolicyAdvisory
	}
	return &DuplicateGuard{store: store, policy: policy, logger: logger}
}

// Policy returns the configured failure policy.
func (g *DuplicateGuard) Policy() DuplicatePolicy { return g.policy }

// IsDuplicate reports whether code already exists within
// DuplicateRadiusMeters of at.
//
// Under PolicyAdvisory a store failure is logged and reported as "not a
// duplicate" with a nil error. Under PolicyStrict it is returned as
// apperror.ErrUnavailable.
func (g *DuplicateGuard) IsDuplicate(ctx context.Context, code string, at geo.Point) (bool, error) {
	dup, err := g.store.FindDuplicateWithinRadius(ctx, code, at, DuplicateRadiusMeters)
	if err == nil {
		return dup, nil
	}

	metrics.DuplicateGuardFailures.Inc()
	if g.policy == PolicyStrict {
		g.logger.Error("duplicate check failed, rejecting submission",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return false, apperror.Unavailable("duplicate check", err)
	}

	g.logger.Warn("duplicate check failed, allowing submission",
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	return false, nil
}
