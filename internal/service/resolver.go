package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/metrics"
	"github.com/sakif/stallcode/internal/model"
)

// Resolver is one client's view of nearby codes: the last query centre and
// the ordered result set, kept in step with the client's own adds and votes
// without a full re-fetch.
//
// STALE RESPONSES:
// Every Refresh takes a generation number. When its query returns, the
// result is applied only if no newer Refresh has started and Close has not
// been called. The store call itself is never aborted.
//
// Codes added through the session while a Refresh is in flight may be
// missing from that query's snapshot, so they are merged back in when the
// result is applied.
type Resolver struct {
	nearby *NearbyService
	ledger *VoteLedger
	radius float64
	logger *slog.Logger

	mu        sync.Mutex
	gen       uint64
	closed    bool
	center    geo.Point
	hasCenter bool
	codes     []model.Code
	added     []model.Code // added since the latest Refresh started
}

// NewResolver creates a session that queries radius metres around each
// centre passed to Refresh (non-positive means the service default).
func NewResolver(nearby *NearbyService, ledger *VoteLedger, radius float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		nearby: nearby,
		ledger: ledger,
		radius: nearby.Radius(radius),
		logger: logger,
		codes:  []model.Code{},
	}
}

// Refresh rebuilds the result set around center. It reports whether the
// result was applied (false when superseded or closed).
func (r *Resolver) Refresh(ctx context.Context, center geo.Point) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.gen++
	gen := r.gen
	r.added = nil
	r.mu.Unlock()

	codes := r.nearby.Query(ctx, center, r.radius)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		metrics.NearbyQueries.WithLabelValues(metrics.OutcomeStale).Inc()
		r.logger.Debug("discarding stale nearby result",
			slog.Uint64("generation", gen),
			slog.Uint64("current", r.gen),
		)
		return false
	}
	r.center = center
	r.hasCenter = true
	r.codes = r.mergeAdded(codes, center)
	return true
}

// mergeAdded appends session adds missing from a query snapshot, keeping
// only those within the query radius. Called with r.mu held.
func (r *Resolver) mergeAdded(codes []model.Code, center geo.Point) []model.Code {
	if len(r.added) == 0 {
		return codes
	}
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		seen[c.ID] = true
	}
	merged := false
	for _, c := range r.added {
		if seen[c.ID] {
			continue
		}
		c.WithDistanceFrom(center)
		if *c.Distance > r.radius {
			continue
		}
		codes = append(codes, c)
		merged = true
	}
	if merged {
		SortByDistance(codes)
	}
	return codes
}

// Codes returns a copy of the current result set, nearest first.
func (r *Resolver) Codes() []model.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Code, len(r.codes))
	copy(out, r.codes)
	return out
}

// Center returns the centre of the last applied Refresh.
func (r *Resolver) Center() (geo.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.center, r.hasCenter
}

// Radius returns the query radius in metres.
func (r *Resolver) Radius() float64 { return r.radius }

// Add submits a code and, on success, merges it into the result set at its
// distance from the current centre.
func (r *Resolver) Add(ctx context.Context, candidate model.NewCode) (*model.Code, error) {
	rec, err := r.nearby.AddCode(ctx, candidate)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasCenter {
		rec.WithDistanceFrom(r.center)
	}
	if !r.closed {
		codes := make([]model.Code, len(r.codes), len(r.codes)+1)
		copy(codes, r.codes)
		r.codes = append(codes, *rec)
		SortByDistance(r.codes)
		r.added = append(r.added, *rec)
	}
	return rec, nil
}

// Vote casts a vote and applies the authoritative score to the matching
// record. Order is by distance, so nothing is re-sorted.
func (r *Resolver) Vote(ctx context.Context, codeID string, value int) (VoteResult, error) {
	res, err := r.ledger.CastVote(ctx, codeID, value)
	if err != nil {
		return res, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.codes {
		if r.codes[i].ID == codeID {
			r.codes[i].VoteScore = res.Score
		}
	}
	return res, nil
}

// Close detaches the session; in-flight refreshes are discarded.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
