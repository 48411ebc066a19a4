// Package memory is an in-process repository.CodeStore for tests and demos.
//
// It mirrors the SQL stores' contract (insertion order, one vote per
// device per code, NotFound/Conflict kinds) and adds failure injection so
// service tests can exercise the unavailable paths.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

var _ repository.CodeStore = (*Store)(nil)

// Store keeps codes and votes in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	codes []*model.Code // insertion order
	byID  map[string]*model.Code
	votes map[voteKey]*model.Vote

	// failures maps an operation name (e.g. "FindWithinRadius") to the
	// error it should return instead of running.
	failures map[string]error
	calls    map[string]int
}

type voteKey struct{ codeID, deviceID string }

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:     make(map[string]*model.Code),
		votes:    make(map[voteKey]*model.Vote),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailOn makes op return err until cleared with FailOn(op, nil).
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records the call and returns the injected failure, if any.
// Callers hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *Store) FindWithinRadius(_ context.Context, center geo.Point, radiusMeters float64) ([]model.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindWithinRadius"); err != nil {
		return nil, err
	}

	out := []model.Code{}
	for _, c := range s.codes {
		if geo.Distance(center, c.Point()) <= radiusMeters {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) FindDuplicateWithinRadius(_ context.Context, code string, center geo.Point, radiusMeters float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindDuplicateWithinRadius"); err != nil {
		return false, err
	}

	for _, c := range s.codes {
		if c.Code == code && geo.Distance(center, c.Point()) <= radiusMeters {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertCode(_ context.Context, code *model.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertCode"); err != nil {
		return err
	}

	code.ID = xid.New().String()
	code.CreatedAt = time.Now().UTC()
	code.VoteScore = 0

	stored := *code
	stored.Distance = nil
	s.codes = append(s.codes, &stored)
	s.byID[stored.ID] = &stored
	return nil
}

func (s *Store) GetCode(_ context.Context, id string) (*model.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetCode"); err != nil {
		return nil, err
	}

	c, ok := s.byID[id]
	if !ok {
		return nil, apperror.NotFound("code", id)
	}
	result := *c
	return &result, nil
}

func (s *Store) GetCodeOwner(_ context.Context, codeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetCodeOwner"); err != nil {
		return "", err
	}

	c, ok := s.byID[codeID]
	if !ok {
		return "", apperror.NotFound("code", codeID)
	}
	return c.DeviceID, nil
}

func (s *Store) FindVote(_ context.Context, codeID, deviceID string) (*model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindVote"); err != nil {
		return nil, err
	}

	v, ok := s.votes[voteKey{codeID, deviceID}]
	if !ok {
		return nil, nil
	}
	result := *v
	return &result, nil
}

func (s *Store) InsertVote(_ context.Context, vote *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertVote"); err != nil {
		return err
	}

	if _, ok := s.byID[vote.CodeID]; !ok {
		return apperror.NotFound("code", vote.CodeID)
	}
	key := voteKey{vote.CodeID, vote.DeviceID}
	if _, exists := s.votes[key]; exists {
		return apperror.Conflict("vote", vote.CodeID)
	}

	vote.ID = xid.New().String()
	vote.CreatedAt = time.Now().UTC()
	stored := *vote
	s.votes[key] = &stored
	return nil
}

func (s *Store) UpdateVote(_ context.Context, voteID string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateVote"); err != nil {
		return err
	}

	for _, v := range s.votes {
		if v.ID == voteID {
			v.Value = value
			return nil
		}
	}
	return apperror.NotFound("vote", voteID)
}

// RecomputeScore sums under the store lock, which makes it atomic with
// respect to every other operation.
func (s *Store) RecomputeScore(_ context.Context, codeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecomputeScore"); err != nil {
		return 0, err
	}

	c, ok := s.byID[codeID]
	if !ok {
		return 0, apperror.NotFound("code", codeID)
	}
	sum := 0
	for k, v := range s.votes {
		if k.codeID == codeID {
			sum += v.Value
		}
	}
	c.VoteScore = sum
	return sum, nil
}
