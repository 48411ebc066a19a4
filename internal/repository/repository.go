// Package repository declares the storage capability the services depend on.
//
// Implementations live in sub-packages (sqlite, postgres, memory). Services
// only ever see the CodeStore interface, so a test can hand them the memory
// store and production can hand them PostGIS.
package repository

import (
	"context"

	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
)

// CodeStore is the remote store surface for codes and votes.
//
// CONTRACT:
//   - The store performs the geo filter. Results come back in store order
//     (creation order); callers sort by distance themselves.
//   - Missing rows are reported as apperror.ErrNotFound, except FindVote
//     which returns (nil, nil) when the device has not voted.
//   - InsertVote reports a second vote for the same (code, device) pair as
//     apperror.ErrConflict.
//   - RecomputeScore is one atomic statement: concurrent votes from
//     different devices cannot lose an update.
type CodeStore interface {
	FindWithinRadius(ctx context.Context, center geo.Point, radiusMeters float64) ([]model.Code, error)
	FindDuplicateWithinRadius(ctx context.Context, code string, center geo.Point, radiusMeters float64) (bool, error)
	InsertCode(ctx context.Context, code *model.Code) error
	GetCode(ctx context.Context, id string) (*model.Code, error)
	GetCodeOwner(ctx context.Context, codeID string) (string, error)

	FindVote(ctx context.Context, codeID, deviceID string) (*model.Vote, error)
	InsertVote(ctx context.Context, vote *model.Vote) error
	UpdateVote(ctx context.Context, voteID string, value int) error
	RecomputeScore(ctx context.Context, codeID string) (int, error)
}
