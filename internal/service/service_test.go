package service

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
	"github.com/sakif/stallcode/internal/repository/memory"
)

// =========================================================================
// TEST HELPERS
// =========================================================================
//
// Service tests run against the in-memory store. It honours the same
// contract as the SQL stores and can be told to fail any operation.

var here = geo.Point{Lat: 47.6169, Lon: -122.3201}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	store  *memory.Store
	guard  *DuplicateGuard
	nearby *NearbyService
	ledger *VoteLedger
}

// newTestEnv wires the services for one device. Use env.as(...) to act as
// a different device on the same store.
func newTestEnv(t *testing.T, deviceID string, policy DuplicatePolicy) *testEnv {
	t.Helper()
	store := memory.New()
	return newTestEnvWithStore(t, store, store, deviceID, policy)
}

func newTestEnvWithStore(t *testing.T, mem *memory.Store, store repository.CodeStore, deviceID string, policy DuplicatePolicy) *testEnv {
	t.Helper()
	logger := testLogger()
	devices := device.Static(deviceID)
	guard := NewDuplicateGuard(store, policy, logger)
	return &testEnv{
		store:  mem,
		guard:  guard,
		nearby: NewNearbyService(store, guard, devices, NearbyOptions{}, logger),
		ledger: NewVoteLedger(store, devices, logger),
	}
}

// as returns services acting as another device over the same store.
func (e *testEnv) as(t *testing.T, deviceID string) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, e.store, e.store, deviceID, e.guard.Policy())
}

// addCode stores a code through the service and fails the test on error.
func (e *testEnv) addCode(t *testing.T, code string, at geo.Point) *model.Code {
	t.Helper()
	rec, err := e.nearby.AddCode(context.Background(), model.NewCode{
		Code:      code,
		Latitude:  at.Lat,
		Longitude: at.Lon,
	})
	require.NoError(t, err)
	return rec
}

func (e *testEnv) score(t *testing.T, codeID string) int {
	t.Helper()
	c, err := e.store.GetCode(context.Background(), codeID)
	require.NoError(t, err)
	return c.VoteScore
}
