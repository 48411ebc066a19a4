// Package seed provides a fixed set of demo codes around Capitol Hill,
// Seattle. It backs the CLI's seed command and the end-to-end tests.
package seed

import (
	"context"
	"fmt"

	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository"
)

// Center is the point the demo data is laid out around.
var Center = geo.Point{Lat: 47.6169, Lon: -122.3201}

// Records returns the 15 demo codes. VoteScore is the score Load builds up
// through real votes; the store itself always starts new codes at 0.
func Records() []model.Code {
	return []model.Code{
		{Code: "1357", Description: "Cal Anderson Park restrooms", Latitude: 47.6173, Longitude: -122.3195, VoteScore: 4},
		{Code: "2468#", Description: "Broadway grocery, back left", Latitude: 47.6148, Longitude: -122.3204, VoteScore: 2},
		{Code: "0000", Description: "Bookshop, ask at counter", Latitude: 47.6146, Longitude: -122.3193, VoteScore: 0},
		{Code: "5150", Description: "Light rail station mezzanine", Latitude: 47.6190, Longitude: -122.3203, VoteScore: -1},
		{Code: "8642*", Description: "Roastery upstairs", Latitude: 47.6141, Longitude: -122.3281, VoteScore: 3},
		{Code: "1111", Description: "Volunteer Park conservatory", Latitude: 47.6301, Longitude: -122.3151, VoteScore: 1},
		{Code: "7391", Description: "College library, 2nd floor", Latitude: 47.6163, Longitude: -122.3215, VoteScore: 0},
		{Code: "4040", Description: "Market lower level", Latitude: 47.6097, Longitude: -122.3422, VoteScore: 5},
		{Code: "2020#", Description: "Mall food court", Latitude: 47.6114, Longitude: -122.3370, VoteScore: -2},
		{Code: "9876", Description: "Hospital lobby", Latitude: 47.6085, Longitude: -122.3221, VoteScore: 1},
		{Code: "3141", Description: "Central library, level 3", Latitude: 47.6067, Longitude: -122.3325, VoteScore: 2},
		{Code: "6060", Description: "Seattle Center armory", Latitude: 47.6205, Longitude: -122.3493, VoteScore: 0},
		{Code: "2222", Description: "University Village", Latitude: 47.6636, Longitude: -122.2995, VoteScore: 1},
		{Code: "1852", Description: "Pioneer Square café", Latitude: 47.6007, Longitude: -122.3347, VoteScore: 0},
		{Code: "1917#", Description: "Locks visitor centre", Latitude: 47.6655, Longitude: -122.3972, VoteScore: 3},
	}
}

// DeviceID is the submitting device of every seeded code.
const DeviceID = "device_seed"

// Load inserts Records into store and casts votes from synthetic devices
// until each code reaches its listed score. It returns the stored codes.
func Load(ctx context.Context, store repository.CodeStore) ([]model.Code, error) {
	records := Records()
	out := make([]model.Code, 0, len(records))

	for i, r := range records {
		target := r.VoteScore
		c := r
		c.DeviceID = DeviceID
		if err := store.InsertCode(ctx, &c); err != nil {
			return nil, fmt.Errorf("seed: inserting %s: %w", r.Code, err)
		}

		value, n := model.Upvote, target
		if target < 0 {
			value, n = model.Downvote, -target
		}
		for v := 0; v < n; v++ {
			vote := &model.Vote{
				CodeID:   c.ID,
				DeviceID: fmt.Sprintf("device_seedvoter_%02d_%02d", i, v),
				Value:    value,
			}
			if err := store.InsertVote(ctx, vote); err != nil {
				return nil, fmt.Errorf("seed: voting on %s: %w", r.Code, err)
			}
		}

		score, err := store.RecomputeScore(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("seed: scoring %s: %w", r.Code, err)
		}
		c.VoteScore = score
		out = append(out, c)
	}

	return out, nil
}
