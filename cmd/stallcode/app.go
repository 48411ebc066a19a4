package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/sakif/stallcode/internal/config"
	"github.com/sakif/stallcode/internal/device"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/location"
	"github.com/sakif/stallcode/internal/logging"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/repository/sqlite"
	"github.com/sakif/stallcode/internal/seed"
	"github.com/sakif/stallcode/internal/service"
)

func newApp() *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:      "stallcode",
		Usage:     "find and share restroom door codes nearby",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "directory for the device identity and default database",
				Value:   defaults.Device.StateDir,
				Sources: cli.EnvVars("STALLCODE_DEVICE__STATE_DIR"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database path (default: <state-dir>/stallcode.db)",
				Sources: cli.EnvVars("STALLCODE_STORE__DSN"),
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "act as this device ID instead of the persisted one",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Sources: cli.EnvVars("STALLCODE_LOG__LEVEL"),
			},
			&cli.StringFlag{
				Name:    "duplicate-policy",
				Value:   defaults.Duplicate.Policy,
				Usage:   "advisory or strict",
				Sources: cli.EnvVars("STALLCODE_DUPLICATE__POLICY"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "nearby",
				Usage:  "list codes around a position, nearest first",
				Flags:  append(positionFlags(), &cli.FloatFlag{Name: "radius", Usage: "metres", Value: defaults.Nearby.DefaultRadius}),
				Action: runNearby,
			},
			{
				Name:      "add",
				Usage:     "share a code at a position",
				ArgsUsage: "<code>",
				Flags:     append(positionFlags(), &cli.StringFlag{Name: "description", Aliases: []string{"d"}}),
				Action:    runAdd,
			},
			{
				Name:      "vote",
				Usage:     "confirm (default) or dispute a code",
				ArgsUsage: "<code-id>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "down", Usage: "the code did not work"}},
				Action:    runVote,
			},
			{
				Name:   "seed",
				Usage:  "load the demo codes around Capitol Hill, Seattle",
				Action: runSeed,
			},
		},
	}
}

func positionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{Name: "lat", Usage: "latitude in degrees"},
		&cli.FloatFlag{Name: "lon", Usage: "longitude in degrees"},
	}
}

// env is everything a subcommand needs, opened from the root flags.
type env struct {
	store  *sqlite.DB
	nearby *service.NearbyService
	ledger *service.VoteLedger
	logger *slog.Logger
	out    io.Writer
}

func openEnv(cmd *cli.Command) (*env, error) {
	root := cmd.Root()
	// Logs go to stderr so tables on stdout stay clean.
	logger, _, err := logging.New(logging.Options{Level: root.String("log-level"), Output: root.ErrWriter})
	if err != nil {
		return nil, err
	}

	stateDir := root.String("state-dir")
	dbPath := root.String("db")
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "stallcode.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, err
	}

	var devices device.Provider = device.NewFileProvider(stateDir, logger)
	if id := root.String("device"); id != "" {
		devices = device.Static(id)
	}

	policy, err := service.ParseDuplicatePolicy(root.String("duplicate-policy"))
	if err != nil {
		store.Close()
		return nil, err
	}
	guard := service.NewDuplicateGuard(store, policy, logger)

	return &env{
		store:  store,
		nearby: service.NewNearbyService(store, guard, devices, service.NearbyOptions{}, logger),
		ledger: service.NewVoteLedger(store, devices, logger),
		logger: logger,
		out:    root.Writer,
	}, nil
}

// position resolves --lat/--lon for read-only commands, falling back to
// the default map centre with a warning when they are missing.
func (e *env) position(ctx context.Context, cmd *cli.Command) geo.Point {
	reported := location.Reported{}
	if cmd.IsSet("lat") && cmd.IsSet("lon") {
		reported.Point = &geo.Point{Lat: cmd.Float("lat"), Lon: cmd.Float("lon")}
	}
	fix := location.NewResolver(location.DefaultFallback, e.logger).Resolve(ctx, reported)
	if fix.Degraded {
		fmt.Fprintf(cmd.Root().ErrWriter, "no valid --lat/--lon, using %.4f,%.4f\n", fix.Point.Lat, fix.Point.Lon)
	}
	return fix.Point
}

// exactPosition is the --lat/--lon pair for commands that write. A new
// code is only filed where the user says it is, never at the fallback.
func exactPosition(cmd *cli.Command) (geo.Point, error) {
	if !cmd.IsSet("lat") || !cmd.IsSet("lon") {
		return geo.Point{}, errors.New("location not available: pass --lat and --lon")
	}
	at := geo.Point{Lat: cmd.Float("lat"), Lon: cmd.Float("lon")}
	if !at.Valid() {
		return geo.Point{}, fmt.Errorf("location not available: %g,%g is out of range", at.Lat, at.Lon)
	}
	return at, nil
}

func runNearby(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	session := service.NewResolver(e.nearby, e.ledger, cmd.Float("radius"), e.logger)
	defer session.Close()
	session.Refresh(ctx, e.position(ctx, cmd))

	codes := session.Codes()
	if len(codes) == 0 {
		fmt.Fprintf(e.out, "no codes within %.0f m\n", session.Radius())
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tCODE\tSCORE\tDESCRIPTION\tID")
	for _, c := range codes {
		dist := "?"
		if c.Distance != nil {
			dist = fmt.Sprintf("%.0f m", *c.Distance)
		}
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t%s\n", dist, c.Code, c.VoteScore, c.Description, c.ID)
	}
	return tw.Flush()
}

func runAdd(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("add takes exactly one code")
	}
	at, err := exactPosition(cmd)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	rec, err := e.nearby.AddCode(ctx, model.NewCode{
		Code:        cmd.Args().First(),
		Description: cmd.String("description"),
		Latitude:    at.Lat,
		Longitude:   at.Lon,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "added %s (id %s)\n", rec.Code, rec.ID)
	return nil
}

func runVote(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("vote takes exactly one code id")
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	value := model.Upvote
	if cmd.Bool("down") {
		value = model.Downvote
	}
	res, err := e.ledger.CastVote(ctx, cmd.Args().First(), value)
	if err != nil {
		return err
	}
	if !res.Changed {
		fmt.Fprintf(e.out, "already voted %s, score %+d\n", res.State, res.Score)
		return nil
	}
	fmt.Fprintf(e.out, "voted %s, score %+d\n", res.State, res.Score)
	return nil
}

func runSeed(ctx context.Context, cmd *cli.Command) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	codes, err := seed.Load(ctx, e.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "seeded %d codes around %.4f,%.4f\n", len(codes), seed.Center.Lat, seed.Center.Lon)
	return nil
}
