// Command fleet administers the vehicle fleet outside the broadcaster:
// importing vehicles and changing their operational status.
//
// Usage:
//
//	fleet import -file fleet.yaml
//	fleet import-gtfs -zip gtfs.zip -per-route 3 -capacity 80
//	fleet set-status -id B-1 -status maintenance
//	fleet list [-route R1]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mini-rodalies-3d/livebus/internal/config"
	"github.com/mini-rodalies-3d/livebus/internal/db"
	"github.com/mini-rodalies-3d/livebus/internal/fleet"
	"github.com/mini-rodalies-3d/livebus/internal/models"
)

const usage = `usage: fleet <command> [flags]

commands:
  import       -file fleet.yaml
  import-gtfs  -zip gtfs.zip -per-route N -capacity C [-status active]
  set-status   -id VEHICLE -status active|maintenance|offline
  list         [-route ROUTE]
`

func main() {
	log.SetPrefix("[FLEET] ")
	config.LoadDotEnv(".")

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run dispatches a subcommand. The store comes from the same environment
// the broadcaster reads (DATABASE_URL or SQLITE_DATABASE).
func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "import":
		return runImport(ctx, rest, out)
	case "import-gtfs":
		return runImportGTFS(ctx, rest, out)
	case "set-status":
		return runSetStatus(ctx, rest, out)
	case "list":
		return runList(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runImport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(out)
	file := fs.String("file", "", "Path to fleet YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("import: -file is required")
	}

	vehicles, err := fleet.LoadYAML(*file)
	if err != nil {
		return err
	}

	return withStore(ctx, func(store db.Store) error {
		if err := store.UpsertVehicles(ctx, vehicles); err != nil {
			return fmt.Errorf("failed to import vehicles: %w", err)
		}
		fmt.Fprintf(out, "Imported %d vehicles from %s\n", len(vehicles), *file)
		return nil
	})
}

func runImportGTFS(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import-gtfs", flag.ContinueOnError)
	fs.SetOutput(out)
	zipPath := fs.String("zip", "", "Path to static GTFS zip")
	perRoute := fs.Int("per-route", 2, "Simulated vehicles per route")
	capacity := fs.Int("capacity", 80, "Passenger capacity per vehicle")
	status := fs.String("status", string(models.StatusActive), "Initial vehicle status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *zipPath == "" {
		return errors.New("import-gtfs: -zip is required")
	}

	feed, err := fleet.ParseGTFS(*zipPath)
	if err != nil {
		return err
	}
	log.Printf("Parsed %s: %d routes, %d stops, %d trips", filepath.Base(*zipPath), len(feed.Routes), len(feed.Stops), len(feed.Trips))

	vehicles, err := fleet.BuildFromGTFS(feed, fleet.BuildOptions{
		PerRoute: *perRoute,
		Capacity: *capacity,
		Status:   models.VehicleStatus(*status),
	})
	if err != nil {
		return err
	}

	return withStore(ctx, func(store db.Store) error {
		if err := store.UpsertVehicles(ctx, vehicles); err != nil {
			return fmt.Errorf("failed to import vehicles: %w", err)
		}
		fmt.Fprintf(out, "Imported %d vehicles from %s\n", len(vehicles), *zipPath)
		return nil
	})
}

func runSetStatus(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	fs.SetOutput(out)
	id := fs.String("id", "", "Vehicle id")
	status := fs.String("status", "", "New status (active, maintenance, offline)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *status == "" {
		return errors.New("set-status: -id and -status are required")
	}

	return withStore(ctx, func(store db.Store) error {
		if err := store.SetVehicleStatus(ctx, *id, models.VehicleStatus(*status)); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s is now %s\n", *id, *status)
		return nil
	})
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(out)
	route := fs.String("route", "", "Only list vehicles on this route")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, func(store db.Store) error {
		vehicles, err := store.ListVehicles(ctx, *route)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROUTE\tSTATUS\tLAT\tLNG\tLOAD\tDELAY\tUPDATED")
		for _, v := range vehicles {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.6f\t%.6f\t%d/%d\t%d\t%s\n",
				v.ID, v.RouteID, v.Status, v.Location.Lat, v.Location.Lng,
				v.Occupancy, v.Capacity, v.DelayMinutes, models.FormatEventTime(v.UpdatedAt))
		}
		return tw.Flush()
	})
}

func withStore(ctx context.Context, fn func(store db.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !cfg.UsePostgres() {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := db.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}
