package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"medconsult.org/internal/migrate"
	"medconsult.org/internal/obs"
	"medconsult.org/internal/store/pg"
)

type command struct {
	usage string
	run   func(ctx context.Context, r *migrate.Runner, args []string) error
}

var commands = map[string]command{
	"up":     {usage: "up", run: runUp},
	"down":   {usage: "down [-steps N]", run: runDown},
	"status": {usage: "status", run: runStatus},
	"seed":   {usage: "seed -dir PATH", run: runSeed},
}

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("MEDCONSULT_PG_DSN"), "PostgreSQL DSN")
	schemaDir := flag.String("schema", "", "directory of NNNN_name.{up,down}.sql files; empty uses the embedded schema")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Usage = usage
	flag.Parse()

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fatal("missing DSN: pass -dsn or set MEDCONSULT_PG_DSN", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		fatal("open database", err)
	}
	defer store.Close()

	var schema fs.FS = pg.Migrations()
	if *schemaDir != "" {
		schema = os.DirFS(*schemaDir)
	}
	runner, err := migrate.New(store.DB(), schema)
	if err != nil {
		fatal("load schema", err)
	}
	if err := cmd.run(ctx, runner, flag.Args()[1:]); err != nil {
		fatal(flag.Arg(0)+" failed", err)
	}
}

func runUp(ctx context.Context, r *migrate.Runner, _ []string) error {
	applied, err := r.Up(ctx)
	for _, m := range applied {
		obs.Info("migration applied", map[string]any{"version": m.Version, "name": m.Name})
	}
	if err == nil && len(applied) == 0 {
		obs.Info("schema up to date", nil)
	}
	return err
}

func runDown(ctx context.Context, r *migrate.Runner, args []string) error {
	fset := flag.NewFlagSet("down", flag.ExitOnError)
	steps := fset.Int("steps", 1, "number of migrations to revert")
	_ = fset.Parse(args)
	reverted, err := r.Down(ctx, *steps)
	for _, m := range reverted {
		obs.Info("migration reverted", map[string]any{"version": m.Version, "name": m.Name})
	}
	return err
}

func runStatus(ctx context.Context, r *migrate.Runner, _ []string) error {
	states, err := r.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, st := range states {
		applied := "pending"
		if !st.Pending() {
			applied = st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%04d\t%s\t%s\n", st.Version, st.Name, applied)
	}
	return tw.Flush()
}

func runSeed(ctx context.Context, r *migrate.Runner, args []string) error {
	fset := flag.NewFlagSet("seed", flag.ExitOnError)
	dir := fset.String("dir", "", "directory of .sql seed files")
	_ = fset.Parse(args)
	if *dir == "" {
		return errors.New("seed needs -dir")
	}
	ran, err := r.Seed(ctx, os.DirFS(*dir))
	for _, name := range ran {
		obs.Info("seed applied", map[string]any{"file": name})
	}
	return err
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] [-schema DIR] [-timeout D] <command>")
	for _, name := range []string{"up", "down", "status", "seed"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	flag.PrintDefaults()
}

func fatal(msg string, err error) {
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err
	}
	obs.Error(msg, fields)
	os.Exit(1)
}
