package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"paservices.dev/internal/migrate"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/store/pg"
)

func main() {
	var (
		dsn       = pflag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		seedsPath = pflag.String("seeds", "", "Directory of SQL seed files")
	)
	pflag.Parse()

	log := obs.Logger()
	if *dsn == "" {
		log.Error("missing DSN: provide via --dsn or DATABASE_URL")
		os.Exit(2)
	}
	if pflag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status|pending]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(store.DB(), nil, opts...)

	cmd := pflag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info("migration applied", "name", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil && name != "" {
			log.Info("migration reverted", "name", name)
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status", "pending":
		var names []string
		if cmd == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	default:
		log.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migrate failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}
