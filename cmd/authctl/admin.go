package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/migrate"
	"paservices.dev/internal/store/pg"
)

func openStore(dsn string) (*pg.Store, error) {
	if dsn == "" {
		return nil, errors.New("missing DSN: provide via --dsn or DATABASE_URL")
	}
	return pg.Open(dsn)
}

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlags("migrate")
	dsn := fs.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: authctl migrate up|down|status|pending")
	}
	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), nil)
	var names []string
	switch fs.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		if name, err = mgr.Down(ctx); name != "" {
			names = []string{name}
		}
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q", fs.Arg(0))
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return err
}

func runBootstrap(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlags("bootstrap")
	dsn := fs.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	file := fs.String("file", os.Getenv("AUTH_BOOTSTRAP_FILE"), "YAML baseline overriding the built-in one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	baseline, err := loadBaseline(*file)
	if err != nil {
		return err
	}
	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := auth.NewRBACService(store).Bootstrap(ctx, baseline)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func loadBaseline(path string) (auth.Baseline, error) {
	if path == "" {
		return auth.DefaultBaseline()
	}
	return auth.LoadBaselineFile(path)
}

func runClient(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: authctl client create|deactivate|rotate")
	}
	sub := args[0]
	fs := newFlags("client " + sub)
	dsn := fs.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	name := fs.String("name", "", "client name (create)")
	description := fs.String("description", "", "client description (create)")
	roles := fs.StringSlice("role", nil, "role names to assign (create)")
	callbacks := fs.StringSlice("callback-url", nil, "allowed callback URLs (create)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	rbac := auth.NewRBACService(store)

	switch sub {
	case "create":
		return createClient(ctx, rbac, out, auth.NewClientInput{
			Name:         *name,
			Description:  *description,
			CallbackURLs: *callbacks,
		}, *roles)
	case "deactivate":
		if fs.NArg() != 1 {
			return errors.New("usage: authctl client deactivate <client_id>")
		}
		client, err := rbac.SetClientActive(ctx, fs.Arg(0), false)
		if err != nil {
			return err
		}
		return writeJSON(out, client)
	case "rotate":
		if fs.NArg() != 1 {
			return errors.New("usage: authctl client rotate <client_id>")
		}
		secret, err := rbac.RotateClientSecret(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"client_id": fs.Arg(0), "client_secret": secret})
	default:
		return fmt.Errorf("unknown client command %q", sub)
	}
}

func createClient(ctx context.Context, rbac *auth.RBACService, out io.Writer, in auth.NewClientInput, roleNames []string) error {
	byName := map[string]string{}
	if len(roleNames) > 0 {
		roles, err := rbac.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, r := range roles {
			byName[r.Name] = r.ID
		}
		for _, n := range roleNames {
			if _, ok := byName[strings.ToLower(n)]; !ok {
				return fmt.Errorf("unknown role %q", n)
			}
		}
	}

	client, secret, err := rbac.CreateClient(ctx, in)
	if err != nil {
		return err
	}
	for _, n := range roleNames {
		if _, err := rbac.AssignClientRole(ctx, client.ID, byName[strings.ToLower(n)]); err != nil {
			return fmt.Errorf("assign role %s: %w", n, err)
		}
	}
	return writeJSON(out, map[string]any{
		"client":        client,
		"client_secret": secret,
		"roles":         roleNames,
	})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
