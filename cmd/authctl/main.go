// Command authctl administers the auth service database and exercises the
// client side of the token protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"paservices.dev/internal/obs"
)

const usage = `usage: authctl <command> [flags]

commands:
  migrate up|down|status|pending   apply or inspect the schema
  bootstrap [--file path]          apply the RBAC baseline
  client create --name n [--role r]
  client deactivate <client_id>
  client rotate <client_id>        issue a new client secret
  token [--force]                  fetch an access token for M2M_CLIENT_ID
  call [--method m] [--data d] url call a service with a bearer token
`

type command func(ctx context.Context, args []string, out io.Writer) error

var commands = map[string]command{
	"migrate":   runMigrate,
	"bootstrap": runBootstrap,
	"client":    runClient,
	"token":     runToken,
	"call":      runCall,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, os.Args[2:], os.Stdout); err != nil {
		obs.Logger().Error("authctl failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
