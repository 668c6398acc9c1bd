package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultEndpoint = "http://127.0.0.1:8090"
	endpointEnv     = "FARMCTL_ENDPOINT"
	tokenEnv        = "FARMCTL_TOKEN"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("farmctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	endpoint := fs.String("endpoint", envOr(endpointEnv, defaultEndpoint), "farmd base URL")
	token := fs.String("token", "", "bearer token (defaults to $"+tokenEnv+" or a prompt)")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	c := newClient(*endpoint, newTokenSource(*token, tokenEnv, stderr))
	cmd := &command{ctx: ctx, client: c, stdout: stdout, stderr: stderr}

	switch rest[0] {
	case "pools":
		return cmd.pools(rest[1:])
	case "pool":
		return cmd.pool(rest[1:])
	case "totals":
		return cmd.totals(rest[1:])
	case "position":
		return cmd.position(rest[1:])
	case "pending":
		return cmd.pending(rest[1:])
	case "balance":
		return cmd.balance(rest[1:])
	case "events":
		return cmd.events(rest[1:])
	case "deposit":
		return cmd.deposit(rest[1:])
	case "withdraw":
		return cmd.withdraw(rest[1:])
	case "harvest":
		return cmd.harvest(rest[1:])
	case "emergency-withdraw":
		return cmd.emergencyWithdraw(rest[1:])
	case "admin":
		return cmd.admin(rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func usage() string {
	return strings.TrimSpace(`
Usage: farmctl [--endpoint URL] [--token TOKEN] <command> [args]

Queries:
  pools                                   list every pool
  pool <pid>                              show one pool
  totals                                  show registry totals
  position <pid> <address>                show a participant position
  pending <pid> <address>                 project harvestable reward
  balance <asset> <address>               show a custody balance
  events [--after N] [--limit N]          page through the event journal

Participant (token scope farm:stake):
  deposit <pid> --amount N [--beneficiary ADDR]
  withdraw <pid> --amount N [--recipient ADDR] [--harvest]
  harvest <pid> [--recipient ADDR]
  emergency-withdraw <pid> [--recipient ADDR]

Admin (token scope farm:admin):
  admin add-pool --alloc N --asset A [--hook REF]
  admin set-pool <pid> --alloc N [--hook REF --overwrite-hook]
  admin set-weight <pid> --weight N
  admin set-rate <pid> --rate N
  admin allocate <pid> --amount N
  admin migrate <pid>
  admin update [pid...]
  admin credit --asset A --amount N (--account ADDR | --engine)
  admin pause | admin unpause
  admin audit
  admin export`)
}
