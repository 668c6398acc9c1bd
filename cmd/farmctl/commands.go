package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

type command struct {
	ctx    context.Context
	client *client
	stdout io.Writer
	stderr io.Writer
}

func (c *command) fail(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(c.stderr, "Error: %s\n", apiErr.Error())
		return 2
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *command) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("farmctl "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseWithPool parses args of the form "<pid> [flags]".
func (c *command) parseWithPool(fs *flag.FlagSet, args []string) (uint64, bool) {
	if len(args) == 0 {
		fmt.Fprintf(c.stderr, "Usage: %s <pid> [flags]\n", fs.Name())
		return 0, false
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: invalid pool id %q\n", args[0])
		return 0, false
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 0, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return 0, false
	}
	return pid, true
}

func (c *command) pools(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(c.stderr, "Usage: farmctl pools")
		return 1
	}
	var pools []poolView
	if err := c.client.call(c.ctx, http.MethodGet, "/v1/pools", false, nil, &pools); err != nil {
		return c.fail(err)
	}
	printPools(c.stdout, pools)
	return 0
}

func (c *command) pool(args []string) int {
	pid, ok := c.parseWithPool(c.flags("pool"), args)
	if !ok {
		return 1
	}
	var pool poolView
	if err := c.client.call(c.ctx, http.MethodGet, fmt.Sprintf("/v1/pools/%d", pid), false, nil, &pool); err != nil {
		return c.fail(err)
	}
	printPool(c.stdout, pool)
	return 0
}

func (c *command) totals(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(c.stderr, "Usage: farmctl totals")
		return 1
	}
	var totals totalsView
	if err := c.client.call(c.ctx, http.MethodGet, "/v1/totals", false, nil, &totals); err != nil {
		return c.fail(err)
	}
	printTotals(c.stdout, totals)
	return 0
}

func (c *command) poolAndAddress(name string, args []string) (uint64, string, bool) {
	if len(args) != 2 {
		fmt.Fprintf(c.stderr, "Usage: farmctl %s <pid> <address>\n", name)
		return 0, "", false
	}
	pid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: invalid pool id %q\n", args[0])
		return 0, "", false
	}
	return pid, args[1], true
}

func (c *command) position(args []string) int {
	pid, addr, ok := c.poolAndAddress("position", args)
	if !ok {
		return 1
	}
	var pos positionView
	path := fmt.Sprintf("/v1/pools/%d/positions/%s", pid, url.PathEscape(addr))
	if err := c.client.call(c.ctx, http.MethodGet, path, false, nil, &pos); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Position in pool %d for %s\n", pid, addr)
	fmt.Fprintf(c.stdout, "  Amount:       %s\n", formatAmount(pos.Amount))
	fmt.Fprintf(c.stdout, "  Reward debt:  %s\n", pos.RewardDebt)
	return 0
}

func (c *command) pending(args []string) int {
	pid, addr, ok := c.poolAndAddress("pending", args)
	if !ok {
		return 1
	}
	var view pendingView
	path := fmt.Sprintf("/v1/pools/%d/pending/%s", pid, url.PathEscape(addr))
	if err := c.client.call(c.ctx, http.MethodGet, path, false, nil, &view); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Pending reward in pool %d: %s (at %s)\n", pid, formatAmount(view.Pending), formatCount(view.At))
	return 0
}

func (c *command) balance(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(c.stderr, "Usage: farmctl balance <asset> <address>")
		return 1
	}
	var view balanceView
	path := fmt.Sprintf("/v1/balances/%s/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
	if err := c.client.call(c.ctx, http.MethodGet, path, false, nil, &view); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "%s %s\n", formatAmount(view.Amount), view.Asset)
	return 0
}

func (c *command) events(args []string) int {
	fs := c.flags("events")
	after := fs.Uint64("after", 0, "return entries after this sequence")
	limit := fs.Int("limit", 50, "maximum entries to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	query.Set("after", strconv.FormatUint(*after, 10))
	query.Set("limit", strconv.Itoa(*limit))
	var entries []entryView
	if err := c.client.call(c.ctx, http.MethodGet, "/v1/events?"+query.Encode(), false, nil, &entries); err != nil {
		return c.fail(err)
	}
	printEntries(c.stdout, entries)
	return 0
}

func (c *command) deposit(args []string) int {
	fs := c.flags("deposit")
	amount := fs.String("amount", "", "stake amount")
	beneficiary := fs.String("beneficiary", "", "credited participant (defaults to the token subject)")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	if *amount == "" {
		fmt.Fprintln(c.stderr, "Error: --amount is required")
		return 1
	}
	body := map[string]string{"amount": *amount}
	if *beneficiary != "" {
		body["beneficiary"] = *beneficiary
	}
	return c.receipt(fmt.Sprintf("/v1/pools/%d/deposit", pid), body)
}

func (c *command) withdraw(args []string) int {
	fs := c.flags("withdraw")
	amount := fs.String("amount", "", "stake amount")
	recipient := fs.String("recipient", "", "payout address (defaults to the token subject)")
	harvest := fs.Bool("harvest", false, "also pay pending reward")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	if *amount == "" {
		fmt.Fprintln(c.stderr, "Error: --amount is required")
		return 1
	}
	body := map[string]interface{}{"amount": *amount}
	if *recipient != "" {
		body["recipient"] = *recipient
	}
	if *harvest {
		body["harvest"] = true
	}
	return c.receipt(fmt.Sprintf("/v1/pools/%d/withdraw", pid), body)
}

func (c *command) harvest(args []string) int {
	return c.recipientOnly("harvest", "harvest", args)
}

func (c *command) emergencyWithdraw(args []string) int {
	return c.recipientOnly("emergency-withdraw", "emergency-withdraw", args)
}

func (c *command) recipientOnly(name, route string, args []string) int {
	fs := c.flags(name)
	recipient := fs.String("recipient", "", "payout address (defaults to the token subject)")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	body := map[string]string{}
	if *recipient != "" {
		body["recipient"] = *recipient
	}
	return c.receipt(fmt.Sprintf("/v1/pools/%d/%s", pid, route), body)
}

func (c *command) receipt(path string, body interface{}) int {
	var view receiptView
	if err := c.client.call(c.ctx, http.MethodPost, path, true, body, &view); err != nil {
		return c.fail(err)
	}
	printReceipt(c.stdout, view)
	if view.HookError != "" {
		fmt.Fprintf(c.stderr, "Warning: %s\n", view.HookError)
	}
	return 0
}
