package main

import (
	"fmt"
	"net/http"
	"strconv"
)

func (c *command) admin(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	rest := args[1:]
	switch args[0] {
	case "add-pool":
		return c.addPool(rest)
	case "set-pool":
		return c.setPool(rest)
	case "set-weight":
		return c.setWeight(rest)
	case "set-rate":
		return c.poolAmount("set-rate", "rate", http.MethodPut, "rate", rest)
	case "allocate":
		return c.poolAmount("allocate", "amount", http.MethodPost, "allocate", rest)
	case "migrate":
		return c.migrate(rest)
	case "update":
		return c.updatePools(rest)
	case "credit":
		return c.credit(rest)
	case "pause":
		return c.setPaused(true, rest)
	case "unpause":
		return c.setPaused(false, rest)
	case "audit":
		return c.audit(rest)
	case "export":
		return c.export(rest)
	default:
		fmt.Fprintf(c.stderr, "Unknown admin command: %s\n", args[0])
		return 1
	}
}

func (c *command) addPool(args []string) int {
	fs := c.flags("admin add-pool")
	alloc := fs.Uint64("alloc", 0, "allocation points")
	asset := fs.String("asset", "", "stake asset")
	hook := fs.String("hook", "", "reward hook reference")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *asset == "" {
		fmt.Fprintln(c.stderr, "Error: --asset is required")
		return 1
	}
	body := map[string]interface{}{"allocationPoints": *alloc, "stakeAsset": *asset}
	if *hook != "" {
		body["rewardHook"] = *hook
	}
	var pool poolView
	if err := c.client.call(c.ctx, http.MethodPost, "/v1/admin/pools", true, body, &pool); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Created pool %d\n", pool.ID)
	printPool(c.stdout, pool)
	return 0
}

func (c *command) setPool(args []string) int {
	fs := c.flags("admin set-pool")
	alloc := fs.Uint64("alloc", 0, "allocation points")
	hook := fs.String("hook", "", "reward hook reference")
	overwrite := fs.Bool("overwrite-hook", false, "replace the reward hook")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	body := map[string]interface{}{"allocationPoints": *alloc}
	if *overwrite {
		body["rewardHook"] = *hook
		body["overwriteHook"] = true
	}
	return c.poolCall(http.MethodPut, fmt.Sprintf("/v1/admin/pools/%d", pid), body)
}

func (c *command) setWeight(args []string) int {
	fs := c.flags("admin set-weight")
	weight := fs.Uint("weight", 0, "display weight (0-100)")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	if *weight > 255 {
		fmt.Fprintln(c.stderr, "Error: --weight out of range")
		return 1
	}
	return c.poolCall(http.MethodPut, fmt.Sprintf("/v1/admin/pools/%d/weight", pid), map[string]uint{"weight": *weight})
}

func (c *command) poolAmount(name, flagName, method, route string, args []string) int {
	fs := c.flags("admin " + name)
	amount := fs.String(flagName, "", "amount in base units")
	pid, ok := c.parseWithPool(fs, args)
	if !ok {
		return 1
	}
	if *amount == "" {
		fmt.Fprintf(c.stderr, "Error: --%s is required\n", flagName)
		return 1
	}
	return c.poolCall(method, fmt.Sprintf("/v1/admin/pools/%d/%s", pid, route), map[string]string{"amount": *amount})
}

func (c *command) migrate(args []string) int {
	pid, ok := c.parseWithPool(c.flags("admin migrate"), args)
	if !ok {
		return 1
	}
	return c.poolCall(http.MethodPost, fmt.Sprintf("/v1/admin/pools/%d/migrate", pid), nil)
}

func (c *command) poolCall(method, path string, body interface{}) int {
	var pool poolView
	if err := c.client.call(c.ctx, method, path, true, body, &pool); err != nil {
		return c.fail(err)
	}
	printPool(c.stdout, pool)
	return 0
}

func (c *command) updatePools(args []string) int {
	pids := make([]uint64, 0, len(args))
	for _, raw := range args {
		pid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fmt.Fprintf(c.stderr, "Error: invalid pool id %q\n", raw)
			return 1
		}
		pids = append(pids, pid)
	}
	var body interface{}
	if len(pids) > 0 {
		body = map[string][]uint64{"pools": pids}
	}
	var pools []poolView
	if err := c.client.call(c.ctx, http.MethodPost, "/v1/admin/pools/update", true, body, &pools); err != nil {
		return c.fail(err)
	}
	printPools(c.stdout, pools)
	return 0
}

func (c *command) credit(args []string) int {
	fs := c.flags("admin credit")
	asset := fs.String("asset", "", "asset to credit")
	amount := fs.String("amount", "", "amount in base units")
	account := fs.String("account", "", "participant address")
	engine := fs.Bool("engine", false, "credit the engine holding instead of a participant")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *asset == "" || *amount == "" {
		fmt.Fprintln(c.stderr, "Error: --asset and --amount are required")
		return 1
	}
	if *engine == (*account != "") {
		fmt.Fprintln(c.stderr, "Error: pass exactly one of --account or --engine")
		return 1
	}
	body := map[string]interface{}{"asset": *asset, "amount": *amount}
	if *engine {
		body["engine"] = true
	} else {
		body["account"] = *account
	}
	if err := c.client.call(c.ctx, http.MethodPost, "/v1/admin/credit", true, body, nil); err != nil {
		return c.fail(err)
	}
	target := *account
	if *engine {
		target = "engine"
	}
	fmt.Fprintf(c.stdout, "Credited %s %s to %s\n", formatAmount(*amount), *asset, target)
	return 0
}

func (c *command) setPaused(paused bool, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(c.stderr, "Usage: farmctl admin pause|unpause")
		return 1
	}
	var resp struct {
		Paused bool `json:"paused"`
	}
	if err := c.client.call(c.ctx, http.MethodPut, "/v1/admin/pause", true, map[string]bool{"paused": paused}, &resp); err != nil {
		return c.fail(err)
	}
	if resp.Paused {
		fmt.Fprintln(c.stdout, "Farm operations paused")
	} else {
		fmt.Fprintln(c.stdout, "Farm operations resumed")
	}
	return 0
}

func (c *command) audit(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(c.stderr, "Usage: farmctl admin audit")
		return 1
	}
	if err := c.client.call(c.ctx, http.MethodPost, "/v1/admin/audit", true, nil, nil); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, "Invariant audit passed")
	return 0
}

func (c *command) export(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(c.stderr, "Usage: farmctl admin export")
		return 1
	}
	var resp struct {
		Path string `json:"path"`
		Rows int    `json:"rows"`
	}
	if err := c.client.call(c.ctx, http.MethodPost, "/v1/admin/journal/export", true, nil, &resp); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Exported %s rows to %s\n", formatCount(uint64(resp.Rows)), resp.Path)
	return 0
}
