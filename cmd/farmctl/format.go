package main

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

type poolView struct {
	ID                   uint64 `json:"id"`
	StakeAsset           string `json:"stakeAsset"`
	AllocationPoints     uint64 `json:"allocationPoints"`
	Weight               uint8  `json:"weight"`
	AccRewardPerShare    string `json:"accRewardPerShare"`
	LastAccrualPoint     uint64 `json:"lastAccrualPoint"`
	TotalAllocatedSupply string `json:"totalAllocatedSupply"`
	RewardHook           string `json:"rewardHook,omitempty"`
}

type totalsView struct {
	PoolCount             uint64 `json:"poolCount"`
	AllocationPoints      uint64 `json:"allocationPoints"`
	Weight                uint64 `json:"weight"`
	AllocatedRewardSupply string `json:"allocatedRewardSupply"`
}

type positionView struct {
	Amount     string `json:"amount"`
	RewardDebt string `json:"rewardDebt"`
}

type pendingView struct {
	Pool        uint64 `json:"pool"`
	Participant string `json:"participant"`
	Pending     string `json:"pending"`
	At          uint64 `json:"at"`
}

type balanceView struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type transferView struct {
	Direction string `json:"direction"`
	Asset     string `json:"asset"`
	Party     string `json:"party"`
	Amount    string `json:"amount"`
}

type receiptView struct {
	Pool      uint64         `json:"pool"`
	Harvested string         `json:"harvested"`
	Position  positionView   `json:"position"`
	Transfers []transferView `json:"transfers"`
	HookError string         `json:"hookError,omitempty"`
}

type entryView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// formatAmount groups a decimal integer string with thousands separators.
// Values that do not parse are returned untouched.
func formatAmount(raw string) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return raw
	}
	if v.IsInt64() {
		return printer.Sprintf("%d", v.Int64())
	}
	return groupDigits(v.String())
}

// groupDigits handles values beyond int64, which the printer renders
// without separators.
func groupDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}

func formatCount(v uint64) string {
	return printer.Sprintf("%d", v)
}

func printPools(w io.Writer, pools []poolView) {
	if len(pools) == 0 {
		fmt.Fprintln(w, "No pools registered")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tASSET\tALLOC\tWEIGHT\tSTAKED\tLAST ACCRUAL")
	for _, p := range pools {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n", p.ID, p.StakeAsset, formatCount(p.AllocationPoints), p.Weight, formatAmount(p.TotalAllocatedSupply), p.LastAccrualPoint)
	}
	tw.Flush()
}

func printPool(w io.Writer, p poolView) {
	fmt.Fprintf(w, "Pool %d\n", p.ID)
	fmt.Fprintf(w, "  Stake asset:        %s\n", p.StakeAsset)
	fmt.Fprintf(w, "  Allocation points:  %s\n", formatCount(p.AllocationPoints))
	fmt.Fprintf(w, "  Weight:             %d\n", p.Weight)
	fmt.Fprintf(w, "  Acc reward/share:   %s\n", p.AccRewardPerShare)
	fmt.Fprintf(w, "  Last accrual:       %d\n", p.LastAccrualPoint)
	fmt.Fprintf(w, "  Reward capacity:    %s\n", formatAmount(p.TotalAllocatedSupply))
	if p.RewardHook != "" {
		fmt.Fprintf(w, "  Reward hook:        %s\n", p.RewardHook)
	}
}

func printTotals(w io.Writer, t totalsView) {
	fmt.Fprintf(w, "Pools:              %s\n", formatCount(t.PoolCount))
	fmt.Fprintf(w, "Allocation points:  %s\n", formatCount(t.AllocationPoints))
	fmt.Fprintf(w, "Weight:             %d\n", t.Weight)
	fmt.Fprintf(w, "Reward capacity:    %s\n", formatAmount(t.AllocatedRewardSupply))
}

func printReceipt(w io.Writer, r receiptView) {
	fmt.Fprintf(w, "Pool %d: harvested %s, position %s\n", r.Pool, formatAmount(r.Harvested), formatAmount(r.Position.Amount))
	for _, t := range r.Transfers {
		fmt.Fprintf(w, "  %-3s %s %s %s\n", strings.ToUpper(t.Direction), formatAmount(t.Amount), t.Asset, t.Party)
	}
}

func printEntries(w io.Writer, entries []entryView) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No events")
		return
	}
	for _, e := range entries {
		keys := make([]string, 0, len(e.Attributes))
		for k, v := range e.Attributes {
			keys = append(keys, k+"="+v)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "#%d %s %s %s\n", e.Sequence, e.CreatedAt.UTC().Format(time.RFC3339), e.Type, strings.Join(keys, " "))
	}
}
