package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakefarm/config"
	"stakefarm/native/farm"
	"stakefarm/native/farm/hooks"
	"stakefarm/native/farm/rates"
	"stakefarm/services/farmd/server"
)

const webhookTimeout = 5 * time.Second

// rateSource selects the emission source described by genesis: a shared step
// schedule when one is configured, otherwise persisted per-pool rates.
func rateSource(g *config.Genesis, persistent *rates.Persistent, now func() uint64) (farm.RateSource, error) {
	if len(g.Schedule) == 0 {
		return persistent, nil
	}
	steps := make([]rates.Step, 0, len(g.Schedule))
	for _, step := range g.Schedule {
		rate, err := config.ParseAmount(step.Rate)
		if err != nil {
			return nil, err
		}
		steps = append(steps, rates.Step{Start: step.Start, Rate: rate})
	}
	schedule, err := rates.NewSchedule(steps, now)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// hookRegistry registers a webhook per genesis hook.
func hookRegistry(g *config.Genesis) (*hooks.Registry, error) {
	registry := hooks.NewRegistry()
	for _, h := range g.Hooks {
		webhook, err := hooks.NewWebhook(h.URL, h.Secret, webhookTimeout)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", h.Ref, err)
		}
		registry.Register(farm.HookRef(h.Ref), webhook)
	}
	return registry, nil
}

// bootstrap applies genesis to an empty state. It is a no-op once any pool
// exists.
func bootstrap(ctx context.Context, svc *server.Service, g *config.Genesis, logger *slog.Logger) error {
	count, err := svc.Engine().PoolCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if g.StartPoint > 0 {
		svc.AdvanceTo(g.StartPoint)
	}
	for asset, raw := range g.Balances {
		amount, err := config.ParseAmount(raw)
		if err != nil {
			return err
		}
		if err := svc.Credit(farm.AssetID(asset), common.Address{}, amount, true); err != nil {
			return fmt.Errorf("fund %s: %w", asset, err)
		}
	}
	for i, p := range g.Pools {
		pid, err := svc.AddPool(ctx, p.AllocationPoints, farm.AssetID(p.StakeAsset), farm.HookRef(p.RewardHook))
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if p.Rate != "" && len(g.Schedule) == 0 {
			rate, err := config.ParseAmount(p.Rate)
			if err != nil {
				return err
			}
			if err := svc.SetEmissions(ctx, pid, rate); err != nil {
				return fmt.Errorf("pool %d rate: %w", i, err)
			}
		}
		if p.Weight > 0 {
			if err := svc.SetWeight(ctx, pid, p.Weight); err != nil {
				return fmt.Errorf("pool %d weight: %w", i, err)
			}
		}
		if p.Allocation != "" {
			amount, err := config.ParseAmount(p.Allocation)
			if err != nil {
				return err
			}
			if !amount.IsZero() {
				if err := svc.Allocate(ctx, pid, amount); err != nil {
					return fmt.Errorf("pool %d allocation: %w", i, err)
				}
			}
		}
	}
	logger.Info("farmd: genesis applied",
		slog.Int("pools", len(g.Pools)),
		slog.String("reward_asset", g.RewardAsset),
		slog.Uint64("start_point", svc.Now()))
	return nil
}
