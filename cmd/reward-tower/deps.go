package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devblac/reward-tower/internal/campaign"
	"github.com/devblac/reward-tower/internal/config"
	"github.com/devblac/reward-tower/internal/ledger"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/rewards"
	"github.com/devblac/reward-tower/internal/sink"
	"github.com/devblac/reward-tower/internal/soroban"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/devblac/reward-tower/internal/storage/postgres"
	"github.com/devblac/reward-tower/internal/txsubmit"
	"github.com/jonboulle/clockwork"
)

// app bundles the long-lived dependencies every command builds from config.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	store    storage.Backend
	node     *soroban.Client
	registry *campaign.Registry
	ledger   *ledger.Ledger
}

func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (storage.Backend, error) {
	switch cfg.Global.DBDriver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Global.DBDSN, cfg.Global.RunMigrations, postgres.WithClock(clock))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		store, err := storage.Open(cfg.Global.DBPath, storage.WithClock(clock))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return store, nil
	}
}

func newApp(ctx context.Context, m *metrics.Metrics) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger()
	clock := clockwork.NewRealClock()

	store, err := openStore(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}

	node := soroban.New(cfg.Network.RPCURL, soroban.Options{
		Timeout:   cfg.Network.RequestTimeout,
		RateLimit: cfg.Network.RateLimit,
	})
	registry := campaign.NewRegistry(store, clock, log)

	return &app{
		cfg:      cfg,
		log:      log,
		clock:    clock,
		metrics:  m,
		store:    store,
		node:     node,
		registry: registry,
		ledger:   ledger.New(store, m, log),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) rewards() (*rewards.Service, error) {
	operator, err := a.cfg.OperatorKey()
	if err != nil {
		return nil, fmt.Errorf("operator signer: %w", err)
	}
	user, err := a.cfg.UserKey()
	if err != nil {
		return nil, fmt.Errorf("user signer: %w", err)
	}

	submitter, err := txsubmit.New(txsubmit.Config{
		Node:           a.node,
		Passphrase:     a.cfg.NetworkPassphrase(),
		TimeoutSeconds: a.cfg.Submission.TimeoutSeconds,
		PollInterval:   a.cfg.Submission.PollInterval,
		MaxPolls:       a.cfg.Submission.MaxPolls,
		Clock:          a.clock,
		Metrics:        a.metrics,
		Logger:         a.log,
	})
	if err != nil {
		return nil, err
	}

	var notifier sink.Sender
	if a.cfg.Notify.WebhookURL != "" {
		notifier, err = sink.NewWebhook(a.cfg.Notify.WebhookURL, sink.Options{Template: a.cfg.Notify.Template})
		if err != nil {
			return nil, fmt.Errorf("notify sink: %w", err)
		}
	}

	return rewards.New(rewards.Config{
		Contract:           a.cfg.Contract.ID,
		DefaultRewardToken: a.cfg.Contract.DefaultRewardToken,
		Operator:           operator,
		User:               user,
		Submitter:          submitter,
		Registry:           a.registry,
		Balances:           a.ledger,
		Notifier:           notifier,
		Clock:              a.clock,
		Logger:             a.log,
	})
}
