package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devblac/reward-tower/internal/config"
	"github.com/devblac/reward-tower/internal/model"
	"github.com/devblac/reward-tower/internal/soroban/sorobantest"
	"github.com/stellar/go/keypair"
)

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("REWARD_CAMPAIGN_CONTRACT_ID", sorobantest.Contract(4))
	t.Setenv("SECRET_KEY", keypair.MustRandom().Seed())
	t.Setenv("USER_SECRET_KEY", keypair.MustRandom().Seed())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if cfg.Global.DBDriver != "sqlite" || cfg.Poller.PageLimit != 100 {
		t.Fatalf("unexpected sample values: %+v", cfg)
	}

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected init to refuse overwriting")
	}
	initForce = false
}

func TestWriteBalances(t *testing.T) {
	balances := []model.ParticipantBalance{
		{CampaignID: 3, Address: "GA", Balance: big.NewInt(600)},
		{CampaignID: 3, Address: "GB", Balance: big.NewInt(-5)},
	}

	var csvOut bytes.Buffer
	if err := writeBalances(&csvOut, "csv", balances); err != nil {
		t.Fatalf("csv: %v", err)
	}
	want := "campaign_id,address,balance\n3,GA,600\n3,GB,-5\n"
	if csvOut.String() != want {
		t.Fatalf("csv = %q, want %q", csvOut.String(), want)
	}

	var jsonOut bytes.Buffer
	if err := writeBalances(&jsonOut, "JSON", balances); err != nil {
		t.Fatalf("json: %v", err)
	}
	var records []balanceRecord
	if err := json.Unmarshal(jsonOut.Bytes(), &records); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(records) != 2 || records[0].Balance != "600" {
		t.Fatalf("unexpected records: %+v", records)
	}

	if err := writeBalances(&bytes.Buffer{}, "xml", balances); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestLag(t *testing.T) {
	if got := lag(110, 100); got != 10 {
		t.Fatalf("lag = %d", got)
	}
	if got := lag(100, 105); got != 0 {
		t.Fatalf("lag behind cursor = %d", got)
	}
}
