package distribution

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/token-distributor/business/distribution/app"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Aggregators: config.AggregatorsConfig{SlippageBps: 100},
		Distribution: config.DistributionConfig{
			BufferBps:           500,
			LargeOrderBufferBps: 1200,
			TopUpBufferBps:      2500,
			LargeOrderThreshold: "300",
			MaxSingleSwap:       "400",
			ChunkCeiling:        "250",
			MinChunks:           2,
			MaxChunks:           8,
			ProbeAmount:         "1.5",
		},
	}
}

func testPair() app.Pair {
	return app.Pair{
		Source: asset.MustNewToken(asset.ChainIDBase, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), "USDC", 6),
		Target: asset.MustNewToken(asset.ChainIDBase, common.HexToAddress("0x00000000000000000000000000000000000000b2"), "TGT", 18),
	}
}

func TestOrchestratorConfig(t *testing.T) {
	got, err := OrchestratorConfig(testConfig(), testPair())
	if err != nil {
		t.Fatalf("OrchestratorConfig: %v", err)
	}

	if got.SlippageBps != 100 {
		t.Errorf("SlippageBps = %d, want 100", got.SlippageBps)
	}
	if !got.Policy.MaxSingleSwap.Equal(decimal.NewFromInt(400)) {
		t.Errorf("MaxSingleSwap = %s, want 400", got.Policy.MaxSingleSwap)
	}
	if got.ProbeAmount.Raw().Int64() != 1_500_000 {
		t.Errorf("ProbeAmount raw = %s, want 1500000", got.ProbeAmount.Raw())
	}
	if err := got.Policy.Validate(); err != nil {
		t.Errorf("policy should validate: %v", err)
	}
}

func TestOrchestratorConfig_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad threshold", func(c *config.Config) { c.Distribution.LargeOrderThreshold = "lots" }},
		{"bad ceiling", func(c *config.Config) { c.Distribution.ChunkCeiling = "" }},
		{"probe finer than source decimals", func(c *config.Config) { c.Distribution.ProbeAmount = "0.0000001" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := OrchestratorConfig(cfg, testPair()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
