package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/token-distributor/internal/asset"
)

var target = asset.MustNewToken(asset.ChainIDBase, common.HexToAddress("0x00000000000000000000000000000000000000b2"), "TGT", 18)

func TestPolicy_Thresholds(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		amount  string
		large   bool
		chunked bool
		buffer  int
	}{
		{"50", false, false, 500},
		{"300", false, false, 500},
		{"300.01", true, false, 1200},
		{"400", true, false, 1200},
		{"1078", true, true, 1200},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			d := decimal.RequireFromString(tt.amount)
			if got := p.IsLargeOrder(d); got != tt.large {
				t.Errorf("IsLargeOrder = %v, want %v", got, tt.large)
			}
			if got := p.StartsChunked(d); got != tt.chunked {
				t.Errorf("StartsChunked = %v, want %v", got, tt.chunked)
			}
			if got := p.BufferFor(d); got != tt.buffer {
				t.Errorf("BufferFor = %d, want %d", got, tt.buffer)
			}
		})
	}
}

func TestPolicy_ChunkCount(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		amount string
		want   int
	}{
		{"50", 2},
		{"250", 2},
		{"600", 3},
		{"1078", 5},
		{"2000", 8},
		{"50000", 8},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := p.ChunkCount(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Errorf("ChunkCount(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestPolicy_PlanChunksConservesTarget(t *testing.T) {
	p := DefaultPolicy()
	amount, err := asset.ParseString(target, "1078")
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := p.PlanChunks(amount)
	if err != nil {
		t.Fatalf("PlanChunks() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}

	sum := new(big.Int)
	ceiling, _ := asset.ParseDecimal(target, p.ChunkCeiling)
	for i, c := range chunks {
		if c.Raw().Cmp(ceiling.Raw()) > 0 {
			t.Errorf("chunk %d = %s exceeds ceiling", i, c)
		}
		sum.Add(sum, c.Raw())
	}
	if sum.Cmp(amount.Raw()) != 0 {
		t.Errorf("chunks sum to %s, want %s", sum, amount.Raw())
	}
}

func TestPolicy_Validate(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	bad := p
	bad.ChunkCeiling = decimal.NewFromInt(500)
	if err := bad.Validate(); err == nil {
		t.Error("expected error when chunk ceiling exceeds max single swap")
	}

	bad = p
	bad.MinChunks = 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min chunks below 2")
	}
}
