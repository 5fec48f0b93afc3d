package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fd1az/token-distributor/internal/asset"
)

// Policy holds the acquisition tuning. Amount thresholds are in target-token
// units.
type Policy struct {
	BufferBps           int
	LargeOrderBufferBps int
	TopUpBufferBps      int

	// LargeOrderThreshold selects the larger single-shot buffer.
	LargeOrderThreshold decimal.Decimal
	// MaxSingleSwap is the largest order attempted in one swap.
	MaxSingleSwap decimal.Decimal
	// ChunkCeiling sizes chunks. It stays below MaxSingleSwap.
	ChunkCeiling decimal.Decimal

	MinChunks int
	MaxChunks int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		BufferBps:           500,
		LargeOrderBufferBps: 1200,
		TopUpBufferBps:      2500,
		LargeOrderThreshold: decimal.NewFromInt(300),
		MaxSingleSwap:       decimal.NewFromInt(400),
		ChunkCeiling:        decimal.NewFromInt(250),
		MinChunks:           2,
		MaxChunks:           8,
	}
}

func (p Policy) Validate() error {
	if p.BufferBps < 0 || p.LargeOrderBufferBps < 0 || p.TopUpBufferBps < 0 {
		return fmt.Errorf("buffers cannot be negative")
	}
	if !p.ChunkCeiling.IsPositive() || !p.ChunkCeiling.LessThan(p.MaxSingleSwap) {
		return fmt.Errorf("chunk ceiling %s must be positive and below max single swap %s", p.ChunkCeiling, p.MaxSingleSwap)
	}
	if p.MinChunks < 2 || p.MaxChunks < p.MinChunks {
		return fmt.Errorf("chunk bounds must satisfy 2 <= min (%d) <= max (%d)", p.MinChunks, p.MaxChunks)
	}
	return nil
}

// IsLargeOrder reports whether target takes the large-order buffer.
func (p Policy) IsLargeOrder(target decimal.Decimal) bool {
	return target.GreaterThan(p.LargeOrderThreshold)
}

// StartsChunked reports whether target is too big for a single swap.
func (p Policy) StartsChunked(target decimal.Decimal) bool {
	return target.GreaterThan(p.MaxSingleSwap)
}

// BufferFor is the single-shot sell buffer for target, in bps.
func (p Policy) BufferFor(target decimal.Decimal) int {
	if p.IsLargeOrder(target) {
		return p.LargeOrderBufferBps
	}
	return p.BufferBps
}

// ChunkCount is ceil(target / ceiling) clamped to [MinChunks, MaxChunks].
func (p Policy) ChunkCount(target decimal.Decimal) int {
	n := int(target.Div(p.ChunkCeiling).Ceil().IntPart())
	if n < p.MinChunks {
		n = p.MinChunks
	}
	if n > p.MaxChunks {
		n = p.MaxChunks
	}
	return n
}

// PlanChunks splits target into equal chunks. The parts sum to target exactly.
func (p Policy) PlanChunks(target asset.Amount) ([]asset.Amount, error) {
	return target.Split(p.ChunkCount(target.ToDecimal()))
}
