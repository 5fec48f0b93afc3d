// Package asset provides a type-safe model for ERC-20 token amounts.
// The core uses big.Int in the token's smallest unit; decimal.Decimal is
// only used at boundaries (config, API, logs).
package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-20 token on one chain. Identity is chain + address; the
// symbol is display metadata only.
type Token struct {
	chainID  uint64
	address  common.Address
	symbol   string
	decimals uint8
}

// NewToken creates a Token. Zero addresses and absurd decimals are rejected.
func NewToken(chainID uint64, address common.Address, symbol string, decimals uint8) (*Token, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("asset: zero token address")
	}
	if decimals > 36 {
		return nil, fmt.Errorf("asset: suspicious decimals %d for %s", decimals, address.Hex())
	}
	if symbol == "" {
		symbol = address.Hex()[:8]
	}
	return &Token{chainID: chainID, address: address, symbol: symbol, decimals: decimals}, nil
}

// MustNewToken is NewToken for package-level declarations.
func MustNewToken(chainID uint64, address common.Address, symbol string, decimals uint8) *Token {
	t, err := NewToken(chainID, address, symbol, decimals)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Token) ChainID() uint64         { return t.chainID }
func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// Equals compares tokens by chain and address.
func (t *Token) Equals(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.chainID == other.chainID && t.address == other.address
}

func (t *Token) String() string {
	return fmt.Sprintf("%s(chain:%d/%s)", t.symbol, t.chainID, t.address.Hex())
}
