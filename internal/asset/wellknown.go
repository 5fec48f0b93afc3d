package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDOptimism = 10
	ChainIDPolygon  = 137
	ChainIDBase     = 8453
	ChainIDArbitrum = 42161
)

// Native USDC deployments, the default source stablecoin per chain.
var usdcByChain = map[uint64]common.Address{
	ChainIDEthereum: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	ChainIDOptimism: common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
	ChainIDPolygon:  common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
	ChainIDBase:     common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	ChainIDArbitrum: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
}

// USDC returns the native USDC token for chainID.
func USDC(chainID uint64) (*Token, bool) {
	addr, ok := usdcByChain[chainID]
	if !ok {
		return nil, false
	}
	return MustNewToken(chainID, addr, "USDC", 6), true
}
