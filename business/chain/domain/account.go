// Package domain contains the core types for the chain context.
package domain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is the signing identity of the distribution pool.
type Account struct {
	address common.Address
	key     *ecdsa.PrivateKey
	signer  types.Signer
	chainID *big.Int
}

// NewAccount parses a hex private key (with or without 0x).
func NewAccount(hexKey string, chainID uint64) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse pool private key: %w", err)
	}

	id := new(big.Int).SetUint64(chainID)
	return &Account{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
		signer:  types.LatestSignerForChainID(id),
		chainID: id,
	}, nil
}

func (a *Account) Address() common.Address { return a.address }
func (a *Account) ChainID() *big.Int       { return new(big.Int).Set(a.chainID) }

// Sign signs tx for the account's chain.
func (a *Account) Sign(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, a.signer, a.key)
}

// String never includes key material.
func (a *Account) String() string {
	return a.address.Hex()
}
