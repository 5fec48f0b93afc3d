package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TxRequest is an unsigned call from the pool account.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasHint is the provider's gas figure, used when estimation fails.
	GasHint uint64
}

// Fees are EIP-1559 fee parameters.
type Fees struct {
	TipCap  *big.Int
	FeeCap  *big.Int
	BaseFee *big.Int
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
	Logs        []*types.Log
}

// NewReceipt converts a go-ethereum receipt.
func NewReceipt(r *types.Receipt) *Receipt {
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: block,
		GasUsed:     r.GasUsed,
		Logs:        r.Logs,
	}
}

func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// TransferredTo sums ERC-20 Transfer events of token whose recipient is to.
func (r *Receipt) TransferredTo(token, to common.Address) *big.Int {
	total := new(big.Int)
	for _, l := range r.Logs {
		if l == nil || l.Address != token || len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}
