package domain

import (
	"github.com/ethereum/go-ethereum/common"

	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/asset"
)

// SwapOutcome is the result of one provider attempt. Failures are values:
// Err holds the coded cause and Success is false.
type SwapOutcome struct {
	Provider  aggDomain.Provider
	Mode      aggDomain.Mode
	Phase     Phase
	AmountIn  asset.Amount
	AmountOut asset.Amount
	TxHash    common.Hash
	Success   bool
	Err       error
}

// Code is the error code of a failed attempt.
func (o SwapOutcome) Code() apperror.Code {
	if o.Err == nil {
		return ""
	}
	return apperror.GetCode(o.Err)
}

// ErrorDetail is a short description of the failure, empty on success.
func (o SwapOutcome) ErrorDetail() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Broadcast reports whether a swap transaction reached the chain.
func (o SwapOutcome) Broadcast() bool {
	return o.TxHash != (common.Hash{})
}

// Result is what one orchestration run returns to its caller.
type Result struct {
	TransactionID string        `json:"transactionId"`
	Status        Status        `json:"status"`
	TxHash        string        `json:"txHash,omitempty"`
	AmountSent    string        `json:"amountSent,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	Replayed      bool          `json:"replayed,omitempty"`
	Swaps         []SwapOutcome `json:"-"`
}

// Success reports whether the recipient has (or already had) been paid.
func (r *Result) Success() bool {
	return r != nil && r.TxHash != "" && r.ErrorMessage == ""
}
