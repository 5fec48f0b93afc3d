// Package domain contains the distribution request, its ledger record and the
// acquisition state machine.
package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/token-distributor/internal/apperror"
)

// DistributionRequest asks for TargetAmount of the target token to be sent to
// Recipient. TransactionID is the idempotency key.
type DistributionRequest struct {
	TransactionID string
	Recipient     string
	TargetAmount  decimal.Decimal

	// SourceAmountOverride, when set, is the exact stablecoin amount to sell.
	SourceAmountOverride *decimal.Decimal
}

// NewDistributionRequest parses the boundary representation of a request.
// The recipient is kept verbatim and validated when the request runs, so a
// malformed address ends up recorded as a terminal failure.
func NewDistributionRequest(transactionID, recipient, targetAmount, sourceAmount string) (DistributionRequest, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return DistributionRequest{}, apperror.Validation(apperror.CodeRequiredField, "transactionId")
	}

	target, err := parsePositive(targetAmount, "targetAmount")
	if err != nil {
		return DistributionRequest{}, err
	}

	req := DistributionRequest{
		TransactionID: transactionID,
		Recipient:     strings.TrimSpace(recipient),
		TargetAmount:  target,
	}
	if strings.TrimSpace(sourceAmount) != "" {
		src, err := parsePositive(sourceAmount, "sourceAmount")
		if err != nil {
			return DistributionRequest{}, err
		}
		req.SourceAmountOverride = &src
	}
	return req, nil
}

func parsePositive(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, apperror.New(apperror.CodeInvalidAmount,
			apperror.WithContext(field+": "+s),
			apperror.WithCause(err))
	}
	if !d.IsPositive() {
		return decimal.Zero, apperror.New(apperror.CodeInvalidAmount,
			apperror.WithContext(field+" must be positive: "+s))
	}
	return d, nil
}

// ValidateRecipient parses an EVM address. Mixed-case input must carry a
// valid EIP-55 checksum and the zero address is rejected.
func ValidateRecipient(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperror.New(apperror.CodeInvalidRecipient, apperror.WithContext(s))
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, apperror.New(apperror.CodeInvalidRecipient, apperror.WithContext("zero address"))
	}

	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hex != strings.ToLower(hex) && hex != strings.ToUpper(hex) && "0x"+hex != addr.Hex() {
		return common.Address{}, apperror.New(apperror.CodeInvalidRecipient, apperror.WithContext("bad checksum: "+s))
	}
	return addr, nil
}
