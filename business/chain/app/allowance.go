package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

// AllowanceManager makes sure spenders can pull the pool's tokens.
type AllowanceManager struct {
	chain  *ChainService
	logger logger.LoggerInterface
}

func NewAllowanceManager(chain *ChainService, log logger.LoggerInterface) *AllowanceManager {
	return &AllowanceManager{chain: chain, logger: log}
}

// EnsureAllowance approves the max amount when the current allowance is below
// needed, and waits for the approval to be mined. It reports whether an
// approval was sent. Any failure is returned as ALLOWANCE_FAILED.
func (m *AllowanceManager) EnsureAllowance(ctx context.Context, token, spender common.Address, needed *big.Int) (bool, error) {
	owner := m.chain.Pool().Address()

	current, err := m.chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return false, allowanceFailed(err, "read allowance")
	}
	if current.Cmp(needed) >= 0 {
		return false, nil
	}

	m.logger.Info(ctx, "approving spender", "token", token.Hex(), "spender", spender.Hex(), "current", current.String(), "needed", needed.String())

	data, err := PackApprove(spender, MaxUint256)
	if err != nil {
		return false, allowanceFailed(err, "pack approve")
	}

	hash, receipt, err := m.chain.SendAndWait(ctx, domain.TxRequest{To: token, Data: data})
	if err != nil {
		return false, allowanceFailed(err, "approve "+spender.Hex())
	}
	if !receipt.Succeeded() {
		return false, apperror.New(apperror.CodeAllowanceFailed,
			apperror.WithContext("approve reverted: "+hash.Hex()))
	}

	m.logger.Info(ctx, "spender approved", "spender", spender.Hex(), "tx_hash", hash.Hex())
	return true, nil
}

func allowanceFailed(cause error, context string) error {
	return apperror.New(apperror.CodeAllowanceFailed, apperror.WithCause(cause), apperror.WithContext(context))
}
