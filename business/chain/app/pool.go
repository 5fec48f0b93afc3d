package app

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

var nonceErrorFragments = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"invalid nonce",
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, frag := range nonceErrorFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// isAlreadyKnown reports that the node already holds this exact signed
// transaction in its pool.
func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

// BuildFunc returns the unsigned transaction for a nonce.
type BuildFunc func(nonce uint64) *types.Transaction

// PoolAccount owns the pool's signing key and nonce allocation.
// Nonces handed out are strictly increasing until Resync drops the local
// floor after a transaction went missing.
type PoolAccount struct {
	account *domain.Account
	node    Node
	logger  logger.LoggerInterface

	mu   sync.Mutex
	next uint64
}

func NewPoolAccount(account *domain.Account, node Node, log logger.LoggerInterface) *PoolAccount {
	return &PoolAccount{account: account, node: node, logger: log}
}

func (p *PoolAccount) Address() common.Address {
	return p.account.Address()
}

// Broadcast fetches a fresh nonce, signs and sends. The lock covers only
// those three steps; receipt waits happen outside it. A nonce rejection
// refreshes from chain and retries once. An "already known" answer means the
// signed transaction is in the node's pool and counts as sent.
func (p *PoolAccount) Broadcast(ctx context.Context, build BuildFunc) (*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonce, err := p.reserve(ctx, p.next)
	if err != nil {
		return nil, err
	}

	signed, err := p.signAndSend(ctx, build, nonce)
	if err != nil && isAlreadyKnown(err) {
		p.logger.Info(ctx, "transaction already in node pool", "nonce", nonce, "tx_hash", signed.Hash().Hex())
		err = nil
	}
	if err != nil && isNonceError(err) {
		p.logger.Warn(ctx, "nonce rejected, refreshing from chain", "nonce", nonce, "error", err)

		nonce, err = p.reserve(ctx, nonce+1)
		if err != nil {
			return nil, err
		}
		signed, err = p.signAndSend(ctx, build, nonce)
		if err != nil && isAlreadyKnown(err) {
			err = nil
		}
		if err != nil && isNonceError(err) {
			return nil, apperror.New(apperror.CodeNonceConflict,
				apperror.WithCause(err),
				apperror.WithContext("nonce rejected after refresh"))
		}
	}
	if err != nil {
		return nil, apperror.New(apperror.CodeBroadcastFailed, apperror.WithCause(err))
	}

	p.next = nonce + 1
	return signed, nil
}

// Resync drops the local nonce floor so the next broadcast takes the chain's
// pending count. Called when a broadcast transaction never got a receipt: if
// the node dropped it, its nonce is free again.
func (p *PoolAccount) Resync(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next > 0 {
		p.logger.Warn(ctx, "resyncing pool nonce from chain", "local_next", p.next)
	}
	p.next = 0
}

// reserve returns max(chain pending nonce, floor).
func (p *PoolAccount) reserve(ctx context.Context, floor uint64) (uint64, error) {
	pending, err := p.node.PendingNonceAt(ctx, p.account.Address())
	if err != nil {
		return 0, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("fetch pending nonce"))
	}
	if pending > floor {
		return pending, nil
	}
	return floor, nil
}

func (p *PoolAccount) signAndSend(ctx context.Context, build BuildFunc, nonce uint64) (*types.Transaction, error) {
	signed, err := p.account.Sign(build(nonce))
	if err != nil {
		return nil, err
	}
	// The signed transaction is returned with the send error so an
	// "already known" answer can keep it.
	if err := p.node.SendTransaction(ctx, signed); err != nil {
		return signed, err
	}
	return signed, nil
}
