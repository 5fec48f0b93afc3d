package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry holds the tokens the service trades on one chain.
type Registry struct {
	chainID uint64
	byAddr  map[common.Address]*Token
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry for chainID.
func NewRegistry(chainID uint64) *Registry {
	return &Registry{chainID: chainID, byAddr: make(map[common.Address]*Token)}
}

// Register adds t, replacing a previous entry for the same address.
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return ErrNilToken
	}
	if t.ChainID() != r.chainID {
		return fmt.Errorf("asset: %s is not on chain %d", t, r.chainID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddr[t.Address()] = t
	return nil
}

// Get looks up a token by address.
func (r *Registry) Get(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddr[addr]
	return t, ok
}

// MustGet panics when addr is unknown.
func (r *Registry) MustGet(addr common.Address) *Token {
	t, ok := r.Get(addr)
	if !ok {
		panic(fmt.Sprintf("asset: %s not registered on chain %d", addr.Hex(), r.chainID))
	}
	return t
}

// ChainID returns the registry's chain.
func (r *Registry) ChainID() uint64 {
	return r.chainID
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}
