// Package nonce provides a local nonce counter for transaction submission,
// tracked in-process to avoid a pending-nonce RPC call on every transaction.
package nonce

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Manager tracks a nonce locally and resyncs against an RPC client on
// request.
type Manager struct {
	mu    sync.Mutex
	nonce uint64
}

// NewManager creates a nonce manager, fetching the initial nonce from the
// chain over a fresh client dial.
func NewManager(ctx context.Context, rpcURL string, address common.Address) (*Manager, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return NewManagerWithClient(ctx, client, address)
}

// NewManagerWithClient creates a nonce manager using an already-connected
// client, fetching the initial pending nonce.
func NewManagerWithClient(ctx context.Context, client *ethclient.Client, address common.Address) (*Manager, error) {
	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Manager{nonce: nonce}, nil
}

// Next returns the next nonce and increments the internal counter.
func (m *Manager) Next() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nonce
	m.nonce++
	return big.NewInt(int64(n))
}

// Current returns the current nonce without incrementing.
func (m *Manager) Current() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonce
}

// Resync re-fetches the pending nonce from the RPC and replaces the local
// counter. Used after a send or receipt-wait failure, per the prototype's
// pending-nonce re-sync strategy (a conservative max(local, pending) is not
// applied here — see the open question this carries forward).
func (m *Manager) Resync(ctx context.Context, client *ethclient.Client, address common.Address) (uint64, error) {
	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce = nonce
	return nonce, nil
}
