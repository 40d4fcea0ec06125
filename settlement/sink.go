package settlement

import (
	"context"
	"errors"
	"sync"

	"moneymarket/core/types"
)

// ErrTransferNotFound is returned when a transfer id is unknown or already
// settled.
var ErrTransferNotFound = errors.New("settlement: transfer not found")

// Sink receives the transfer instructions of a transaction after every
// solvency check has passed and before the ledger commits. If the ledger
// commit then fails, Revert withdraws the instructions of that transaction.
type Sink interface {
	Settle(ctx context.Context, txID string, transfers []types.Transfer) error
	Revert(ctx context.Context, txID string) error
}

// MemorySink keeps instructions in memory. It is used by tests and by nodes
// running without a settlement database.
type MemorySink struct {
	mu      sync.Mutex
	batches map[string][]types.Transfer
	order   []string
	failure error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{batches: make(map[string][]types.Transfer)}
}

// FailWith makes subsequent Settle calls return err. Nil clears the failure.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

func (m *MemorySink) Settle(_ context.Context, txID string, transfers []types.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if len(transfers) == 0 {
		return nil
	}
	if _, exists := m.batches[txID]; !exists {
		m.order = append(m.order, txID)
	}
	m.batches[txID] = append([]types.Transfer(nil), transfers...)
	return nil
}

func (m *MemorySink) Revert(_ context.Context, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[txID]; !ok {
		return nil
	}
	delete(m.batches, txID)
	kept := m.order[:0]
	for _, id := range m.order {
		if id != txID {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return nil
}

// Transfers returns every recorded instruction in settlement order.
func (m *MemorySink) Transfers() []types.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Transfer
	for _, id := range m.order {
		out = append(out, m.batches[id]...)
	}
	return out
}

// Batch returns the instructions recorded for txID.
func (m *MemorySink) Batch(txID string) []types.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Transfer(nil), m.batches[txID]...)
}
