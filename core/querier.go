package core

import (
	"context"
	"encoding/json"
	"errors"

	"moneymarket/core/state"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/storage"
)

// MaxQueryDepth bounds nested cross-contract queries.
const MaxQueryDepth = 8

// MaxMessageDepth bounds chains of contract-emitted messages.
const MaxMessageDepth = 8

var (
	ErrQueryDepth   = errors.New("ledger: query depth exceeded")
	ErrMessageDepth = errors.New("ledger: message depth exceeded")
)

// queryRouter resolves contract queries against a snapshot of storage. During
// a transaction the snapshot is the transaction's overlay, so queries observe
// writes made earlier in the same transaction.
type queryRouter struct {
	ledger *Ledger
	db     storage.Reader
	height uint64
	depth  int
}

func (q *queryRouter) QueryContract(ctx context.Context, contract crypto.Address, msg json.RawMessage) (json.RawMessage, error) {
	if q.depth >= MaxQueryDepth {
		return nil, nativecommon.NewError(nativecommon.KindInternal, "QueryDepthExceeded", ErrQueryDepth, "contract", contract.String())
	}
	info, err := loadContract(state.NewView(q.db, state.LedgerNamespace), contract)
	if err != nil {
		return nil, err
	}
	code, err := q.ledger.code(info.Code)
	if err != nil {
		return nil, err
	}
	next := &queryRouter{ledger: q.ledger, db: q.db, height: q.height, depth: q.depth + 1}
	return code.Query(ctx, QueryEnv{
		Height:   q.height,
		Contract: contract,
		Store:    state.NewView(q.db, state.ContractNamespace(contract)),
		Querier:  next,
	}, msg)
}
