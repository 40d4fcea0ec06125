package core

import (
	"context"
	"encoding/json"

	"moneymarket/core/state"
	"moneymarket/core/types"
	"moneymarket/crypto"
)

// Env is handed to a contract executing a transaction. Store is scoped to
// the contract's own namespace; other contracts can only be reached through
// Querier.
type Env struct {
	Height   uint64
	TxID     string
	Sender   crypto.Address
	Contract crypto.Address
	Store    state.Store
	Querier  Querier
}

// QueryEnv is handed to a contract answering a query. Store has no write
// methods, so a query chain can never change state.
type QueryEnv struct {
	Height   uint64
	Contract crypto.Address
	Store    state.Reader
	Querier  Querier
}

// Querier performs read-only calls into other contracts.
type Querier interface {
	QueryContract(ctx context.Context, contract crypto.Address, msg json.RawMessage) (json.RawMessage, error)
}

// Contract is the code behind one or more instantiated contracts.
type Contract interface {
	Instantiate(ctx context.Context, env Env, msg json.RawMessage) (*types.Response, error)
	Execute(ctx context.Context, env Env, msg json.RawMessage) (*types.Response, error)
	Query(ctx context.Context, env QueryEnv, msg json.RawMessage) (json.RawMessage, error)
}

// ActionNamer is implemented by contracts that can name the operation a
// message invokes, for metrics and logs.
type ActionNamer interface {
	ActionName(msg json.RawMessage) string
}
