package contracts

import (
	"context"
	"encoding/json"
	"fmt"

	"moneymarket/core"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
)

// PoolCode is the code name pools are registered under.
const PoolCode = "pool"

// Pool binds the pool engine to the ledger.
type Pool struct {
	pauses  nativecommon.PauseView
	accruer pool.Accruer
}

func NewPool(pauses nativecommon.PauseView) *Pool {
	return &Pool{pauses: pauses}
}

// SetAccruer installs an interest model for every pool instance.
func (p *Pool) SetAccruer(a pool.Accruer) { p.accruer = a }

func (p *Pool) engine(env core.Env) *pool.Engine {
	engine := pool.NewEngine()
	engine.SetState(pool.NewStore(env.Store))
	engine.SetRiskEngine(riskProjector{querier: env.Querier, pool: env.Contract})
	engine.SetPauses(p.pauses)
	engine.SetAccruer(p.accruer)
	engine.SetBlockHeight(env.Height)
	return engine
}

func (p *Pool) Instantiate(ctx context.Context, env core.Env, raw json.RawMessage) (*types.Response, error) {
	var msg pool.InstantiateMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	return p.engine(env).Instantiate(ctx, msg)
}

func (p *Pool) Execute(ctx context.Context, env core.Env, raw json.RawMessage) (*types.Response, error) {
	var msg pool.ExecuteMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	action, body, err := msg.Action()
	if err != nil {
		return nil, validation("MalformedMessage", err)
	}
	amount, err := body.ParsedAmount()
	if err != nil {
		return nil, validation("InvalidAmount", err)
	}
	engine := p.engine(env)
	switch action {
	case "deposit":
		return engine.Deposit(ctx, env.Sender, amount)
	case "withdraw":
		return engine.Withdraw(ctx, env.Sender, amount)
	case "borrow":
		return engine.Borrow(ctx, env.Sender, amount)
	case "repay":
		return engine.Repay(ctx, env.Sender, amount)
	}
	return nil, validation("MalformedMessage", fmt.Errorf("pool: unsupported action %q", action))
}

func (p *Pool) Query(ctx context.Context, env core.QueryEnv, raw json.RawMessage) (json.RawMessage, error) {
	var msg pool.QueryMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	view := pool.NewView(env.Store)
	switch {
	case msg.GetBalances != nil && msg.GetState == nil:
		resp, err := pool.QueryBalances(view, msg.GetBalances.User)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	case msg.GetState != nil && msg.GetBalances == nil:
		resp, err := pool.QueryState(view)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
	return nil, validation("MalformedMessage", fmt.Errorf("pool: query must set exactly one variant"))
}

func (p *Pool) ActionName(raw json.RawMessage) string {
	var msg pool.ExecuteMsg
	if json.Unmarshal(raw, &msg) != nil {
		return "unknown"
	}
	action, _, err := msg.Action()
	if err != nil {
		return "unknown"
	}
	return action
}

// poolReader lets the risk engine read pool balances through the ledger's
// read-only query path.
type poolReader struct {
	querier core.Querier
}

func (r poolReader) Balances(ctx context.Context, poolAddr, user crypto.Address) (risk.Position, error) {
	query, err := json.Marshal(pool.QueryMsg{GetBalances: &pool.GetBalancesQuery{User: user}})
	if err != nil {
		return risk.Position{}, err
	}
	raw, err := r.querier.QueryContract(ctx, poolAddr, query)
	if err != nil {
		return risk.Position{}, err
	}
	balances, err := pool.DecodeBalances(raw)
	if err != nil {
		return risk.Position{}, err
	}
	return risk.Position{Supplied: balances.Supplied, Borrowed: balances.Borrowed}, nil
}

func (r poolReader) PoolInfo(ctx context.Context, poolAddr crypto.Address) (risk.PoolInfo, error) {
	query, err := json.Marshal(pool.QueryMsg{GetState: &pool.GetStateQuery{}})
	if err != nil {
		return risk.PoolInfo{}, err
	}
	raw, err := r.querier.QueryContract(ctx, poolAddr, query)
	if err != nil {
		return risk.PoolInfo{}, err
	}
	var state pool.StateResponse
	if err := json.Unmarshal(raw, &state); err != nil {
		return risk.PoolInfo{}, fmt.Errorf("contracts: decode pool state: %w", err)
	}
	borrowed, err := types.ParseAmount(state.TotalBorrowed)
	if err != nil {
		return risk.PoolInfo{}, fmt.Errorf("contracts: pool total borrowed: %w", err)
	}
	return risk.PoolInfo{AssetID: state.AssetID, RiskEngine: state.RiskEngine, TotalBorrowed: borrowed}, nil
}
