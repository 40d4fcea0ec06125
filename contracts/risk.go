package contracts

import (
	"context"
	"encoding/json"
	"fmt"

	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
)

// RiskCode is the code name risk engines are registered under.
const RiskCode = "risk"

// Risk binds the risk engine to the ledger.
type Risk struct {
	prices pricing.PriceSource
	auth   nativecommon.Authorizer
	pauses nativecommon.PauseView
}

func NewRisk(prices pricing.PriceSource, auth nativecommon.Authorizer, pauses nativecommon.PauseView) *Risk {
	return &Risk{prices: prices, auth: auth, pauses: pauses}
}

func (r *Risk) engine(env core.Env) *risk.Engine {
	engine := risk.NewEngine(risk.NewStore(env.Store), poolReader{querier: env.Querier}, r.prices)
	engine.SetAuthorizer(r.auth)
	engine.SetPauses(r.pauses)
	engine.SetAddress(env.Contract)
	return engine
}

func (r *Risk) Instantiate(ctx context.Context, env core.Env, raw json.RawMessage) (*types.Response, error) {
	var msg risk.InstantiateMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	return r.engine(env).Instantiate(ctx, msg)
}

func (r *Risk) Execute(ctx context.Context, env core.Env, raw json.RawMessage) (*types.Response, error) {
	var msg risk.ExecuteMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	if _, err := msg.Action(); err != nil {
		return nil, validation("MalformedMessage", err)
	}
	engine := r.engine(env)
	switch {
	case msg.RegisterMarket != nil:
		return engine.RegisterMarket(ctx, env.Sender, *msg.RegisterMarket)
	case msg.UpdateCollateralFactor != nil:
		return engine.UpdateCollateralFactor(ctx, env.Sender, *msg.UpdateCollateralFactor)
	case msg.EnterMarket != nil:
		return engine.EnterMarket(ctx, env.Sender, msg.EnterMarket.AssetID)
	case msg.RecordBorrow != nil:
		return engine.RecordBorrow(ctx, env.Sender, msg.RecordBorrow.User, msg.RecordBorrow.AssetID)
	case msg.ReleaseBorrow != nil:
		return engine.ReleaseBorrow(ctx, env.Sender, msg.ReleaseBorrow.User, msg.ReleaseBorrow.AssetID)
	default:
		return engine.ExitMarket(ctx, env.Sender, msg.ExitMarket.AssetID)
	}
}

func (r *Risk) Query(ctx context.Context, env core.QueryEnv, raw json.RawMessage) (json.RawMessage, error) {
	var msg risk.QueryMsg
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, err
	}
	calc := risk.NewCalculator(risk.NewView(env.Store), poolReader{querier: env.Querier}, r.prices)
	return calc.Query(ctx, msg)
}

func (r *Risk) ActionName(raw json.RawMessage) string {
	var msg risk.ExecuteMsg
	if json.Unmarshal(raw, &msg) != nil {
		return "unknown"
	}
	action, err := msg.Action()
	if err != nil {
		return "unknown"
	}
	return action
}

// riskProjector lets a pool ask its risk engine for a liquidity projection
// through the ledger's read-only query path. pool is the asking pool's own
// address.
type riskProjector struct {
	querier core.Querier
	pool    crypto.Address
}

func (p riskProjector) ProjectLiquidity(ctx context.Context, engine, user crypto.Address, delta pool.LiquidityDelta) (pool.Liquidity, error) {
	self := p.pool
	deltaMsg := &risk.DeltaMsg{AssetID: delta.AssetID, Pool: &self}
	if delta.RedeemAmount != nil {
		deltaMsg.RedeemAmount = delta.RedeemAmount.Dec()
	}
	if delta.BorrowAmount != nil {
		deltaMsg.BorrowAmount = delta.BorrowAmount.Dec()
	}
	query, err := json.Marshal(risk.QueryMsg{GetAccountLiquidity: &risk.LiquidityQuery{User: user, Delta: deltaMsg}})
	if err != nil {
		return pool.Liquidity{}, err
	}
	raw, err := p.querier.QueryContract(ctx, engine, query)
	if err != nil {
		return pool.Liquidity{}, err
	}
	var resp risk.LiquidityResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return pool.Liquidity{}, fmt.Errorf("contracts: decode liquidity: %w", err)
	}
	return pool.Liquidity{CollateralValue: resp.CollateralValue, DebtValue: resp.DebtValue}, nil
}

func (p riskProjector) TrackBorrow(engine, user crypto.Address, assetID string, open bool) (types.Message, error) {
	body := &risk.BorrowMarketMsg{User: user, AssetID: assetID}
	var msg risk.ExecuteMsg
	if open {
		msg.RecordBorrow = body
	} else {
		msg.ReleaseBorrow = body
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return types.Message{}, err
	}
	return types.Message{Contract: engine, Msg: raw}, nil
}
