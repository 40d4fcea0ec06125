package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

// Engine applies the risk engine's registry and membership operations
// against a single transaction's state.
type Engine struct {
	*Calculator
	state  engineState
	auth   nativecommon.Authorizer
	pauses nativecommon.PauseView
	self   crypto.Address
}

func NewEngine(state engineState, pools PoolReader, prices pricing.PriceSource) *Engine {
	return &Engine{state: state, Calculator: NewCalculator(state, pools, prices)}
}

// SetAuthorizer installs the predicate guarding registry changes. A nil
// authorizer permits every caller.
func (e *Engine) SetAuthorizer(a nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = a
}

// SetAddress records the engine's own contract address. Once set, only pools
// bound to that address can be registered.
func (e *Engine) SetAddress(addr crypto.Address) {
	if e == nil {
		return
	}
	e.self = addr
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) Instantiate(ctx context.Context, _ InstantiateMsg) (*types.Response, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.state.PutMeta(&Meta{Version: 1}); err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("risk.instantiate"))
	return resp, nil
}

// RegisterMarket creates or overwrites the market for asset_id. The pool must
// report the same asset and this engine as its risk engine. Moving a market
// to another pool requires the current pool to have no borrows.
func (e *Engine) RegisterMarket(ctx context.Context, caller crypto.Address, msg RegisterMarketMsg) (*types.Response, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(ctx, e.auth, ActionRegisterMarket, caller); err != nil {
		return nil, err
	}
	asset := normalizeAsset(msg.AssetID)
	switch {
	case asset == "":
		return nil, invalidMarket("asset_id")
	case msg.PoolAddress.IsZero():
		return nil, invalidMarket("pool_address")
	case msg.CollateralFactor == nil:
		return nil, invalidMarket("collateral_factor")
	}
	if err := validateFactor(*msg.CollateralFactor); err != nil {
		return nil, err
	}
	if err := e.checkPool(ctx, asset, msg.PoolAddress); err != nil {
		return nil, err
	}
	market := &Market{AssetID: asset, PoolAddress: msg.PoolAddress, CollateralFactor: *msg.CollateralFactor}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("risk.register_market",
		"asset", asset,
		"pool", msg.PoolAddress.String(),
		"collateral_factor", market.CollateralFactor.String()))
	return resp, nil
}

func (e *Engine) checkPool(ctx context.Context, asset string, pool crypto.Address) error {
	if e.pools == nil {
		return errNilPools
	}
	info, err := e.pools.PoolInfo(ctx, pool)
	if err != nil {
		return err
	}
	if got := normalizeAsset(info.AssetID); got != asset {
		return poolMismatch("asset_id", asset, got)
	}
	if !e.self.IsZero() && !info.RiskEngine.Equal(e.self) {
		return poolMismatch("risk_engine", e.self.String(), info.RiskEngine.String())
	}
	current, err := e.state.GetMarket(asset)
	if err != nil || current == nil || current.PoolAddress.Equal(pool) {
		return err
	}
	old, err := e.pools.PoolInfo(ctx, current.PoolAddress)
	if err != nil {
		return err
	}
	if borrowed := types.AmountOrZero(old.TotalBorrowed); !borrowed.IsZero() {
		return nativecommon.NewError(nativecommon.KindValidation, "MarketPoolInUse", ErrMarketPoolInUse,
			"asset_id", asset,
			"pool", current.PoolAddress.String(),
			"total_borrowed", borrowed.Dec())
	}
	return nil
}

func (e *Engine) UpdateCollateralFactor(ctx context.Context, caller crypto.Address, msg UpdateCollateralFactorMsg) (*types.Response, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(ctx, e.auth, ActionUpdateCollateralFactor, caller); err != nil {
		return nil, err
	}
	market, err := e.Market(msg.AssetID)
	if err != nil {
		return nil, err
	}
	if msg.Factor == nil {
		return nil, invalidMarket("factor")
	}
	if err := validateFactor(*msg.Factor); err != nil {
		return nil, err
	}
	market.CollateralFactor = *msg.Factor
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("risk.update_collateral_factor",
		"asset", market.AssetID,
		"collateral_factor", market.CollateralFactor.String()))
	return resp, nil
}

// EnterMarket pledges the user's supply in asset_id as collateral. Entering
// twice is a no-op.
func (e *Engine) EnterMarket(ctx context.Context, user crypto.Address, assetID string) (*types.Response, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if user.IsZero() {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidAddress", ErrInvalidAddress, "field", "user")
	}
	market, err := e.Market(assetID)
	if err != nil {
		return nil, err
	}
	if err := e.state.AddMembership(user, market.AssetID); err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("risk.enter_market", "user", user.String(), "asset", market.AssetID))
	return resp, nil
}

// ExitMarket removes asset_id from the user's collateral set unless the
// remaining collateral would no longer cover the user's debt.
func (e *Engine) ExitMarket(ctx context.Context, user crypto.Address, assetID string) (*types.Response, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.Market(assetID)
	if err != nil {
		return nil, err
	}
	entered, err := e.state.AccountMarkets(user)
	if err != nil {
		return nil, err
	}
	isMember := false
	for _, asset := range entered {
		if asset == market.AssetID {
			isMember = true
			break
		}
	}
	resp := &types.Response{}
	if !isMember {
		resp.AddEvent(types.NewEvent("risk.exit_market", "user", user.String(), "asset", market.AssetID, "entered", "false"))
		return resp, nil
	}

	positions, err := e.positions(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	if hasDebt(positions) {
		projected, err := e.value(positions, market.AssetID)
		if err != nil {
			return nil, err
		}
		if !projected.Solvent {
			return nil, nativecommon.NewError(nativecommon.KindSolvency, "ActiveCollateralInUse", ErrActiveCollateralInUse,
				"user", user.String(),
				"asset_id", market.AssetID,
				"collateral_value", projected.CollateralValue.String(),
				"debt_value", projected.DebtValue.String())
		}
	}
	if err := e.state.RemoveMembership(user, market.AssetID); err != nil {
		return nil, err
	}
	resp.AddEvent(types.NewEvent("risk.exit_market", "user", user.String(), "asset", market.AssetID, "entered", "true"))
	return resp, nil
}

// RecordBorrow adds asset_id to the markets the user owes in. Only the pool
// registered for the market may call it. It runs while the engine is paused
// so pools keep their accounting in step.
func (e *Engine) RecordBorrow(ctx context.Context, caller, user crypto.Address, assetID string) (*types.Response, error) {
	return e.trackBorrow(caller, user, assetID, true)
}

// ReleaseBorrow drops asset_id once the user's debt there is repaid.
func (e *Engine) ReleaseBorrow(ctx context.Context, caller, user crypto.Address, assetID string) (*types.Response, error) {
	return e.trackBorrow(caller, user, assetID, false)
}

func (e *Engine) trackBorrow(caller, user crypto.Address, assetID string, open bool) (*types.Response, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if user.IsZero() {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidAddress", ErrInvalidAddress, "field", "user")
	}
	market, err := e.Market(assetID)
	if err != nil {
		return nil, err
	}
	if !market.PoolAddress.Equal(caller) {
		return nil, poolNotRegistered(market.AssetID, caller)
	}
	if open {
		err = e.state.AddBorrowMarket(user, market.AssetID)
	} else {
		err = e.state.RemoveBorrowMarket(user, market.AssetID)
	}
	if err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("risk.borrow_market",
		"user", user.String(),
		"asset", market.AssetID,
		"open", fmt.Sprintf("%t", open)))
	return resp, nil
}

func validateFactor(factor types.Decimal) error {
	if factor.Cmp(types.OneDecimal()) > 0 {
		return invalidFactor(factor.String())
	}
	return nil
}

// Query answers a decoded QueryMsg with its JSON response.
func (c *Calculator) Query(ctx context.Context, msg QueryMsg) (json.RawMessage, error) {
	var (
		out interface{}
		set int
	)
	if msg.GetMarket != nil {
		set++
		market, err := c.Market(msg.GetMarket.AssetID)
		if err != nil {
			return nil, err
		}
		out = NewMarketResponse(market)
	}
	if msg.ListMarkets != nil {
		set++
		markets, err := c.Markets()
		if err != nil {
			return nil, err
		}
		resp := ListMarketsResponse{Markets: make([]MarketResponse, 0, len(markets))}
		for _, market := range markets {
			resp.Markets = append(resp.Markets, NewMarketResponse(market))
		}
		out = resp
	}
	if msg.AccountMarkets != nil {
		set++
		assets, err := c.AccountMarkets(msg.AccountMarkets.User)
		if err != nil {
			return nil, err
		}
		borrowing, err := c.BorrowMarkets(msg.AccountMarkets.User)
		if err != nil {
			return nil, err
		}
		out = AccountMarketsResponse{Assets: assets, Borrowing: borrowing}
	}
	if msg.GetAccountLiquidity != nil {
		set++
		delta, err := msg.GetAccountLiquidity.Delta.ToDelta()
		if err != nil {
			return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidAmount", err)
		}
		liquidity, err := c.AccountLiquidity(ctx, msg.GetAccountLiquidity.User, delta)
		if err != nil {
			return nil, err
		}
		out = NewLiquidityResponse(liquidity)
	}
	if set != 1 {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidQuery", errAmbiguousMsg)
	}
	return json.Marshal(out)
}
