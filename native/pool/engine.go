package pool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

// RiskEngine projects an account's liquidity as if delta had already been
// applied. ProjectLiquidity must be read-only. TrackBorrow builds the message
// telling the risk engine that the user opened (open) or cleared debt here.
type RiskEngine interface {
	ProjectLiquidity(ctx context.Context, riskEngine, user crypto.Address, delta LiquidityDelta) (Liquidity, error)
	TrackBorrow(riskEngine, user crypto.Address, assetID string, open bool) (types.Message, error)
}

// Accruer is invoked with the loaded PoolState before any balance is read or
// written, giving an interest model the chance to update the ledger first.
type Accruer interface {
	Accrue(ctx context.Context, ps *PoolState, height uint64) error
}

// NoopAccruer leaves balances untouched. Pools track principal only until an
// interest model is configured.
type NoopAccruer struct{}

func (NoopAccruer) Accrue(context.Context, *PoolState, uint64) error { return nil }

// Engine applies the pool's four ledger operations against a single
// transaction's state.
type Engine struct {
	state   engineState
	risk    RiskEngine
	accruer Accruer
	pauses  nativecommon.PauseView
	height  uint64
}

func NewEngine() *Engine {
	return &Engine{accruer: NoopAccruer{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRiskEngine wires the liquidity projection consulted by Withdraw and Borrow.
func (e *Engine) SetRiskEngine(risk RiskEngine) { e.risk = risk }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetAccruer replaces the accrual hook. Nil restores the no-op default.
func (e *Engine) SetAccruer(a Accruer) {
	if e == nil {
		return
	}
	if a == nil {
		a = NoopAccruer{}
	}
	e.accruer = a
}

// SetBlockHeight records the ledger height handed to the accrual hook.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.height = height
}

// Instantiate creates the PoolState singleton.
func (e *Engine) Instantiate(ctx context.Context, msg InstantiateMsg) (*types.Response, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset := strings.ToUpper(strings.TrimSpace(msg.AssetID))
	denom := strings.TrimSpace(msg.UnderlyingDenom)
	switch {
	case asset == "":
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidConfig", ErrInvalidConfig, "field", "asset_id")
	case denom == "":
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidConfig", ErrInvalidConfig, "field", "underlying_denom")
	case msg.RiskEngine.IsZero():
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidConfig", ErrInvalidConfig, "field", "risk_engine")
	}
	existing, err := e.state.GetPoolState()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "AlreadyInitialized", ErrAlreadyInitialized, "asset_id", existing.AssetID)
	}
	ps := &PoolState{
		AssetID:         asset,
		UnderlyingDenom: denom,
		RiskEngine:      msg.RiskEngine,
		TotalSupplied:   new(uint256.Int),
		TotalBorrowed:   new(uint256.Int),
		Reserves:        new(uint256.Int),
	}
	if err := e.state.PutPoolState(ps); err != nil {
		return nil, err
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("pool.instantiate",
		"asset", asset,
		"underlying_denom", denom,
		"risk_engine", msg.RiskEngine.String()))
	return resp, nil
}

// Deposit credits amount to the user's supplied balance. The underlying asset
// is assumed to be in custody already; settlement enforces that.
func (e *Engine) Deposit(ctx context.Context, user crypto.Address, amount *uint256.Int) (*types.Response, error) {
	ps, balances, err := e.begin(ctx, user, amount)
	if err != nil {
		return nil, err
	}
	supplied, overflowed := new(uint256.Int).AddOverflow(balances.Supplied, amount)
	if overflowed {
		return nil, overflow("supplied_balance")
	}
	total, overflowed := new(uint256.Int).AddOverflow(ps.TotalSupplied, amount)
	if overflowed {
		return nil, overflow("total_supplied")
	}
	balances.Supplied = supplied
	ps.TotalSupplied = total
	if err := e.persist(user, ps, balances); err != nil {
		return nil, err
	}
	return e.response("deposit", ps, user, amount, false), nil
}

// Withdraw debits the user's supplied balance after the risk engine confirms
// the account stays solvent without it.
func (e *Engine) Withdraw(ctx context.Context, user crypto.Address, amount *uint256.Int) (*types.Response, error) {
	ps, balances, err := e.begin(ctx, user, amount)
	if err != nil {
		return nil, err
	}
	if balances.Supplied.Lt(amount) {
		return nil, insufficientBalance(user, amount, balances.Supplied)
	}
	projected, err := e.project(ctx, ps, user, LiquidityDelta{AssetID: ps.AssetID, RedeemAmount: amount})
	if err != nil {
		return nil, err
	}
	if !projected.Solvent() {
		return nil, unsafe("WithdrawalUnsafe", ErrWithdrawalUnsafe, user, amount, projected)
	}
	balances.Supplied = new(uint256.Int).Sub(balances.Supplied, amount)
	ps.TotalSupplied = new(uint256.Int).Sub(ps.TotalSupplied, amount)
	if err := e.persist(user, ps, balances); err != nil {
		return nil, err
	}
	return e.response("withdraw", ps, user, amount, true), nil
}

// Borrow records new debt after the risk engine confirms the account stays
// solvent with it.
func (e *Engine) Borrow(ctx context.Context, user crypto.Address, amount *uint256.Int) (*types.Response, error) {
	ps, balances, err := e.begin(ctx, user, amount)
	if err != nil {
		return nil, err
	}
	borrowed, overflowed := new(uint256.Int).AddOverflow(balances.Borrowed, amount)
	if overflowed {
		return nil, overflow("borrowed_balance")
	}
	total, overflowed := new(uint256.Int).AddOverflow(ps.TotalBorrowed, amount)
	if overflowed {
		return nil, overflow("total_borrowed")
	}
	projected, err := e.project(ctx, ps, user, LiquidityDelta{AssetID: ps.AssetID, BorrowAmount: amount})
	if err != nil {
		return nil, err
	}
	if !projected.Solvent() {
		return nil, unsafe("BorrowUnsafe", ErrBorrowUnsafe, user, amount, projected)
	}
	balances.Borrowed = borrowed
	ps.TotalBorrowed = total
	if err := e.persist(user, ps, balances); err != nil {
		return nil, err
	}
	track, err := e.risk.TrackBorrow(ps.RiskEngine, user, ps.AssetID, true)
	if err != nil {
		return nil, err
	}
	resp := e.response("borrow", ps, user, amount, true)
	resp.AddMessage(track)
	return resp, nil
}

// Repay reduces the user's debt by min(amount, debt). Overpayment is clamped,
// never turned into a negative balance.
func (e *Engine) Repay(ctx context.Context, user crypto.Address, amount *uint256.Int) (*types.Response, error) {
	ps, balances, err := e.begin(ctx, user, amount)
	if err != nil {
		return nil, err
	}
	if balances.Borrowed.IsZero() {
		return nil, noOutstandingDebt(user)
	}
	applied := new(uint256.Int).Set(amount)
	if balances.Borrowed.Lt(applied) {
		applied.Set(balances.Borrowed)
	}
	balances.Borrowed = new(uint256.Int).Sub(balances.Borrowed, applied)
	ps.TotalBorrowed = new(uint256.Int).Sub(ps.TotalBorrowed, applied)
	if err := e.persist(user, ps, balances); err != nil {
		return nil, err
	}
	resp := e.response("repay", ps, user, applied, false)
	resp.Events[0].Attributes["requested"] = amount.Dec()
	data, err := json.Marshal(RepayResult{Applied: applied.Dec()})
	if err != nil {
		return nil, err
	}
	resp.Data = data
	if balances.Borrowed.IsZero() && e.risk != nil {
		track, err := e.risk.TrackBorrow(ps.RiskEngine, user, ps.AssetID, false)
		if err != nil {
			return nil, err
		}
		resp.AddMessage(track)
	}
	return resp, nil
}

// begin runs the checks shared by every mutating operation and returns the
// accrued pool state together with the user's balances.
func (e *Engine) begin(ctx context.Context, user crypto.Address, amount *uint256.Int) (*PoolState, *Balances, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, nil, invalidAmount(amount)
	}
	if user.IsZero() {
		return nil, nil, invalidUser()
	}
	ps, err := e.ensurePoolState()
	if err != nil {
		return nil, nil, err
	}
	if err := e.accruer.Accrue(ctx, ps, e.height); err != nil {
		return nil, nil, err
	}
	balances, err := e.state.GetBalances(user)
	if err != nil {
		return nil, nil, err
	}
	return ps, balances, nil
}

func (e *Engine) ensurePoolState() (*PoolState, error) {
	ps, err := e.state.GetPoolState()
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, uninitialized()
	}
	return ps, nil
}

func (e *Engine) project(ctx context.Context, ps *PoolState, user crypto.Address, delta LiquidityDelta) (Liquidity, error) {
	if e.risk == nil {
		return Liquidity{}, errNilRiskEngine
	}
	return e.risk.ProjectLiquidity(ctx, ps.RiskEngine, user, delta)
}

func (e *Engine) persist(user crypto.Address, ps *PoolState, balances *Balances) error {
	if err := e.state.PutBalances(user, balances); err != nil {
		return err
	}
	return e.state.PutPoolState(ps)
}

func (e *Engine) response(action string, ps *PoolState, user crypto.Address, amount *uint256.Int, payout bool) *types.Response {
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("pool."+action,
		"user", user.String(),
		"asset", ps.AssetID,
		"amount", amount.Dec()))
	if payout {
		resp.AddTransfer(types.Transfer{
			Recipient: user,
			Denom:     ps.UnderlyingDenom,
			Amount:    new(uint256.Int).Set(amount),
		})
	}
	return resp
}
