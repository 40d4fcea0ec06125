package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
	"moneymarket/settlement"
	"moneymarket/storage"
)

func account(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

var (
	admin = account(0xAD)
	alice = account(0xA1)
	bob   = account(0xB0)
)

type market struct {
	ledger *core.Ledger
	sink   *settlement.MemorySink
	prices *pricing.StaticFeed
	pauses nativecommon.PauseSet
	now    time.Time
	risk   crypto.Address
	atom   crypto.Address
	usdc   crypto.Address
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// newMarket deploys a risk engine with an ATOM pool (factor 0.5, price 10)
// and a USDC pool (factor 0.8, price 1).
func newMarket(t *testing.T) *market {
	t.Helper()
	ctx := context.Background()
	m := &market{
		sink:   settlement.NewMemorySink(),
		prices: pricing.NewStaticFeed(time.Hour),
		pauses: nativecommon.NewPauseSet(),
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	m.prices.SetClock(func() time.Time { return m.now })
	require.NoError(t, m.prices.SetPrice("ATOM", types.MustDecimal("10")))
	require.NoError(t, m.prices.SetPrice("USDC", types.MustDecimal("1")))

	m.ledger = core.NewLedger(storage.NewMemDB(), core.WithSink(m.sink))
	m.ledger.RegisterCode(PoolCode, NewPool(m.pauses))
	m.ledger.RegisterCode(RiskCode, NewRisk(m.prices, nativecommon.NewAdminSet(admin), m.pauses))

	receipt, err := m.ledger.Instantiate(ctx, admin, RiskCode, "main", json.RawMessage(`{}`))
	require.NoError(t, err)
	m.risk = receipt.Contract

	for _, asset := range []struct {
		id, denom, factor string
		addr              *crypto.Address
	}{
		{"ATOM", "uatom", "0.5", &m.atom},
		{"USDC", "uusdc", "0.8", &m.usdc},
	} {
		receipt, err := m.ledger.Instantiate(ctx, admin, PoolCode, asset.id, mustJSON(t, pool.InstantiateMsg{
			AssetID: asset.id, UnderlyingDenom: asset.denom, RiskEngine: m.risk,
		}))
		require.NoError(t, err)
		*asset.addr = receipt.Contract

		factor := types.MustDecimal(asset.factor)
		m.exec(t, admin, m.risk, risk.ExecuteMsg{RegisterMarket: &risk.RegisterMarketMsg{
			AssetID: asset.id, PoolAddress: receipt.Contract, CollateralFactor: &factor,
		}})
	}
	return m
}

func (m *market) send(sender, contract crypto.Address, msg interface{}) (*core.Receipt, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return m.ledger.Execute(context.Background(), core.Tx{Version: core.TxVersion, Sender: sender, Contract: contract, Msg: raw})
}

func (m *market) exec(t *testing.T, sender, contract crypto.Address, msg interface{}) *core.Receipt {
	t.Helper()
	receipt, err := m.send(sender, contract, msg)
	require.NoError(t, err)
	return receipt
}

func (m *market) balances(t *testing.T, poolAddr, user crypto.Address) pool.BalancesResponse {
	t.Helper()
	raw, err := m.ledger.Query(context.Background(), poolAddr, mustJSON(t, pool.QueryMsg{GetBalances: &pool.GetBalancesQuery{User: user}}))
	require.NoError(t, err)
	var resp pool.BalancesResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func (m *market) liquidity(t *testing.T, user crypto.Address, delta *risk.DeltaMsg) risk.LiquidityResponse {
	t.Helper()
	raw, err := m.ledger.Query(context.Background(), m.risk, mustJSON(t, risk.QueryMsg{
		GetAccountLiquidity: &risk.LiquidityQuery{User: user, Delta: delta},
	}))
	require.NoError(t, err)
	var resp risk.LiquidityResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func amount(v uint64) *pool.AmountMsg {
	return &pool.AmountMsg{Amount: fmt.Sprintf("%d", v)}
}

// fund gives the USDC pool liquidity from bob and collateralises alice with
// 100 ATOM.
func (m *market) fund(t *testing.T) {
	t.Helper()
	m.exec(t, bob, m.usdc, pool.ExecuteMsg{Deposit: amount(10_000)})
	m.exec(t, alice, m.atom, pool.ExecuteMsg{Deposit: amount(100)})
	m.exec(t, alice, m.risk, risk.ExecuteMsg{EnterMarket: &risk.MarketMsg{AssetID: "ATOM"}})
}

func TestBorrowAgainstEnteredCollateral(t *testing.T) {
	m := newMarket(t)
	m.fund(t)

	liq := m.liquidity(t, alice, nil)
	require.Equal(t, "500", liq.CollateralValue.String())
	require.True(t, liq.DebtValue.IsZero())
	require.Nil(t, liq.HealthFactor)

	heightBefore, err := m.ledger.Height()
	require.NoError(t, err)
	_, err = m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(600)})
	require.ErrorIs(t, err, pool.ErrBorrowUnsafe)
	typed, ok := nativecommon.AsError(err)
	require.True(t, ok)
	require.Equal(t, nativecommon.KindSolvency, typed.Kind)
	require.Equal(t, "BorrowUnsafe", typed.Code)
	require.Equal(t, "500", typed.Fields["collateral_value"])
	require.Equal(t, "600", typed.Fields["debt_value"])

	heightAfter, err := m.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, heightBefore, heightAfter)
	require.Equal(t, "0", m.balances(t, m.usdc, alice).BorrowedBalance)

	receipt := m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(400)})
	require.Equal(t, heightBefore+1, receipt.Height)
	require.Len(t, receipt.Transfers, 1)
	require.True(t, receipt.Transfers[0].Recipient.Equal(alice))
	require.Equal(t, "uusdc", receipt.Transfers[0].Denom)
	require.Equal(t, uint64(400), receipt.Transfers[0].Amount.Uint64())
	require.Equal(t, receipt.Transfers, m.sink.Batch(receipt.TxID))

	liq = m.liquidity(t, alice, nil)
	require.Equal(t, "400", liq.DebtValue.String())
	require.True(t, liq.Solvent)
	require.NotNil(t, liq.HealthFactor)
	require.Equal(t, "1.25", liq.HealthFactor.String())
}

func TestCollateralOnlyCountsEnteredMarkets(t *testing.T) {
	m := newMarket(t)
	m.exec(t, bob, m.usdc, pool.ExecuteMsg{Deposit: amount(10_000)})
	m.exec(t, alice, m.atom, pool.ExecuteMsg{Deposit: amount(100)})

	_, err := m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(1)})
	require.ErrorIs(t, err, pool.ErrBorrowUnsafe)

	m.exec(t, alice, m.risk, risk.ExecuteMsg{EnterMarket: &risk.MarketMsg{AssetID: "atom"}})
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(1)})
}

func TestWithdrawChecksProjectedSolvency(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(400)})

	// 70 ATOM left would be worth 350 against 400 of debt.
	_, err := m.send(alice, m.atom, pool.ExecuteMsg{Withdraw: amount(30)})
	require.ErrorIs(t, err, pool.ErrWithdrawalUnsafe)
	require.Equal(t, "100", m.balances(t, m.atom, alice).SuppliedBalance)

	projected := m.liquidity(t, alice, &risk.DeltaMsg{AssetID: "ATOM", RedeemAmount: "20"})
	require.Equal(t, "400", projected.CollateralValue.String())
	require.True(t, projected.Solvent)

	receipt := m.exec(t, alice, m.atom, pool.ExecuteMsg{Withdraw: amount(20)})
	require.Equal(t, "uatom", receipt.Transfers[0].Denom)
	require.Equal(t, "80", m.balances(t, m.atom, alice).SuppliedBalance)
}

func TestRepayRestoresBorrowingPower(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(500)})
	_, err := m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(1)})
	require.ErrorIs(t, err, pool.ErrBorrowUnsafe)

	receipt := m.exec(t, alice, m.usdc, pool.ExecuteMsg{Repay: amount(900)})
	var result pool.RepayResult
	require.NoError(t, json.Unmarshal(receipt.Data, &result))
	require.Equal(t, "500", result.Applied)
	require.Empty(t, receipt.Transfers)

	_, err = m.send(alice, m.usdc, pool.ExecuteMsg{Repay: amount(1)})
	require.ErrorIs(t, err, pool.ErrNoOutstandingDebt)

	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(500)})
}

func TestExitMarketWithDebtIsRejected(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(100)})

	_, err := m.send(alice, m.risk, risk.ExecuteMsg{ExitMarket: &risk.MarketMsg{AssetID: "ATOM"}})
	require.ErrorIs(t, err, risk.ErrActiveCollateralInUse)

	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Repay: amount(100)})
	receipt := m.exec(t, alice, m.risk, risk.ExecuteMsg{ExitMarket: &risk.MarketMsg{AssetID: "ATOM"}})
	require.Equal(t, "risk.exit_market", receipt.Events[0].Type)

	raw, err := m.ledger.Query(context.Background(), m.risk, mustJSON(t, risk.QueryMsg{AccountMarkets: &risk.UserQuery{User: alice}}))
	require.NoError(t, err)
	require.JSONEq(t, `{"assets":[],"borrowing":[]}`, string(raw))
}

func TestSettlementFailureRollsBack(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	height, err := m.ledger.Height()
	require.NoError(t, err)

	m.sink.FailWith(errors.New("outbox offline"))
	_, err = m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(100)})
	require.Error(t, err)
	require.Equal(t, nativecommon.KindInternal, nativecommon.KindOf(err))

	after, err := m.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, height, after)
	require.Equal(t, "0", m.balances(t, m.usdc, alice).BorrowedBalance)

	m.sink.FailWith(nil)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(100)})
	require.Equal(t, "100", m.balances(t, m.usdc, alice).BorrowedBalance)
}

func TestPriceUnavailableBlocksBorrow(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	m.now = m.now.Add(2 * time.Hour)
	require.NoError(t, m.prices.SetPrice("USDC", types.MustDecimal("1")))

	_, err := m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(1)})
	require.ErrorIs(t, err, risk.ErrPriceUnavailable)
	require.Equal(t, nativecommon.KindPriceUnavailable, nativecommon.KindOf(err))
	require.Equal(t, "0", m.balances(t, m.usdc, alice).BorrowedBalance)

	require.NoError(t, m.prices.SetPrice("ATOM", types.MustDecimal("10")))
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(1)})
}

func TestAdminActionsRequireAuthorization(t *testing.T) {
	m := newMarket(t)
	factor := types.MustDecimal("0.6")
	_, err := m.send(alice, m.risk, risk.ExecuteMsg{UpdateCollateralFactor: &risk.UpdateCollateralFactorMsg{AssetID: "ATOM", Factor: &factor}})
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	m.exec(t, admin, m.risk, risk.ExecuteMsg{UpdateCollateralFactor: &risk.UpdateCollateralFactorMsg{AssetID: "ATOM", Factor: &factor}})
	raw, err := m.ledger.Query(context.Background(), m.risk, mustJSON(t, risk.QueryMsg{GetMarket: &risk.MarketMsg{AssetID: "ATOM"}}))
	require.NoError(t, err)
	var resp risk.MarketResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "0.6", resp.CollateralFactor.String())
	require.True(t, resp.PoolAddress.Equal(m.atom))
}

func TestPausedPoolRejectsMutations(t *testing.T) {
	m := newMarket(t)
	m.pauses["pool"] = struct{}{}
	_, err := m.send(alice, m.atom, pool.ExecuteMsg{Deposit: amount(1)})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	delete(m.pauses, "pool")
	m.exec(t, alice, m.atom, pool.ExecuteMsg{Deposit: amount(1)})
}

func TestMalformedMessagesAreRejected(t *testing.T) {
	m := newMarket(t)
	for _, raw := range []string{
		`{"deposit":{"amount":"1"},"borrow":{"amount":"1"}}`,
		`{"deposite":{"amount":"1"}}`,
		`{"deposit":{"amount":"-1"}}`,
		`{}`,
	} {
		_, err := m.ledger.Execute(context.Background(), core.Tx{Version: core.TxVersion, Sender: alice, Contract: m.atom, Msg: json.RawMessage(raw)})
		require.Error(t, err, raw)
		require.Equal(t, nativecommon.KindValidation, nativecommon.KindOf(err), raw)
	}

	_, err := m.ledger.Query(context.Background(), m.atom, json.RawMessage(`{}`))
	require.Equal(t, nativecommon.KindValidation, nativecommon.KindOf(err))
}

func TestActionNames(t *testing.T) {
	require.Equal(t, "borrow", NewPool(nil).ActionName(json.RawMessage(`{"borrow":{"amount":"1"}}`)))
	require.Equal(t, "unknown", NewPool(nil).ActionName(json.RawMessage(`not json`)))
	require.Equal(t, "enter_market", NewRisk(nil, nil, nil).ActionName(json.RawMessage(`{"enter_market":{"asset_id":"ATOM"}}`)))
}

func TestPoolStateQuery(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	m.exec(t, bob, m.risk, risk.ExecuteMsg{EnterMarket: &risk.MarketMsg{AssetID: "USDC"}})
	m.exec(t, bob, m.usdc, pool.ExecuteMsg{Borrow: amount(2_500)})

	raw, err := m.ledger.Query(context.Background(), m.usdc, mustJSON(t, pool.QueryMsg{GetState: &pool.GetStateQuery{}}))
	require.NoError(t, err)
	var resp pool.StateResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "10000", resp.TotalSupplied)
	require.Equal(t, "2500", resp.TotalBorrowed)
	require.Equal(t, "0.25", resp.Utilisation.String())
	require.True(t, resp.RiskEngine.Equal(m.risk))
}

func (m *market) deployPool(t *testing.T, label, asset string, engine crypto.Address) crypto.Address {
	t.Helper()
	receipt, err := m.ledger.Instantiate(context.Background(), admin, PoolCode, label, mustJSON(t, pool.InstantiateMsg{
		AssetID: asset, UnderlyingDenom: "u" + label, RiskEngine: engine,
	}))
	require.NoError(t, err)
	return receipt.Contract
}

func (m *market) register(asset string, poolAddr crypto.Address, factor string) error {
	f := types.MustDecimal(factor)
	_, err := m.send(admin, m.risk, risk.ExecuteMsg{RegisterMarket: &risk.RegisterMarketMsg{
		AssetID: asset, PoolAddress: poolAddr, CollateralFactor: &f,
	}})
	return err
}

func TestRepointedMarketRetiresOldPool(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	v2 := m.deployPool(t, "USDC-v2", "USDC", m.risk)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(100)})

	err := m.register("USDC", v2, "0.8")
	require.ErrorIs(t, err, risk.ErrMarketPoolInUse)

	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Repay: amount(100)})
	require.NoError(t, m.register("USDC", v2, "0.8"))

	// The old pool can no longer lend against the engine's collateral.
	_, err = m.send(alice, m.usdc, pool.ExecuteMsg{Borrow: amount(400)})
	require.ErrorIs(t, err, risk.ErrPoolNotRegistered)
	require.Equal(t, nativecommon.KindUnauthorized, nativecommon.KindOf(err))
	require.Equal(t, "0", m.balances(t, m.usdc, alice).BorrowedBalance)

	// Suppliers still get their funds out of the old pool.
	receipt := m.exec(t, bob, m.usdc, pool.ExecuteMsg{Withdraw: amount(10_000)})
	require.Equal(t, uint64(10_000), receipt.Transfers[0].Amount.Uint64())

	m.exec(t, bob, v2, pool.ExecuteMsg{Deposit: amount(1_000)})
	m.exec(t, alice, v2, pool.ExecuteMsg{Borrow: amount(400)})
	require.Equal(t, "400", m.liquidity(t, alice, nil).DebtValue.String())
}

func TestRegisterMarketRejectsForeignPool(t *testing.T) {
	m := newMarket(t)

	err := m.register("ETH", m.atom, "0.7")
	require.ErrorIs(t, err, risk.ErrPoolMismatch)
	require.Equal(t, nativecommon.KindValidation, nativecommon.KindOf(err))
	_, err = m.ledger.Query(context.Background(), m.risk, mustJSON(t, risk.QueryMsg{GetMarket: &risk.MarketMsg{AssetID: "ETH"}}))
	require.ErrorIs(t, err, risk.ErrMarketNotFound)

	// A pool answering to another engine cannot be registered either.
	other := m.deployPool(t, "ATOM-other", "ATOM", crypto.ContractAddress(RiskCode, "other"))
	err = m.register("ATOM", other, "0.5")
	require.ErrorIs(t, err, risk.ErrPoolMismatch)

	err = m.register("ETH", crypto.ContractAddress(PoolCode, "missing"), "0.7")
	require.Equal(t, nativecommon.KindNotFound, nativecommon.KindOf(err))
}

func TestBorrowMembershipIsTracked(t *testing.T) {
	m := newMarket(t)
	m.fund(t)
	markets := func() risk.AccountMarketsResponse {
		raw, err := m.ledger.Query(context.Background(), m.risk, mustJSON(t, risk.QueryMsg{AccountMarkets: &risk.UserQuery{User: alice}}))
		require.NoError(t, err)
		var resp risk.AccountMarketsResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		return resp
	}

	receipt := m.exec(t, alice, m.usdc, pool.ExecuteMsg{Borrow: amount(100)})
	require.Len(t, receipt.Events, 2)
	require.Equal(t, "risk.borrow_market", receipt.Events[1].Type)
	require.Equal(t, []string{"USDC"}, markets().Borrowing)

	// Only the registered pool may record membership.
	_, err := m.send(alice, m.risk, risk.ExecuteMsg{ReleaseBorrow: &risk.BorrowMarketMsg{User: alice, AssetID: "USDC"}})
	require.ErrorIs(t, err, risk.ErrPoolNotRegistered)

	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Repay: amount(40)})
	require.Equal(t, []string{"USDC"}, markets().Borrowing)
	m.exec(t, alice, m.usdc, pool.ExecuteMsg{Repay: amount(60)})
	require.Empty(t, markets().Borrowing)
	require.Equal(t, []string{"ATOM"}, markets().Assets)
}
