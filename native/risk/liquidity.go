package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

// Calculator answers the risk engine's read-only questions. It is built over
// a read-only view, so nothing it does can change contract state.
type Calculator struct {
	state  readState
	pools  PoolReader
	prices pricing.PriceSource
}

func NewCalculator(state readState, pools PoolReader, prices pricing.PriceSource) *Calculator {
	return &Calculator{state: state, pools: pools, prices: prices}
}

type position struct {
	market   *Market
	supplied *uint256.Int
	borrowed *uint256.Int
	entered  bool
}

func normalizeAsset(assetID string) string {
	return strings.ToUpper(strings.TrimSpace(assetID))
}

// Market returns the registry entry for assetID or MarketNotFound.
func (c *Calculator) Market(assetID string) (*Market, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	asset := normalizeAsset(assetID)
	market, err := c.state.GetMarket(asset)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, marketNotFound(asset)
	}
	return market, nil
}

func (c *Calculator) Markets() ([]*Market, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	return c.state.ListMarkets()
}

func (c *Calculator) AccountMarkets(user crypto.Address) ([]string, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	return c.state.AccountMarkets(user)
}

func (c *Calculator) BorrowMarkets(user crypto.Address) ([]string, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	return c.state.BorrowMarkets(user)
}

// AccountLiquidity computes the user's discounted collateral and debt values
// with delta projected onto its asset. Collateral counts only entered
// markets; debt counts every market the user borrows in.
func (c *Calculator) AccountLiquidity(ctx context.Context, user crypto.Address, delta *Delta) (*AccountLiquidity, error) {
	positions, err := c.positions(ctx, user, delta)
	if err != nil {
		return nil, err
	}
	return c.value(positions, "")
}

// positions reads the user's balances from the pools of the markets the user
// has entered or borrows in, plus the delta's market. Other pools are never
// queried.
func (c *Calculator) positions(ctx context.Context, user crypto.Address, delta *Delta) ([]position, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	if c.pools == nil {
		return nil, errNilPools
	}
	if user.IsZero() {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidAddress", ErrInvalidAddress, "field", "user")
	}
	entered, err := c.state.AccountMarkets(user)
	if err != nil {
		return nil, err
	}
	borrowing, err := c.state.BorrowMarkets(user)
	if err != nil {
		return nil, err
	}
	enteredSet := make(map[string]struct{}, len(entered))
	scope := make(map[string]struct{}, len(entered)+len(borrowing)+1)
	for _, asset := range entered {
		enteredSet[asset] = struct{}{}
		scope[asset] = struct{}{}
	}
	for _, asset := range borrowing {
		scope[asset] = struct{}{}
	}

	deltaAsset := ""
	if delta != nil && (!delta.empty() || !delta.Pool.IsZero()) {
		deltaAsset = normalizeAsset(delta.AssetID)
		market, err := c.Market(deltaAsset)
		if err != nil {
			return nil, err
		}
		if !delta.Pool.IsZero() && !market.PoolAddress.Equal(delta.Pool) {
			// A pool that is not the market's pool never backs collateral, so
			// redeeming from it changes nothing. Borrowing from it is refused.
			if delta.BorrowAmount != nil && !delta.BorrowAmount.IsZero() {
				return nil, poolNotRegistered(deltaAsset, delta.Pool)
			}
			deltaAsset = ""
		} else {
			scope[deltaAsset] = struct{}{}
		}
	}

	assets := make([]string, 0, len(scope))
	for asset := range scope {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	out := make([]position, 0, len(assets))
	for _, asset := range assets {
		market, err := c.state.GetMarket(asset)
		if err != nil {
			return nil, err
		}
		if market == nil {
			continue
		}
		pos, err := c.pools.Balances(ctx, market.PoolAddress, user)
		if err != nil {
			return nil, fmt.Errorf("risk engine: balances of %s: %w", market.AssetID, err)
		}
		supplied := new(uint256.Int).Set(types.AmountOrZero(pos.Supplied))
		borrowed := new(uint256.Int).Set(types.AmountOrZero(pos.Borrowed))
		if market.AssetID == deltaAsset {
			if delta.RedeemAmount != nil {
				if supplied.Lt(delta.RedeemAmount) {
					supplied.Clear()
				} else {
					supplied.Sub(supplied, delta.RedeemAmount)
				}
			}
			if delta.BorrowAmount != nil {
				if _, overflowed := borrowed.AddOverflow(borrowed, delta.BorrowAmount); overflowed {
					return nil, overflow(market.AssetID, errors.New("borrow delta"))
				}
			}
		}
		_, isEntered := enteredSet[market.AssetID]
		out = append(out, position{market: market, supplied: supplied, borrowed: borrowed, entered: isEntered})
	}
	return out, nil
}

// value prices the positions. Markets named by exclude do not count as
// collateral. Prices are only looked up for markets that contribute.
func (c *Calculator) value(positions []position, exclude string) (*AccountLiquidity, error) {
	if c.prices == nil {
		return nil, errNilPrices
	}
	var collateral, debt types.Decimal
	for _, pos := range positions {
		asset := pos.market.AssetID
		countsAsCollateral := pos.entered && asset != exclude && !pos.supplied.IsZero()
		if !countsAsCollateral && pos.borrowed.IsZero() {
			continue
		}
		price, err := c.prices.Price(asset)
		if err != nil {
			return nil, priceUnavailable(asset, err)
		}
		if countsAsCollateral {
			gross, err := price.MulAmount(pos.supplied)
			if err != nil {
				return nil, overflow(asset, err)
			}
			discounted, err := gross.Mul(pos.market.CollateralFactor)
			if err != nil {
				return nil, overflow(asset, err)
			}
			if collateral, err = collateral.Add(discounted); err != nil {
				return nil, overflow(asset, err)
			}
		}
		if !pos.borrowed.IsZero() {
			owed, err := price.MulAmount(pos.borrowed)
			if err != nil {
				return nil, overflow(asset, err)
			}
			if debt, err = debt.Add(owed); err != nil {
				return nil, overflow(asset, err)
			}
		}
	}
	result := &AccountLiquidity{
		CollateralValue: collateral,
		DebtValue:       debt,
		Solvent:         debt.LTE(collateral),
		Shortfall:       debt.SubFloor(collateral),
	}
	if !debt.IsZero() {
		health, err := collateral.Quo(debt)
		if err != nil {
			return nil, overflow("", err)
		}
		result.HealthFactor = &health
	}
	return result, nil
}

func hasDebt(positions []position) bool {
	for _, pos := range positions {
		if !pos.borrowed.IsZero() {
			return true
		}
	}
	return false
}
