package contracts

import (
	"context"
	"encoding/json"
	"fmt"

	"moneymarket/config"
	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
)

// Deployment names the contracts created from a genesis file.
type Deployment struct {
	Risk  crypto.Address            `json:"risk"`
	Pools map[string]crypto.Address `json:"pools"`
}

// Bootstrap deploys the risk engine and one pool per genesis market, then
// registers each market and seeds its price. Contracts that already exist
// are left untouched, so restarting a node is safe.
func Bootstrap(ctx context.Context, ledger *core.Ledger, admin crypto.Address, genesis *config.Genesis, prices *pricing.StaticFeed) (*Deployment, error) {
	deployment := &Deployment{
		Risk:  crypto.ContractAddress(RiskCode, genesis.RiskLabel),
		Pools: make(map[string]crypto.Address, len(genesis.Markets)),
	}
	if _, err := instantiateOnce(ctx, ledger, admin, RiskCode, genesis.RiskLabel, risk.InstantiateMsg{}); err != nil {
		return nil, fmt.Errorf("genesis: risk engine: %w", err)
	}

	for _, market := range genesis.Markets {
		if prices != nil {
			if err := prices.SetPrice(market.AssetID, market.InitialPrice()); err != nil {
				return nil, err
			}
		}
		poolAddr := crypto.ContractAddress(PoolCode, market.AssetID)
		deployment.Pools[market.AssetID] = poolAddr
		created, err := instantiateOnce(ctx, ledger, admin, PoolCode, market.AssetID, pool.InstantiateMsg{
			AssetID:         market.AssetID,
			UnderlyingDenom: market.Denom,
			RiskEngine:      deployment.Risk,
		})
		if err != nil {
			return nil, fmt.Errorf("genesis: pool %s: %w", market.AssetID, err)
		}
		if !created {
			continue
		}
		factor := market.Factor()
		msg, err := json.Marshal(risk.ExecuteMsg{RegisterMarket: &risk.RegisterMarketMsg{
			AssetID: market.AssetID, PoolAddress: poolAddr, CollateralFactor: &factor,
		}})
		if err != nil {
			return nil, err
		}
		if _, err := ledger.Execute(ctx, core.Tx{Version: core.TxVersion, Sender: admin, Contract: deployment.Risk, Msg: msg}); err != nil {
			return nil, fmt.Errorf("genesis: register %s: %w", market.AssetID, err)
		}
	}
	return deployment, nil
}

func instantiateOnce(ctx context.Context, ledger *core.Ledger, admin crypto.Address, code, label string, msg interface{}) (bool, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	_, err = ledger.Instantiate(ctx, admin, code, label, raw)
	if err == nil {
		return true, nil
	}
	if typed, ok := nativecommon.AsError(err); ok && typed.Code == "ContractExists" {
		return false, nil
	}
	return false, err
}
