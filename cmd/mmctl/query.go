package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"moneymarket/contracts"
	"moneymarket/core/types"
	"moneymarket/crypto"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
	"moneymarket/rpc"
)

func (g *globals) query(cmd *cobra.Command, contract crypto.Address, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := g.client().Call(cmd.Context(), "mm_query", rpc.QueryParams{Contract: contract, Msg: raw}, &result); err != nil {
		return err
	}
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), pretty)
}

func liquidityCommand(g *globals) *cobra.Command {
	var asset, redeem, borrow string
	c := &cobra.Command{
		Use:   "liquidity <user>",
		Short: "Show a user's collateral and debt values, optionally with a hypothetical change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			riskAddr, err := g.riskAddress()
			if err != nil {
				return err
			}
			user, err := crypto.DecodeAddress(args[0])
			if err != nil {
				return err
			}
			q := &risk.LiquidityQuery{User: user}
			if asset != "" {
				q.Delta = &risk.DeltaMsg{AssetID: asset}
				if redeem != "" {
					if _, err := types.ParseAmount(redeem); err != nil {
						return err
					}
					q.Delta.RedeemAmount = redeem
				}
				if borrow != "" {
					if _, err := types.ParseAmount(borrow); err != nil {
						return err
					}
					q.Delta.BorrowAmount = borrow
				}
			}
			return g.query(cmd, riskAddr, risk.QueryMsg{GetAccountLiquidity: q})
		},
	}
	c.Flags().StringVar(&asset, "asset", "", "Asset the hypothetical change applies to")
	c.Flags().StringVar(&redeem, "redeem", "", "Hypothetical redemption amount")
	c.Flags().StringVar(&borrow, "borrow", "", "Hypothetical additional borrow")
	return c
}

func balancesCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <pool> <user>",
		Short: "Show a user's supplied and borrowed balances in a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolAddr, err := resolveContract(contracts.PoolCode, args[0])
			if err != nil {
				return err
			}
			user, err := crypto.DecodeAddress(args[1])
			if err != nil {
				return err
			}
			return g.query(cmd, poolAddr, pool.QueryMsg{GetBalances: &pool.GetBalancesQuery{User: user}})
		},
	}
}

func marketsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "markets",
		Short: "List registered markets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			riskAddr, err := g.riskAddress()
			if err != nil {
				return err
			}
			return g.query(cmd, riskAddr, risk.QueryMsg{ListMarkets: &risk.ListMarketsQuery{}})
		},
	}
}

func contractsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "List instantiated contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result rpc.ContractsResult
			if err := g.client().Call(cmd.Context(), "mm_contracts", nil, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func pendingCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [recipient]",
		Short: "List transfer instructions awaiting settlement",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := rpc.PendingTransfersParams{}
			if len(args) == 1 {
				params.Recipient = args[0]
			}
			var result rpc.PendingTransfersResult
			if err := g.client().Call(cmd.Context(), "mm_pendingTransfers", params, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
