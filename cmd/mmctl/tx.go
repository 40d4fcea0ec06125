package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"moneymarket/contracts"
	"moneymarket/core"
	"moneymarket/core/types"
	"moneymarket/crypto"
	"moneymarket/native/pool"
	"moneymarket/native/risk"
	"moneymarket/rpc"
)

func (g *globals) execute(cmd *cobra.Command, contract crypto.Address, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var receipt core.Receipt
	if err := g.client().Call(cmd.Context(), "mm_execute", rpc.ExecuteParams{Contract: contract, Msg: raw}, &receipt); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), receipt)
}

func poolCommand(g *globals, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <pool> <amount>",
		Short: "Submit a " + action + " to a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolAddr, err := resolveContract(contracts.PoolCode, args[0])
			if err != nil {
				return err
			}
			amount, err := types.ParseAmount(args[1])
			if err != nil {
				return err
			}
			body := &pool.AmountMsg{Amount: amount.Dec()}
			var msg pool.ExecuteMsg
			switch action {
			case "deposit":
				msg.Deposit = body
			case "withdraw":
				msg.Withdraw = body
			case "borrow":
				msg.Borrow = body
			case "repay":
				msg.Repay = body
			}
			return g.execute(cmd, poolAddr, msg)
		},
	}
}

func marketMembershipCommand(g *globals, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <asset>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			riskAddr, err := g.riskAddress()
			if err != nil {
				return err
			}
			market := &risk.MarketMsg{AssetID: args[0]}
			msg := risk.ExecuteMsg{EnterMarket: market}
			if use == "exit" {
				msg = risk.ExecuteMsg{ExitMarket: market}
			}
			return g.execute(cmd, riskAddr, msg)
		},
	}
}

func registerCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "register <asset> <pool> <collateral-factor>",
		Short: "Register or update a market (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			riskAddr, err := g.riskAddress()
			if err != nil {
				return err
			}
			poolAddr, err := resolveContract(contracts.PoolCode, args[1])
			if err != nil {
				return err
			}
			factor, err := types.ParseDecimal(args[2])
			if err != nil {
				return err
			}
			return g.execute(cmd, riskAddr, risk.ExecuteMsg{RegisterMarket: &risk.RegisterMarketMsg{
				AssetID: args[0], PoolAddress: poolAddr, CollateralFactor: &factor,
			}})
		},
	}
}

func updateFactorCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "update-factor <asset> <collateral-factor>",
		Short: "Change a market's collateral factor (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			riskAddr, err := g.riskAddress()
			if err != nil {
				return err
			}
			factor, err := types.ParseDecimal(args[1])
			if err != nil {
				return err
			}
			return g.execute(cmd, riskAddr, risk.ExecuteMsg{UpdateCollateralFactor: &risk.UpdateCollateralFactorMsg{
				AssetID: args[0], Factor: &factor,
			}})
		},
	}
}

func setPriceCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set-price <asset> <price>",
		Short: "Publish an operator price (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := types.ParseDecimal(args[1])
			if err != nil {
				return err
			}
			var result map[string]bool
			if err := g.client().Call(cmd.Context(), "mm_setPrice", rpc.SetPriceParams{AssetID: args[0], Price: price}, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
