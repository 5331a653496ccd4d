package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"callSpread/internal/model"
	"callSpread/internal/payoff"
	"callSpread/internal/settlement"
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Escrow collateral and mint a call spread position",
		RunE:  runCreate,
	}
	cmd.Flags().String("from", "", "seller address")
	cmd.Flags().String("strike-low", "", "lower strike in whole quote units")
	cmd.Flags().String("strike-high", "", "upper strike in whole quote units")
	cmd.Flags().String("collateral", "", "collateral in whole tokens")
	cmd.Flags().Uint64("expiry", 0, "expiry unix timestamp")
	cmd.Flags().Duration("expires-in", 0, "expiry relative to now, used when --expiry is 0")
	cmd.Flags().String("metadata-uri", "", "position metadata URI")
	return cmd
}

func runCreate(cmd *cobra.Command, _ []string) error {
	return withMarket(cmd, true, func(ctx context.Context, m *market) error {
		from, _ := cmd.Flags().GetString("from")
		seller, err := parseAddress("from", from)
		if err != nil {
			return err
		}

		priceDecimals := m.engine.Scale().PriceDecimals
		low, err := unitsFlag(cmd, "strike-low", priceDecimals)
		if err != nil {
			return err
		}
		high, err := unitsFlag(cmd, "strike-high", priceDecimals)
		if err != nil {
			return err
		}
		collateral, err := unitsFlag(cmd, "collateral", m.token.Decimals())
		if err != nil {
			return err
		}

		expiry, _ := cmd.Flags().GetUint64("expiry")
		if expiry == 0 {
			in, _ := cmd.Flags().GetDuration("expires-in")
			if in <= 0 {
				return fmt.Errorf("--expiry or --expires-in is required")
			}
			expiry = m.engine.Now() + uint64(in/time.Second)
		}
		uri, _ := cmd.Flags().GetString("metadata-uri")

		id, err := m.engine.CreateCallSpread(ctx, seller, settlement.CreateRequest{
			StrikeLow:   low,
			StrikeHigh:  high,
			Expiry:      expiry,
			Collateral:  collateral,
			MetadataURI: uri,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"id": id, "expiry": unixTime(expiry)})
	})
}

func newBuyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Transfer a position from its seller to the caller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, true, func(ctx context.Context, m *market) error {
				from, _ := cmd.Flags().GetString("from")
				caller, err := parseAddress("from", from)
				if err != nil {
					return err
				}
				id, _ := cmd.Flags().GetUint64("id")
				if err := m.engine.BuyCallSpread(ctx, caller, id); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"id": id, "owner": caller.Hex()})
			})
		},
	}
	cmd.Flags().String("from", "", "buyer address")
	cmd.Flags().Uint64("id", 0, "position id")
	return cmd
}

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer a position to another holder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, true, func(ctx context.Context, m *market) error {
				from, _ := cmd.Flags().GetString("from")
				caller, err := parseAddress("from", from)
				if err != nil {
					return err
				}
				to, _ := cmd.Flags().GetString("to")
				recipient, err := parseAddress("to", to)
				if err != nil {
					return err
				}
				id, _ := cmd.Flags().GetUint64("id")
				if err := m.engine.TransferPosition(ctx, caller, id, recipient); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"id": id, "owner": recipient.Hex()})
			})
		},
	}
	cmd.Flags().String("from", "", "current owner address")
	cmd.Flags().String("to", "", "new owner address")
	cmd.Flags().Uint64("id", 0, "position id")
	return cmd
}

func newExerciseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "Settle an expired position at the oracle price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, true, func(ctx context.Context, m *market) error {
				id, _ := cmd.Flags().GetUint64("id")
				res, err := m.engine.ExerciseCallSpread(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"id":        res.ID,
					"price":     m.priceUnits(res.PriceUsed),
					"payoff":    m.collateralUnits(res.PayoffAmount),
					"remainder": m.collateralUnits(res.Remainder),
					"owner":     res.Owner.Hex(),
					"seller":    res.Seller.Hex(),
				})
			})
		},
	}
	cmd.Flags().Uint64("id", 0, "position id")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the payoff of a position at a hypothetical price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, false, func(ctx context.Context, m *market) error {
				id, _ := cmd.Flags().GetUint64("id")
				scale := m.engine.Scale()
				price, err := unitsFlag(cmd, "at", scale.PriceDecimals)
				if err != nil {
					return err
				}
				raw, err := m.engine.CalculatePayoff(id, price)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"id":         id,
					"price":      m.priceUnits(price),
					"payoff":     m.priceUnits(raw),
					"collateral": m.collateralUnits(scale.ToCollateral(raw)),
				})
			})
		},
	}
	cmd.Flags().Uint64("id", 0, "position id")
	cmd.Flags().String("at", "", "price in whole quote units")
	return cmd
}

type positionView struct {
	ID          uint64 `json:"id"`
	StrikeLow   string `json:"strike_low"`
	StrikeHigh  string `json:"strike_high"`
	Expiry      string `json:"expiry"`
	Collateral  string `json:"collateral"`
	Escrowed    string `json:"escrowed"`
	Seller      string `json:"seller"`
	Owner       string `json:"owner"`
	Buyer       string `json:"buyer,omitempty"`
	Exercised   bool   `json:"exercised"`
	Exercisable bool   `json:"exercisable"`
	MetadataURI string `json:"metadata_uri,omitempty"`
}

func (m *market) view(p model.Position) positionView {
	v := positionView{
		ID:          p.ID,
		StrikeLow:   m.priceUnits(p.StrikeLow),
		StrikeHigh:  m.priceUnits(p.StrikeHigh),
		Expiry:      unixTime(p.Expiry),
		Collateral:  m.collateralUnits(p.Collateral),
		Escrowed:    m.collateralUnits(m.engine.Escrowed(p.ID)),
		Seller:      p.Seller.Hex(),
		Owner:       p.Owner.Hex(),
		Exercised:   p.Exercised,
		Exercisable: p.ExercisableAt(m.engine.Now()),
		MetadataURI: p.MetadataURI,
	}
	if p.Purchased() {
		v.Buyer = p.Buyer.Hex()
	}
	return v
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one position, or all positions when --id is omitted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, false, func(ctx context.Context, m *market) error {
				if cmd.Flags().Changed("id") {
					id, _ := cmd.Flags().GetUint64("id")
					pos, err := m.engine.Position(id)
					if err != nil {
						return err
					}
					return printJSON(cmd, m.view(pos))
				}

				views := make([]positionView, 0, m.engine.Count())
				for id := uint64(0); id < m.engine.Count(); id++ {
					pos, err := m.engine.Position(id)
					if err != nil {
						return err
					}
					views = append(views, m.view(pos))
				}
				return printJSON(cmd, views)
			})
		},
	}
	cmd.Flags().Uint64("id", 0, "position id")
	return cmd
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, false, func(ctx context.Context, m *market) error {
				from, _ := cmd.Flags().GetUint64("from-seq")
				limit, _ := cmd.Flags().GetInt("limit")
				events := m.engine.Events(from, limit)
				if events == nil {
					events = []model.Event{}
				}
				return printJSON(cmd, events)
			})
		},
	}
	cmd.Flags().Uint64("from-seq", 0, "first sequence number")
	cmd.Flags().Int("limit", 100, "maximum events")
	return cmd
}

func newMintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Credit collateral tokens to an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, true, func(ctx context.Context, m *market) error {
				to, _ := cmd.Flags().GetString("to")
				holder, err := parseAddress("to", to)
				if err != nil {
					return err
				}
				amount, err := unitsFlag(cmd, "amount", m.token.Decimals())
				if err != nil {
					return err
				}
				if err := m.token.Mint(holder, amount); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"holder": holder.Hex(), "balance": m.collateralUnits(m.token.BalanceOf(holder))})
			})
		},
	}
	cmd.Flags().String("to", "", "recipient address")
	cmd.Flags().String("amount", "", "amount in whole tokens")
	return cmd
}

func newApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Allow the engine to pull collateral from an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, true, func(ctx context.Context, m *market) error {
				from, _ := cmd.Flags().GetString("from")
				owner, err := parseAddress("from", from)
				if err != nil {
					return err
				}
				amount, err := unitsFlag(cmd, "amount", m.token.Decimals())
				if err != nil {
					return err
				}
				if err := m.token.Approve(owner, m.engine.Address(), amount); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"owner":     owner.Hex(),
					"spender":   m.engine.Address().Hex(),
					"allowance": m.collateralUnits(m.token.Allowance(owner, m.engine.Address())),
				})
			})
		},
	}
	cmd.Flags().String("from", "", "token owner address")
	cmd.Flags().String("amount", "", "allowance in whole tokens")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show an account's collateral balance and engine allowance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMarket(cmd, false, func(ctx context.Context, m *market) error {
				of, _ := cmd.Flags().GetString("of")
				holder, err := parseAddress("of", of)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"holder":    holder.Hex(),
					"symbol":    m.token.Symbol(),
					"balance":   m.collateralUnits(m.token.BalanceOf(holder)),
					"allowance": m.collateralUnits(m.token.Allowance(holder, m.engine.Address())),
				})
			})
		},
	}
	cmd.Flags().String("of", "", "account address")
	return cmd
}

func unitsFlag(cmd *cobra.Command, name string, decimals uint8) (*big.Int, error) {
	text, _ := cmd.Flags().GetString(name)
	if text == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	value, err := payoff.ParseUnits(text, decimals)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return value, nil
}
