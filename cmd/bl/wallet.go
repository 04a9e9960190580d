package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
	"bountyline/internal/wei"
)

func walletCmd() *cobra.Command {
	w := &cobra.Command{Use: "wallet", Short: "Inspect and fund wallets"}
	w.AddCommand(walletFundCmd())
	w.AddCommand(walletBalanceCmd())
	return w
}

func walletFundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "fund [address]",
		Short: "Mint --amount into a wallet (defaults to --from)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller("")
			if err != nil {
				return err
			}
			addr, err := addressArg(args)
			if err != nil {
				return err
			}
			amt, err := wei.Parse(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Fund(ctx, call, addr, amt)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount (wei, or with gwei/ether suffix)")
	return cmd
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show a wallet balance (defaults to --from)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Balance(ctx, addr)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				fmt.Printf("%s  %s wei (%s ether)\n", w.Address.Hex(), w.Balance, w.Balance.Ether())
				return nil
			})
		},
	}
}

func payoutCmd() *cobra.Command {
	p := &cobra.Command{Use: "payout", Short: "Inspect and settle payouts"}
	p.AddCommand(payoutListCmd())
	p.AddCommand(payoutSettleCmd())
	return p
}

func payoutListCmd() *cobra.Command {
	var f repo.PayoutFilters
	var recipient string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipient != "" {
				a, err := domain.ParseAddress(recipient)
				if err != nil {
					return err
				}
				f.Recipient = &a
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payouts, err := e.ListPayouts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(payouts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Issue", "Recipient", "Amount", "Kind", "Status", "Attempts", "Last error"})
				for _, p := range payouts {
					tw.AppendRow(table.Row{p.ID, p.IssueID, p.Recipient.Hex(), p.Amount.String(), p.Kind, statusColor(p.Status), p.Attempts, p.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "pending or settled")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient filter")
	cmd.Flags().Uint64Var(&f.IssueID, "issue", 0, "issue filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func payoutSettleCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "settle [payout-id]",
		Short: "Settle one payout, or retry every pending payout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) == 1 {
					p, err := e.SettlePayout(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(p)
				}
				n, err := e.SettlePending(ctx, batch)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"settled": n})
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 50, "max payouts to settle")
	return cmd
}
