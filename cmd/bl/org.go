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
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgRegisterCmd())
	org.AddCommand(orgCreditsCmd())
	org.AddCommand(orgShowCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgIssuesCmd())
	return org
}

func orgRegisterCmd() *cobra.Command {
	var repoURL, value string
	var opts engine.RegistrationOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Stake --value and register --from as an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller(value)
			if err != nil {
				return err
			}
			opts.RepoURL = repoURL
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				org, err := e.RegisterOrganization(ctx, call, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository url")
	cmd.Flags().StringVar(&value, "value", "", "stake (wei, or with gwei/ether suffix)")
	cmd.Flags().Uint64Var(&opts.EasyDuration, "easy-duration", 0, "easy assignment window in seconds")
	cmd.Flags().Uint64Var(&opts.MediumDuration, "medium-duration", 0, "medium assignment window in seconds")
	cmd.Flags().Uint64Var(&opts.HardDuration, "hard-duration", 0, "hard assignment window in seconds")
	return cmd
}

func orgCreditsCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Add --value to the caller's AI credits",
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller(value)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				org, err := e.AddAICredits(ctx, call)
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "amount (wei, or with gwei/ether suffix)")
	return cmd
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [address]",
		Short: "Show an organization (defaults to --from)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				org, err := e.GetOrganizationInfo(ctx, addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgs, err := e.ListOrganizations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Address", "Repo", "Staked", "Available", "AI credits"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.Address.Hex(), o.RepoURL, o.TotalStaked.Ether(), o.AvailableRewards.Ether(), o.AICredits.Ether()})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func orgIssuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issues [address]",
		Short: "List the issues an organization created",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.GetOrganizationIssues(ctx, addr)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				issues := make([]domain.Issue, 0, len(ids))
				for _, id := range ids {
					is, err := e.GetIssueInfo(ctx, id)
					if err != nil {
						return fmt.Errorf("issue %d: %w", id, err)
					}
					issues = append(issues, is)
				}
				renderIssues(issues)
				return nil
			})
		},
	}
}
