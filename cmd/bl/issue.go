package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/analysis"
	"bountyline/internal/app"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
	"bountyline/internal/tracker"
	"bountyline/internal/wei"
)

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Manage bounty issues"}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueGetCmd())
	issue.AddCommand(issueTakeCmd())
	issue.AddCommand(issueCompleteCmd())
	issue.AddCommand(issueReopenCmd("expire", "Expire an overdue assignment (stake goes to the organization)"))
	issue.AddCommand(issueReopenCmd("reject", "Reject an overdue assignment as owner (stake is refunded)"))
	issue.AddCommand(issuePublishCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var bounty, difficulty, org string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post an issue with a bounty reserved from the organization's rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller("")
			if err != nil {
				return err
			}
			if opts.Bounty, err = wei.Parse(bounty); err != nil {
				return fmt.Errorf("--bounty: %w", err)
			}
			if opts.Difficulty, err = domain.ParseDifficulty(difficulty); err != nil {
				return err
			}
			opts.Org = call.From
			if org != "" {
				if opts.Org, err = domain.ParseAddress(org); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.CreateIssue(ctx, call, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&opts.GithubIssueURL, "url", "", "github issue url")
	cmd.Flags().StringVar(&opts.Description, "description", "", "short description")
	cmd.Flags().StringVar(&bounty, "bounty", "", "bounty (wei, or with gwei/ether suffix)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "easy", "easy, medium or hard")
	cmd.Flags().StringVar(&org, "org", "", "organization address (verified agents only; defaults to --from)")
	return cmd
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	var org, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if org != "" {
				a, err := domain.ParseAddress(org)
				if err != nil {
					return err
				}
				f.Org = &a
			}
			if assignee != "" {
				a, err := domain.ParseAddress(assignee)
				if err != nil {
					return err
				}
				f.Assignee = &a
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				renderIssues(page.Issues)
				if page.NextCursor != 0 {
					fmt.Printf("more: --cursor %d\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "open, assigned or completed")
	cmd.Flags().StringVar(&org, "org", "", "organization filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	cmd.Flags().Uint64Var(&f.AfterID, "cursor", 0, "list issues after this id")
	return cmd
}

func renderIssues(issues []domain.Issue) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Org", "Bounty", "Difficulty", "Status", "Assignee", "Deadline", "URL"})
	for _, is := range issues {
		deadline := ""
		if is.IsAssigned {
			deadline = time.Unix(is.Deadline, 0).UTC().Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{is.ID, shortAddr(is.Org), is.Bounty.String(), is.Difficulty, statusColor(is.Status()), shortAddr(is.AssignedTo), deadline, is.GithubIssueURL})
	}
	tw.Render()
}

func issueGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an issue with its stake bounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.GetIssueInfo(ctx, id)
				if err != nil {
					return err
				}
				lo, hi, err := e.StakeBounds(issue.Bounty)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"issue":     issue,
					"status":    issue.Status(),
					"stake_min": lo,
					"stake_max": hi,
				})
			})
		},
	}
}

func issueTakeCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "take <id>",
		Short: "Bond --value as stake and take an open issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			call, err := caller(value)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.TakeIssue(ctx, call, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "stake (wei, or with gwei/ether suffix)")
	return cmd
}

func issueCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete an assigned issue and release bounty plus stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			call, err := caller("")
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, payouts, err := e.CompleteIssue(ctx, call, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"issue": issue, "payouts": payouts})
			})
		},
	}
}

func issueReopenCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			call, err := caller("")
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reopen := e.ExpireAssignment
				if use == "reject" {
					reopen = e.RejectAssignment
				}
				issue, err := reopen(ctx, call, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
}

func issuePublishCmd() *cobra.Command {
	var opts app.PublishOptions
	var bounty, org, analysisURL string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Analyse a repository, open the proposed GitHub issue and post it with a bounty",
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller("")
			if err != nil {
				return err
			}
			if bounty != "" {
				b, err := wei.Parse(bounty)
				if err != nil {
					return fmt.Errorf("--bounty: %w", err)
				}
				opts.Bounty = &b
			}
			if org != "" {
				if opts.Org, err = domain.ParseAddress(org); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				base := analysisURL
				if base == "" {
					base = e.Config.Analysis.URL
				}
				scorer := analysis.New(base, e.Config.AnalysisTimeout())
				token := e.Config.GithubToken()
				if token == "" && !opts.DryRun {
					return fmt.Errorf("github token not set (see config github.token_env)")
				}
				res, err := app.Publish(ctx, e, call, scorer, tracker.NewClient(token), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.RepoURL, "repo", "", "repository to analyse")
	cmd.Flags().StringVar(&bounty, "bounty", "", "bounty override (defaults per analysed difficulty)")
	cmd.Flags().StringVar(&org, "org", "", "organization address (defaults to --from)")
	cmd.Flags().StringVar(&analysisURL, "analysis-url", "", "analysis service url (defaults to config analysis.url)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "analyse and check funds without opening anything")
	return cmd
}
