package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bountyline/internal/config"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect ledger config",
		Long:  "The ledger config (stake limits, assignment windows, default bounties, verified agents, webhooks) lives in the workspace database. Import a bountyline.yml to change it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configDefaultCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := yaml.Marshal(e.Config)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML file and store it as the ledger config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Println("config imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "bountyline.yml", "config file")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the default config YAML",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateDefault())
		},
	}
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{Use: "ledger", Short: "Ledger-wide state"}
	l.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show ledger constants, next issue id and custody totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				next, err := e.NextIssueID(ctx)
				if err != nil {
					return err
				}
				minStake, err := e.MinOrgStake()
				if err != nil {
					return err
				}
				easy, medium, hard, err := e.DeadlineDurations()
				if err != nil {
					return err
				}
				custody, err := e.CustodyReport(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"next_issue_id": next,
						"min_org_stake": minStake,
						"durations":     map[string]uint64{"easy": easy, "medium": medium, "hard": hard},
						"custody":       custody,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"Next issue id", next},
					{"Min org stake", minStake.Ether() + " ether"},
					{"Durations (s)", fmt.Sprintf("easy %d / medium %d / hard %d", easy, medium, hard)},
					{"Wallets", custody.Wallets.String()},
					{"Organizations", custody.Organizations.String()},
					{"Active bonds", custody.ActiveBonds.String()},
					{"Pending payouts", custody.PendingPayouts.String()},
					{"Total custody", custody.Total.String()},
				})
				tw.Render()
				return nil
			})
		},
	})
	return l
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				if f.Type == "" && f.EntityKind == "" && f.EntityID == "" && f.Caller == "" {
					f.AfterID = max(latest-int64(n), 0)
				}
				f.Limit = n
				evts, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Caller", "Payload"})
				for _, ev := range evts {
					payload := ev.Payload
					var compact map[string]any
					if json.Unmarshal([]byte(payload), &compact) == nil {
						b, _ := json.Marshal(compact)
						payload = string(b)
					}
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.Caller, payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "organization, issue, payout or wallet")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.Caller, "caller", "", "caller address")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key acting as --from",
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := caller("")
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, call.From, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "address": key.Address, "name": key.Name, "key": plain})
				}
				fmt.Printf("id:      %s\naddress: %s\nkey:     %s\n(store the key now; only its hash is kept)\n", key.ID, key.Address, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	k.AddCommand(create)
	return k
}
