package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/wei"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline is an escrow ledger for GitHub issue bounties.
- Organizations stake native currency and fund bounties from it.
- Issues carry a bounty and a difficulty that sets the assignment window.
- Contributors bond a stake of 5-20% of the bounty to take an issue and get bounty plus stake back on completion.
- Missed deadlines can be expired (stake forfeited to the organization) or rejected by the owner (stake refunded).
- The event log records every state change; view it with 'bl log tail'.
Commands act as the address given by --from (or BOUNTYLINE_FROM).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("from", "", "caller address")
	flags.String("db-driver", db.DriverModernc, "sqlite driver: sqlite (pure Go) or sqlite3 (cgo)")
	flags.String("log-level", "", "log level for long-running commands")
	for _, name := range []string{"workspace", "json", "from", "db-driver", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// printError writes err in red with its ledger code when there is one.
func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	if code := domain.CodeOf(err); code != "" && code != "internal_error" {
		fmt.Fprintf(w, "%s [%s] %v\n", red("error:"), code, err)
		return
	}
	fmt.Fprintf(w, "%s %v\n", red("error:"), err)
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.OpenEngine(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		Logger:    app.NewLogger(os.Stderr, viper.GetString("log-level")),
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

// caller builds the call for --from with an optional attached value.
func caller(value string) (engine.Call, error) {
	from := viper.GetString("from")
	if from == "" {
		return engine.Call{}, fmt.Errorf("--from (or BOUNTYLINE_FROM) is required")
	}
	addr, err := domain.ParseAddress(from)
	if err != nil {
		return engine.Call{}, err
	}
	call := engine.Call{From: addr}
	if value != "" {
		if call.Value, err = wei.Parse(value); err != nil {
			return engine.Call{}, fmt.Errorf("--value: %w", err)
		}
	}
	return call, nil
}

// addressArg parses an address argument, defaulting to --from.
func addressArg(args []string) (common.Address, error) {
	if len(args) > 0 {
		return domain.ParseAddress(args[0])
	}
	call, err := caller("")
	return call.From, err
}

func parseIssueID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscan(s, &id); err != nil || id == 0 {
		return 0, fmt.Errorf("invalid issue id %q", s)
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortAddr(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

func statusColor(status string) string {
	switch status {
	case domain.IssueOpen, domain.PayoutPending:
		return color.GreenString(status)
	case domain.IssueAssigned:
		return color.YellowString(status)
	default:
		return color.HiBlackString(status)
	}
}
