package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradeline/internal/app"
	"tradeline/internal/assistant"
	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/domain"
	"tradeline/internal/lifecycle"
	"tradeline/internal/repo"
	"tradeline/internal/server"
	"tradeline/internal/viewmodel"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Tradeline CLI",
	Long: `Tradeline tracks cross-border trades from a plain-language description to a proof bundle.
Core concepts:
- Workspace: a directory holding tradeline.yml and the .tradeline database.
- Trade: one deal, with a status that moves planning -> compliance_check -> finance -> payment -> completed.
- Steps: the five dashboard phases (Plan, Compliance, Finance, Payment, Proof) derived from the status.
- Assistant: describe a trade in your own words, review the extracted plan, then confirm it to create the trade.
- Audit events: every change is recorded and can be pushed to webhooks by 'tl serve'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRADELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(tradeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(assistCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage tradeline.yml",
		Long:  "tradeline.yml configures the API server, the language model used by the assistant, logging and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tradeline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate tradeline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show trade metrics and recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				dash, err := a.Engine.Dashboard(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dash)
				}
				s := dash.Summary
				fmt.Printf("Trades: %d total, %d active, %d completed, %d pending action\n", s.Total, s.Active, s.Completed, s.Pending)
				if len(dash.RecentTrades) == 0 {
					fmt.Println("No trades yet. Start one with 'tl assist'.")
					return nil
				}
				printTradeTable(dash.RecentTrades)
				return nil
			})
		},
	}
}

func tradeCmd() *cobra.Command {
	trd := &cobra.Command{Use: "trade", Short: "Inspect and advance trades"}
	trd.AddCommand(tradeListCmd())
	trd.AddCommand(tradeShowCmd())
	trd.AddCommand(tradeAdvanceCmd())
	trd.AddCommand(tradeEventsCmd())
	return trd
}

func tradeListCmd() *cobra.Command {
	var f repo.TradeFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Status != "" {
				if _, ok := domain.ParseStatus(f.Status); !ok {
					return fmt.Errorf("unknown status %q", f.Status)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				trades, err := a.Repo.ListTrades(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(trades)
				}
				printTradeTable(trades)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ExporterCountry, "exporter", "", "exporter country filter")
	cmd.Flags().StringVar(&f.ImporterCountry, "importer", "", "importer country filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max trades")
	return cmd
}

func tradeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trade-id>",
		Short: "Show a trade with its steps, next action and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.TradeDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printTradeView(view)
				return nil
			})
		},
	}
}

func tradeAdvanceCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "advance <trade-id>",
		Short: "Move a trade to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := domain.ParseStatus(to)
			if !ok {
				return fmt.Errorf("unknown status %q", to)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				trade, err := a.Engine.SetTradeStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(trade)
				}
				d := lifecycle.Describe(string(trade.Status))
				fmt.Printf("%s is now %s (%s)\n", trade.Code, d.Label, lifecycle.MapToStep(string(trade.Status)).Phase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func tradeEventsCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "events <trade-id>",
		Short: "List audit events of a trade, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Repo.ListAuditEvents(ctx, repo.AuditFilters{TradeID: args[0], Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Event", "Actor"})
				for _, e := range evts {
					tw.AppendRow(table.Row{viewmodel.FormatDate(e.CreatedAt), viewmodel.EventLabel(e.Type), e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [status]",
		Short: "Describe trade statuses",
		Long:  "Without arguments, lists every status with its label, phase and allowed next statuses.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := lifecycle.Catalog()
			if len(args) == 1 {
				catalog = []lifecycle.Descriptor{lifecycle.Describe(args[0])}
			}
			type row struct {
				lifecycle.Descriptor
				Step lifecycle.Step  `json:"step"`
				Next []domain.Status `json:"next"`
			}
			rows := make([]row, 0, len(catalog))
			for _, d := range catalog {
				rows = append(rows, row{Descriptor: d, Step: lifecycle.MapToStep(string(d.Status)), Next: lifecycle.NextStatuses(d.Status)})
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Status", "Label", "Step", "Next"})
			for _, r := range rows {
				next := make([]string, 0, len(r.Next))
				for _, s := range r.Next {
					next = append(next, string(s))
				}
				tw.AppendRow(table.Row{r.Status, r.Label, fmt.Sprintf("%d %s", r.Step.Index, r.Step.Phase), strings.Join(next, ", ")})
			}
			tw.Render()
			return nil
		},
	}
}

func assistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assist",
		Short: "Describe a trade and create it from the extracted plan",
		Long:  "Type a trade description to get a structured plan. /confirm creates the trade, /clear starts over, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Assistant == nil {
					return fmt.Errorf("trade assistant unavailable: configure llm in %s", config.FileName)
				}
				sess := a.Assistant.Create()
				defer a.Assistant.Delete(sess.ID)
				return runAssistant(ctx, sess, viper.GetString("actor-id"))
			})
		},
	}
}

func runAssistant(ctx context.Context, sess *assistant.Session, actorID string) error {
	st := sess.State()
	fmt.Println(st.Messages[0].Content)
	fmt.Println("Try:")
	for _, p := range st.ExamplePrompts {
		fmt.Println("  -", p)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			sess.Clear()
			fmt.Println(assistant.Greeting)
			continue
		case "/confirm":
			res, err := sess.Confirm(ctx, actorID)
			if errors.Is(err, assistant.ErrNoDraft) {
				fmt.Println("Nothing to confirm yet. Describe a trade first.")
				continue
			}
			printLastMessage(sess)
			if err == nil {
				fmt.Printf("Open it with: tl trade show %s\n", res.Trade.ID)
			}
			continue
		}
		msg, err := sess.Ask(ctx, line)
		if err != nil {
			return err
		}
		fmt.Println(msg.Content)
		if msg.Draft != nil {
			printDraft(*msg.Draft)
			fmt.Println("Type /confirm to create this trade, or describe changes.")
		}
	}
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	keys.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key for the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, secret, err := a.Engine.CreateAPIKey(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("%s created for %s\n", key.ID, key.ActorID)
				fmt.Println("secret (shown once):", secret)
				return nil
			})
		},
	})
	var actor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, viewmodel.FormatDate(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actor, "actor", "", "only keys of this actor")
	keys.AddCommand(list)
	keys.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return keys
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret: a.Config.Server.JWTSecret(),
					DevLogin:  a.Config.Server.DevAuth,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("%s is required for bearer auth", a.Config.Server.JWTSecretEnv)
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Assistant: a.Assistant,
					BasePath:  basePath,
					Auth:      authCfg,
					Logger:    a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				hooks := server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, a.Logger.Named("webhooks"))
				go hooks.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Tradeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printTradeTable(trades []domain.Trade) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Code", "Title", "Status", "Step", "Amount", "Created"})
	for _, t := range trades {
		step := lifecycle.MapToStep(string(t.Status))
		tw.AppendRow(table.Row{
			t.ID,
			t.Code,
			viewmodel.DisplayTitle(t),
			lifecycle.Describe(string(t.Status)).Label,
			fmt.Sprintf("%d/5 %s", step.Index, step.Phase),
			viewmodel.FormatAmount(t.EstimatedAmount, t.Currency),
			viewmodel.FormatDate(t.CreatedAt),
		})
	}
	tw.Render()
}

func printTradeView(v viewmodel.TradeView) {
	t := v.Trade
	fmt.Printf("%s  %s\n", t.Code, viewmodel.DisplayTitle(t))
	fmt.Printf("Status: %s\n", v.Badge.Label)
	fmt.Printf("Amount: %s\n", viewmodel.FormatAmount(t.EstimatedAmount, t.Currency))
	var steps []string
	for _, s := range v.Steps {
		mark := " "
		switch s.State {
		case lifecycle.StepComplete:
			mark = "x"
		case lifecycle.StepCurrent:
			mark = ">"
		}
		steps = append(steps, fmt.Sprintf("[%s] %s", mark, s.Phase))
	}
	fmt.Println(strings.Join(steps, "  "))
	if v.AcceptedFinanceOffer != nil {
		o := v.AcceptedFinanceOffer
		fmt.Printf("Financing: %s %s\n", o.Provider, viewmodel.FormatCurrency(o.Amount, o.Currency))
	}
	if v.LatestPayment != nil {
		fmt.Printf("Payment: %s\n", v.LatestPayment.Status)
	}
	if v.QuickAction != nil {
		fmt.Printf("Next: %s\n", v.QuickAction.Label)
	}
	if len(v.Timeline) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"When", "Event"})
		for _, e := range v.Timeline {
			tw.AppendRow(table.Row{e.When, e.Label})
		}
		tw.Render()
	}
}

func printDraft(d domain.TradeDraft) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Exporter", d.ExporterCountry},
		{"Importer", d.ImporterCountry},
		{"Product", d.Product},
		{"Incoterm", d.Incoterm},
		{"Value", viewmodel.FormatAmount(d.EstimatedAmount, d.Currency)},
		{"Confidence", fmt.Sprintf("%d%%", d.Confidence)},
	})
	tw.Render()
	for _, q := range d.PendingQuestions {
		fmt.Println("  ?", q)
	}
}

func printLastMessage(sess *assistant.Session) {
	st := sess.State()
	if n := len(st.Messages); n > 0 {
		fmt.Println(st.Messages[n-1].Content)
	}
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
