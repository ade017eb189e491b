package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	api "edgetrader/cmd/edgetrader"
	"edgetrader/conf"
	"edgetrader/internal/cycle"
	"edgetrader/internal/middleware"
	"edgetrader/pkg/kafka"
	"edgetrader/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	configPath string
	groupID    string
)

// rootCmd 交易周期引擎命令入口
var rootCmd = &cobra.Command{
	Use:   "edgetrader",
	Short: "Signal quality scoring and trading cycle engine for Hyperliquid perps",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := conf.LoadConfig(configPath); err != nil {
			return err
		}
		logger.InitLogger(&conf.AppConfig.Log, conf.AppConfig.AppName)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading cycle on its tick interval and serve the ops API",
	Long: `Restore or create the cycle state, then tick every trading.tick-interval
until SIGINT/SIGTERM. The ops API (state, report, trades, breaker reset,
reconcile, /metrics) listens on the configured address.`,
	RunE: runServe,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single cycle and print the execution report",
	RunE: withManager(func(ctx context.Context, m *cycle.Manager) (any, error) {
		_, rep, err := m.Tick(ctx, cycle.TickInput{})
		if err != nil {
			logger.Warnf("tick finished with errors: %v", err)
		}
		return rep, nil
	}),
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted cycle state without touching it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := conf.AppConfig
		store, rdb, err := api.OpenStore(cmd.Context(), &cfg)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}
		st, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile local positions against the venue account (LIVE only)",
	RunE: withManager(func(ctx context.Context, m *cycle.Manager) (any, error) {
		return m.Reconcile(ctx)
	}),
}

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker",
	Short: "Manually close the circuit breaker",
	RunE: withManager(func(ctx context.Context, m *cycle.Manager) (any, error) {
		st, err := m.ResetBreaker(ctx)
		return st.Breaker, err
	}),
}

var tailReportsCmd = &cobra.Command{
	Use:   "tail-reports",
	Short: "Print execution reports published to kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := conf.AppConfig
		if cfg.Kafka.Broker == "" || cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.broker and kafka.topic are required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		consumer := kafka.NewKafkaConsumer(cfg.Kafka.Broker)
		defer consumer.Close()
		msgs, err := consumer.Consume(ctx, cfg.Kafka.Topic, groupID)
		if err != nil {
			return err
		}
		for m := range msgs {
			var rep cycle.Report
			if err := json.Unmarshal(m.Value, &rep); err != nil {
				logger.Warnf("skip malformed report at offset %d: %v", m.Offset, err)
				continue
			}
			fmt.Printf("%s tick=%d opened=%d closed=%d trimmed=%d failures=%d equity=%.2f breaker=%s\n",
				rep.CycleID, rep.Tick, len(rep.Opened), len(rep.Closed), len(rep.Trimmed),
				len(rep.Failures), rep.Equity, rep.Breaker.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "conf/config.yaml", "Path to the configuration file")
	tailReportsCmd.Flags().StringVar(&groupID, "group", "edgetrader-tail", "Kafka consumer group")

	rootCmd.AddCommand(runCmd, tickCmd, stateCmd, reconcileCmd, resetBreakerCmd, tailReportsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := conf.AppConfig
	app, err := api.InitApp(ctx, &cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.StartFeed(ctx)

	st, err := app.Manager.Initialize(ctx)
	if err != nil {
		return err
	}
	logger.Infof("cycle %s ready: mode=%s execution=%s positions=%d breaker=%s",
		st.CycleID, cfg.Trading.Mode, cfg.Trading.ExecutionMode, len(st.Positions), st.Breaker.Status)

	done := make(chan error, 1)
	go func() { done <- app.Manager.Run(ctx) }()

	srv := api.NewServer(&cfg)
	if err := srv.Run(ctx, middleware.NewMiddleware(), app.Router); err != nil {
		stop()
		<-done
		return err
	}
	return <-done
}

// withManager 装配并恢复状态后执行一次性操作，结果以 JSON 输出
func withManager(fn func(ctx context.Context, m *cycle.Manager) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := conf.AppConfig
		app, err := api.InitApp(ctx, &cfg)
		if err != nil {
			return err
		}
		defer app.Close()
		if _, err := app.Manager.Initialize(ctx); err != nil {
			return err
		}
		out, err := fn(ctx, app.Manager)
		if err != nil {
			return err
		}
		return printJSON(out)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
