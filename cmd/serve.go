package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetsim/fleetsim/api"
	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/dispatch"
	"github.com/fleetsim/fleetsim/ga"
	"github.com/fleetsim/fleetsim/sim"
	"github.com/fleetsim/fleetsim/store"
	"github.com/fleetsim/fleetsim/viewer"
)

var realtime bool // Pace ticks at wall-clock rate for the live viewer

// dialBus connects to RabbitMQ using the configured exchange.
func dialBus(cfg *config.Config) bus.Bus {
	b, err := bus.DialAMQP(cfg.RabbitURL(), cfg.ExchangeName)
	if err != nil {
		logrus.Fatalf("bus: %v", err)
	}
	return b
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the simulator service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		b := dialBus(cfg)
		defer b.Close()

		ctx, cancel := signalContext()
		defer cancel()

		runner := sim.NewRunner(cfg, b)
		runner.Realtime = realtime
		if err := runner.Run(ctx); err != nil {
			logrus.Fatalf("sim runner: %v", err)
		}
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the dispatcher service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		b := dialBus(cfg)
		defer b.Close()

		ctx, cancel := signalContext()
		defer cancel()

		planner := dispatch.NewHTTPPlanner(cfg.OptimizerURL)
		d := dispatch.NewDispatcher(cfg, b, planner)
		if err := d.Run(ctx); err != nil {
			logrus.Fatalf("dispatcher: %v", err)
		}
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the GA optimizer HTTP service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		params := ga.Params{
			PopulationSize: cfg.GA.PopulationSize,
			Generations:    cfg.GA.Generations,
			EliteSize:      cfg.GA.EliteSize,
			MutationRate:   cfg.GA.MutationRate,
			CrossoverRate:  cfg.GA.CrossoverRate,
			ServiceTimeS:   cfg.Sim.ServiceTimeS,
		}
		server := ga.NewServer(params, fmt.Sprintf("%d", cfg.OptimizerPort))
		if err := server.Start(); err != nil {
			logrus.Fatalf("optimizer: %v", err)
		}
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the fleet HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		b := dialBus(cfg)
		defer b.Close()

		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			logrus.Fatalf("store: %v", err)
		}
		server := api.NewServer(cfg, b, st)
		if err := server.Start(); err != nil {
			logrus.Fatalf("api: %v", err)
		}
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the event recorder (bus to SQLite)",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		b := dialBus(cfg)
		defer b.Close()

		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			logrus.Fatalf("store: %v", err)
		}
		ctx, cancel := signalContext()
		defer cancel()

		recorder := store.NewRecorder(st, b)
		if err := recorder.Run(ctx); err != nil {
			logrus.Fatalf("recorder: %v", err)
		}
	},
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Run the websocket snapshot viewer",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		b := dialBus(cfg)
		defer b.Close()

		ctx, cancel := signalContext()
		defer cancel()

		hub := viewer.NewHub(b, cfg.ViewerPort)
		if err := hub.Run(ctx); err != nil {
			logrus.Fatalf("viewer: %v", err)
		}
	},
}

func init() {
	simCmd.Flags().BoolVar(&realtime, "realtime", false, "pace ticks at 1/tick_hz wall seconds")
	rootCmd.AddCommand(simCmd, dispatchCmd, optimizeCmd, apiCmd, recordCmd, viewCmd)
}
