package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetsim/fleetsim/events"
	"github.com/fleetsim/fleetsim/local"
)

var (
	runMode   string
	runSeed   int
	runScale  string
	runRobots int
	runJobs   int
)

// overrideCounts maps the robots/jobs flags to optional overrides.
func overrideCounts() (robots, jobs *int) {
	if runRobots > 0 {
		robots = &runRobots
	}
	if runJobs > 0 {
		jobs = &runJobs
	}
	return robots, jobs
}

func logResult(res *local.Result) {
	if res.Status != "completed" {
		logrus.Errorf("run %s %s: %s", res.RunID, res.Status, res.Error)
		return
	}
	logrus.Infof("run %s completed mode=%s seed=%d scale=%s scenario=%s",
		res.RunID, res.Mode, res.Seed, res.Scale, res.ScenarioHash)
	logMetrics(res.Metrics)
}

func logMetrics(m *events.Metrics) {
	if m == nil {
		return
	}
	logrus.Infof("  on_time_rate=%.4f completed=%d failed=%d total=%d",
		m.OnTimeRate, m.CompletedJobs, m.FailedJobs, m.TotalJobs)
	logrus.Infof("  total_distance=%.3f avg_completion_time=%.3f max_lateness=%.3f",
		m.TotalDistance, m.AvgCompletionTime, m.MaxLateness)
}

var localRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation in-process and print its metrics",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		robots, jobs := overrideCounts()

		seed := runSeed
		if !cmd.Flags().Changed("seed") {
			seed = cfg.DefaultSeed
		}
		res, err := local.Execute(context.Background(), cfg, local.Options{
			Mode:   runMode,
			Seed:   seed,
			Scale:  runScale,
			Robots: robots,
			Jobs:   jobs,
		})
		if err != nil {
			logrus.Fatalf("run: %v", err)
		}
		logResult(res)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run the same scenario under baseline and GA and print both results",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		robots, jobs := overrideCounts()

		seed := runSeed
		if !cmd.Flags().Changed("seed") {
			seed = cfg.DefaultSeed
		}
		results, err := local.Compare(context.Background(), cfg, local.Options{
			Seed:   seed,
			Scale:  runScale,
			Robots: robots,
			Jobs:   jobs,
		})
		if err != nil {
			logrus.Fatalf("compare: %v", err)
		}
		for _, mode := range []string{"baseline", "ga"} {
			logrus.Infof("--- %s ---", mode)
			logResult(results[mode])
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{localRunCmd, compareCmd} {
		c.Flags().IntVar(&runSeed, "seed", 42, "scenario seed")
		c.Flags().StringVar(&runScale, "scale", "", "scale preset (mini, small, demo, large)")
		c.Flags().IntVar(&runRobots, "robots", 0, "override robot count")
		c.Flags().IntVar(&runJobs, "jobs", 0, "override job count")
	}
	localRunCmd.Flags().StringVar(&runMode, "mode", "", "dispatch mode (baseline or ga)")
	rootCmd.AddCommand(localRunCmd, compareCmd)
}
