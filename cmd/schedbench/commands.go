package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whhaicheng/SchedBench/internal/app/usecase"
	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/execution"
	"github.com/whhaicheng/SchedBench/internal/infra/database/repository"
	"github.com/whhaicheng/SchedBench/internal/infra/keyring"
	"github.com/whhaicheng/SchedBench/internal/infra/tool"
)

var (
	runScheduler  string
	runFlags      []string
	runBenchmarks []string
	runIterations int
	runBaseline   bool
	runField      string
	skipDetect    bool

	showChart bool

	historyLimit     int
	historyScheduler string
	historyState     string
)

func init() {
	runCmd.Flags().StringVar(&runScheduler, "scheduler", "", "scheduler class to launch")
	runCmd.Flags().StringArrayVar(&runFlags, "flag", nil, "scheduler flag, repeatable (replaces scheduler.flags)")
	runCmd.Flags().StringSliceVar(&runBenchmarks, "benchmark", nil, "benchmarks to run (replaces benchmark.benchmarks)")
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "repetitions of each benchmark")
	runCmd.Flags().BoolVar(&runBaseline, "baseline", false, "run without a scheduler process")
	runCmd.Flags().StringVar(&runField, "field", "", "plot this statistics field for every completed run")
	runCmd.Flags().BoolVar(&skipDetect, "skip-detect", false, "start even if a required tool is missing")

	gridCmd.Flags().BoolVar(&skipDetect, "skip-detect", false, "start even if a required tool is missing")

	showCmd.Flags().BoolVar(&showChart, "chart", false, "draw the run times")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of experiments")
	historyCmd.Flags().StringVar(&historyScheduler, "scheduler", "", "only experiments of this scheduler")
	historyCmd.Flags().StringVar(&historyState, "state", "", "only experiments in this state")

	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one experiment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := applyRunOverrides(cmd, a.cfg); err != nil {
			return err
		}
		if err := preCheck(cmd, a.cfg); err != nil {
			return err
		}

		harness, err := a.harness(ctx)
		if err != nil {
			return err
		}
		res, runErr := harness.RunExperiment(ctx, a.cfg)
		if res != nil {
			newPrinter().result(res, runField)
		}
		return runErr
	},
}

// applyRunOverrides folds the run flags into cfg.
func applyRunOverrides(cmd *cobra.Command, cfg *config.Config) error {
	switch {
	case runBaseline:
		cfg.Scheduler = config.SchedulerConfig{Adapter: config.AdapterNone}
	case runScheduler != "":
		if !cfg.Scheduler.Enabled() {
			cfg.Scheduler.Adapter = config.AdapterSchedExt
		}
		cfg.Scheduler.Name = runScheduler
	}
	if cmd.Flags().Changed("flag") && !runBaseline {
		cfg.Scheduler.Flags = runFlags
	}
	if len(runBenchmarks) > 0 {
		cfg.Benchmark.Benchmarks = runBenchmarks
	}
	if runIterations > 0 {
		cfg.Benchmark.Iterations = runIterations
	}
	return cfg.Validate()
}

// preCheck refuses to start when a required program or file is missing.
func preCheck(cmd *cobra.Command, cfg *config.Config) error {
	if skipDetect {
		return nil
	}
	missing := tool.Missing(tool.NewDetector().DetectAll(cmd.Context(), cfg))
	if len(missing) == 0 {
		return nil
	}
	newPrinter().tools(missing)
	return fmt.Errorf("%w: %d required tools missing (use --skip-detect to start anyway)",
		usecase.ErrPreCheckFailed, len(missing))
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Run every experiment of the grid section, skipping those with results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := preCheck(cmd, a.cfg); err != nil {
			return err
		}
		harness, err := a.harness(ctx)
		if err != nil {
			return err
		}

		grid := usecase.NewGridUseCase(harness, a.files, a.repo, a.logger)
		summary, err := grid.RunGrid(ctx, a.cfg)
		if summary != nil {
			newPrinter().grid(summary)
		}
		if err != nil {
			return err
		}
		if n := summary.Count(usecase.GridFailed); n > 0 {
			return fmt.Errorf("%d experiments failed", n)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show a recorded experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := usecase.NewHistoryUseCase(a.repo).Get(ctx, args[0])
		if err != nil {
			return err
		}
		newPrinter().record(rec, showChart)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"list"},
	Short:   "List recorded experiments",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := usecase.FindOptions{Limit: historyLimit, Scheduler: historyScheduler}
		if historyState != "" {
			state := execution.ExperimentState(historyState)
			opts.StateFilter = &state
		}
		exps, err := usecase.NewHistoryUseCase(a.repo).List(ctx, opts)
		if err != nil {
			return err
		}
		newPrinter().history(exps)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <candidate>",
	Short: "Compare the run times of two recorded experiments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cmps, err := usecase.NewHistoryUseCase(a.repo).Compare(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		newPrinter().comparisons(cmps)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded experiment and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := usecase.NewHistoryUseCase(a.repo).Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check the programs and files the configured experiment needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		infos := tool.NewDetector().DetectAll(cmd.Context(), cfg)
		newPrinter().tools(infos)
		if missing := tool.Missing(infos); len(missing) > 0 {
			return fmt.Errorf("%d required tools missing", len(missing))
		}
		return nil
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage credentials referenced as secret:<name> in the configuration",
	Long: `Secrets are encrypted with a key derived from $` + keyring.MasterKeyEnv + `.
Reference one from storage.dsn or influx.token as secret:<name>.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := keyring.NewFileStoreFromEnv(secretsDir())
		if err != nil {
			return err
		}
		value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && value == "" {
			return fmt.Errorf("read secret: %w", err)
		}
		value = strings.TrimRight(value, "\r\n")
		if value == "" {
			return errors.New("empty secret")
		}
		if err := store.Set(cmd.Context(), args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Stored %s%s\n", keyring.SecretPrefix, args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := keyring.NewFileStoreFromEnv(secretsDir())
		if err != nil {
			return err
		}
		return store.Delete(cmd.Context(), args[0])
	},
}

// loadConfig loads only the configuration, for commands that open no store.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return settings().GetConfig(cmd.Context())
}

func settings() usecase.SettingsRepository {
	return repository.NewSettingsRepository(configPath)
}
