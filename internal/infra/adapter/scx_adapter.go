package adapter

import (
	"context"
	"fmt"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/domain/stats"
)

// counterDelimiter matches the "Stats:" header of IOPrioSched. It is not
// anchored at the start: the previous block ends with an unterminated
// "queue: <bool>", so the header usually arrives as "queue: trueStats:".
const counterDelimiter = `Stats:\s*$`

var (
	roundRobinFields = []stats.FieldSpec{
		{Name: "total_wait_time", Kind: stats.FieldInt},
		{Name: "total_enqueues", Kind: stats.FieldInt},
		{Name: "used_slice_time", Kind: stats.FieldInt},
		{Name: "num_slices", Kind: stats.FieldInt},
		{Name: "slice_usage", Kind: stats.FieldFloat},
	}

	weightedAvgFields = []stats.FieldSpec{
		{Name: "total_wait_time", Kind: stats.FieldInt},
		{Name: "total_enqueues", Kind: stats.FieldInt},
		{Name: "total_prio_wait_time", Kind: stats.FieldInt},
		{Name: "total_prio_enqueues", Kind: stats.FieldInt},
		{Name: "total_normal_wait_time", Kind: stats.FieldInt},
		{Name: "total_normal_enqueues", Kind: stats.FieldInt},
	}

	// IOPrioSched prints "Slice usage" twice per block: nanoseconds of the
	// last slice, then the fraction of the slice used.
	ioPrioFields = []stats.FieldSpec{
		{Name: "avg_wait_time", Label: "Average wait time", Kind: stats.FieldInt, NextLine: true},
		{Name: "slice_usage_ns", Label: "Slice usage", Kind: stats.FieldInt},
		{Name: "slice_usage", Label: "Slice usage", Kind: stats.FieldFloat},
	}
)

// schedulerProtocols is the stats protocol of every known scheduler class.
var schedulerProtocols = map[string]stats.Config{
	"RoundRobinSched":            {Delimiter: stats.DefaultDelimiter, Fields: roundRobinFields},
	"PrioSchedWeightedAvg":       {Delimiter: stats.DefaultDelimiter, Fields: weightedAvgFields},
	"PrioSchedWeightedAvgNoLogs": {Delimiter: stats.DefaultDelimiter, Fields: weightedAvgFields},
	"IOPrioSched":                {Delimiter: counterDelimiter, Fields: ioPrioFields},
}

// SchedulerProtocol returns the stats protocol of a scheduler class.
// Unknown classes get the "step:" delimiter with every known field.
func SchedulerProtocol(name string) stats.Config {
	if cfg, ok := schedulerProtocols[name]; ok {
		return cfg
	}
	return stats.Config{Delimiter: stats.DefaultDelimiter, Fields: unionFields()}
}

func unionFields() []stats.FieldSpec {
	var out []stats.FieldSpec
	seen := make(map[string]bool)
	for _, set := range [][]stats.FieldSpec{roundRobinFields, weightedAvgFields} {
		for _, f := range set {
			if !seen[f.Name] {
				seen[f.Name] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// SchedExtAdapter launches sched_ext sample schedulers: run.sh <class> --verbose <flags>.
type SchedExtAdapter struct{}

// NewSchedExtAdapter creates a new sched_ext adapter.
func NewSchedExtAdapter() *SchedExtAdapter {
	return &SchedExtAdapter{}
}

// Type returns the adapter type.
func (a *SchedExtAdapter) Type() AdapterType {
	return AdapterTypeSchedExt
}

// ValidateConfig validates the configuration for this adapter.
func (a *SchedExtAdapter) ValidateConfig(cfg *config.SchedulerConfig) error {
	if cfg == nil {
		return fmt.Errorf("scheduler config is required")
	}
	if cfg.Name == "" {
		return fmt.Errorf("scheduler name is required")
	}
	if cfg.Launcher == "" {
		return fmt.Errorf("launcher is required")
	}
	return nil
}

// BuildCommand builds the scheduler command.
func (a *SchedExtAdapter) BuildCommand(ctx context.Context, cfg *config.SchedulerConfig) (*Command, error) {
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	argv := []string{cfg.Launcher, cfg.Name, "--verbose"}
	argv = append(argv, cfg.Flags...)

	return &Command{
		Argv:    argv,
		WorkDir: cfg.WorkDir,
		Env:     cfg.Env,
	}, nil
}

// StatsConfig returns the stats protocol of the configured class.
func (a *SchedExtAdapter) StatsConfig(cfg *config.SchedulerConfig) stats.Config {
	return SchedulerProtocol(cfg.Name)
}
