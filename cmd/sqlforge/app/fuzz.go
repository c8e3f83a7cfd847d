package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/sqlforge/internal/config"
	"github.com/zjy-dev/sqlforge/internal/factory"
	"github.com/zjy-dev/sqlforge/internal/host"
)

// NewFuzzCommand creates the fuzz subcommand: a local driver that stands
// in for the external fuzzer host, feeding every seed file through
// fuzz_count and consuming the mutation budget through fuzz.
func NewFuzzCommand() *cobra.Command {
	var (
		configPath string
		inputDir   string
		iterations int
		maxSize    int
	)

	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Drive the mutation factory over a directory of seed files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(configPath, inputDir, iterations, maxSize)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "directory of initial seed files (required)")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 0, "total fuzz calls to issue (0 = one budget per seed)")
	cmd.Flags().IntVar(&maxSize, "max-size", 1<<20, "maximum size of one mutated payload")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runFuzz(configPath, inputDir string, iterations, maxSize int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	f, err := factory.New(cfg)
	if err != nil {
		return err
	}
	adapter := host.NewAdapter(f)
	if rc := adapter.Init(0); rc != 0 {
		return fmt.Errorf("factory initialization failed with code %d", rc)
	}
	adapter.SpliceOptOut()
	defer adapter.Deinit()

	seeds, err := loadSeeds(inputDir)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return fmt.Errorf("no seed files found in %s", inputDir)
	}
	f.Logs.Main.Info("loaded %d seed files from %s", len(seeds), inputDir)

	fuzzCalls := 0
	for {
		for _, buf := range seeds {
			budget := adapter.FuzzCount(buf)
			for i := 0; i < budget; i++ {
				out := adapter.Fuzz(buf, nil, maxSize)
				fuzzCalls++
				f.Logs.Main.Debug("fuzz call %d produced %d bytes", fuzzCalls, len(out))
				if iterations > 0 && fuzzCalls >= iterations {
					f.Logs.Main.Info("reached %d fuzz calls, stopping", fuzzCalls)
					return nil
				}
			}
		}
		if iterations <= 0 {
			f.Logs.Main.Info("consumed one budget per seed (%d fuzz calls), stopping", fuzzCalls)
			return nil
		}
	}
}

// loadSeeds reads every regular file in dir, sorted by name.
func loadSeeds(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seeds := make([][]byte, 0, len(names))
	for _, name := range names {
		buf, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read seed %s: %w", name, err)
		}
		seeds = append(seeds, buf)
	}
	return seeds, nil
}
