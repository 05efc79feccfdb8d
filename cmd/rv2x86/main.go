// Command rv2x86 translates a static RISC-V (RV64) executable into an ELF64
// relocatable object that links against libhelper to produce a native x86-64
// binary (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.New()
	var outPath string

	cmd := &cobra.Command{
		Use:           "rv2x86 [flags] input-elf",
		Short:         "Translate a static RV64 ELF executable to an x86-64 relocatable object",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cfg.Sync()
			return run(cfg, args[0], outPath)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable verbose per-instruction/per-pass logging")
	flags.BoolVar(&cfg.FullBacktrack, "full-backtrack", cfg.FullBacktrack, "disable the indirect-jump analyzer's depth cap")
	flags.IntVar(&cfg.BacktrackDepthLimit, "backtrack-depth-limit", cfg.BacktrackDepthLimit, "worklist depth cap for the indirect-jump analyzer")
	flags.BoolVar(&cfg.BMI2, "bmi2", cfg.BMI2, "record BMI2 availability (not read by the codegen backend, which always uses cl-count shifts)")
	flags.IntVar(&cfg.CHDMaxRetries, "chd-max-retries", cfg.CHDMaxRetries, "reseed attempts before falling back to a dense ijump table")
	flags.StringVar((*string)(&cfg.IjumpLookupMode), "ijump-lookup-mode", string(cfg.IjumpLookupMode), `indirect-jump table strategy: "chd" or "dense"`)
	flags.StringVarP(&outPath, "output", "o", "a.o", "output path for the translated relocatable object")

	return cmd
}

func run(cfg *config.Config, inPath, outPath string) error {
	obj, err := pipeline.Translate(cfg, inPath)
	if err != nil {
		return fmt.Errorf("rv2x86: %w", err)
	}
	if err := os.WriteFile(outPath, obj, 0o644); err != nil {
		return fmt.Errorf("rv2x86: writing %s: %w", outPath, err)
	}
	cfg.Logger().Infow("translation complete", "input", inPath, "output", outPath, "bytes", len(obj))
	return nil
}
