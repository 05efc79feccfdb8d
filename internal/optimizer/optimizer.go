package optimizer

import "github.com/dm-sbt/rv2x86/internal/ir"

// Run applies the three passes in spec §4.4's fixed order — dedup-immediates,
// constant-fold, dce — to every non-dummy block. Each pass is idempotent; running
// Run more than once over an already-optimized program is a no-op.
func Run(prog *ir.Program) {
	for _, b := range prog.Blocks {
		if b.IsDummy() {
			continue
		}
		Dedup(b)
		Constfold(b)
		DCE(b)
	}
}
