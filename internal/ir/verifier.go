package ir

import "fmt"

// Verify checks invariants 1-6 of spec §3 against every block in p and returns the
// first violation found, or nil. Callers that treat verifier failures as internal
// bugs (per §7's "Verifier" taxonomy row) should call MustVerify instead.
func Verify(p *Program) error {
	for _, b := range p.Blocks {
		if b.ID == DummyBlockID {
			continue
		}
		if !b.Valid() {
			continue
		}
		if err := verifyDefBeforeUse(b); err != nil {
			return err
		}
		if err := verifyBlockInputs(p, b); err != nil {
			return err
		}
		if err := verifyEdges(p, b); err != nil {
			return err
		}
		if err := verifyMemoryChain(b); err != nil {
			return err
		}
		if err := verifyDivOutputs(b); err != nil {
			return err
		}
		if err := verifyRefCounts(b); err != nil {
			return err
		}
	}
	return nil
}

// Valid reports true for every block except ones torn down by the optimizer
// (Variables == nil after Destroy). The dummy block also reports true; Verify
// skips it separately by its ID since it has no real definitions.
func (b *BasicBlock) Valid() bool {
	return b.ID == DummyBlockID || b.Variables != nil || len(b.ControlFlowOps) > 0
}

// MustVerify panics (per §7 "Verifier" row: internal panic with file/line) if p
// violates any invariant.
func MustVerify(p *Program) {
	if err := Verify(p); err != nil {
		invariantf("%v", err)
	}
}

// invariant 1: every operation/cfop input reaching a block-owned SSAVar must be
// defined earlier in the block or be a block input.
func verifyDefBeforeUse(b *BasicBlock) error {
	defined := make(map[ValueID]bool, len(b.Variables))
	for _, in := range b.Inputs {
		defined[in.ID] = true
	}
	checkInput := func(v *SSAVar) error {
		if v == nil {
			return nil
		}
		if v.Kind == InfoImmediate {
			return nil // immediates need no prior definition
		}
		if !defined[v.ID] {
			return fmt.Errorf("ir: invariant 1 violated in %s: %s used before definition", b.Name(), v.Name())
		}
		return nil
	}
	for _, v := range b.Variables {
		if v.Kind == InfoOperation && v.Op != nil {
			for i := 0; i < v.Op.NumIn; i++ {
				if err := checkInput(v.Op.Inputs[i]); err != nil {
					return err
				}
			}
		}
		defined[v.ID] = true
	}
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			if err := checkInput(c.Inputs[i]); err != nil {
				return err
			}
		}
		for _, tv := range c.TargetInputs {
			if err := checkInput(tv); err != nil {
				return err
			}
		}
	}
	return nil
}

// invariant 2: each inputs[i] is from-static for exactly one static index, and the
// number/order of a block's inputs matches every incoming cfop's target_inputs.
func verifyBlockInputs(p *Program, b *BasicBlock) error {
	for _, in := range b.Inputs {
		if in.Kind != InfoFromStatic {
			return fmt.Errorf("ir: invariant 2 violated in %s: input %s is not from-static", b.Name(), in.Name())
		}
	}
	for _, predID := range b.Predecessors {
		pred := p.Blocks[predID]
		for _, c := range pred.ControlFlowOps {
			if c.Target != b {
				continue
			}
			if len(c.TargetInputs) != len(b.Inputs) {
				return fmt.Errorf("ir: invariant 2 violated: %s -> %s target_inputs arity %d != %d",
					pred.Name(), b.Name(), len(c.TargetInputs), len(b.Inputs))
			}
			for i, tv := range c.TargetInputs {
				if tv.Type != b.Inputs[i].Type {
					return fmt.Errorf("ir: invariant 2 violated: %s -> %s target_inputs[%d] type mismatch",
						pred.Name(), b.Name(), i)
				}
			}
		}
	}
	return nil
}

// invariant 3: for every non-null cfop target T reachable from source S,
// S in T.predecessors and T in S.successors.
func verifyEdges(p *Program, b *BasicBlock) error {
	for _, c := range b.ControlFlowOps {
		if c.Target == nil {
			continue
		}
		t := c.Target
		if !containsID(t.Predecessors, b.ID) {
			return fmt.Errorf("ir: invariant 3 violated: %s missing from %s.predecessors", b.Name(), t.Name())
		}
		if !containsID(b.Successors, t.ID) {
			return fmt.Errorf("ir: invariant 3 violated: %s missing from %s.successors", t.Name(), b.Name())
		}
	}
	return nil
}

func containsID(s []BasicBlockID, v BasicBlockID) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// invariant 4: memory tokens form a linear chain; no two operations share the same
// mt producer (a store's output mt is consumed by exactly the next memory op).
func verifyMemoryChain(b *BasicBlock) error {
	consumers := make(map[ValueID]int)
	for _, v := range b.Variables {
		if v.Kind != InfoOperation || v.Op == nil {
			continue
		}
		switch v.Op.Opcode {
		case OpLoad:
			mt := v.Op.Inputs[1]
			if mt != nil {
				consumers[mt.ID]++
			}
		case OpStore:
			mt := v.Op.Inputs[2]
			if mt != nil {
				consumers[mt.ID]++
			}
		}
	}
	for id, n := range consumers {
		if n > 1 {
			return fmt.Errorf("ir: invariant 4 violated in %s: memory token v%d consumed by %d operations", b.Name(), id, n)
		}
	}
	return nil
}

// invariant 5: div/udiv produce at most two outputs (quotient, remainder); at least
// one is non-null.
func verifyDivOutputs(b *BasicBlock) error {
	for _, v := range b.Variables {
		if v.Kind != InfoOperation || v.Op == nil || !v.Op.Opcode.IsDiv() {
			continue
		}
		if v.Op.NumOut == 0 || v.Op.NumOut > 2 {
			return fmt.Errorf("ir: invariant 5 violated in %s: %s has %d outputs", b.Name(), v.Op, v.Op.NumOut)
		}
		nonNull := 0
		for i := 0; i < v.Op.NumOut; i++ {
			if v.Op.Outputs[i] != nil {
				nonNull++
			}
		}
		if nonNull == 0 {
			return fmt.Errorf("ir: invariant 5 violated in %s: %s has no live outputs", b.Name(), v.Op)
		}
	}
	return nil
}

// invariant 6: reference counts on SSAVars equal the number of owning references
// to them, counted across every operation/cfop in the block.
func verifyRefCounts(b *BasicBlock) error {
	counted := make(map[ValueID]uint16, len(b.Variables))
	bump := func(v *SSAVar) {
		if v != nil {
			counted[v.ID]++
		}
	}
	for _, v := range b.Variables {
		if v.Kind == InfoOperation && v.Op != nil {
			for i := 0; i < v.Op.NumIn; i++ {
				bump(v.Op.Inputs[i])
			}
			bump(v.Op.RoundingVar)
		}
	}
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			bump(c.Inputs[i])
		}
		for _, tv := range c.TargetInputs {
			bump(tv)
		}
	}
	for _, v := range b.Variables {
		if got, want := v.RefCount(), counted[v.ID]; got != want {
			return fmt.Errorf("ir: invariant 6 violated in %s: %s refCount=%d, owning refs observed=%d",
				b.Name(), v.Name(), got, want)
		}
	}
	return nil
}
