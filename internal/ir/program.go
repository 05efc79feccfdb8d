package ir

import "sort"

// Header carries whole-program metadata copied from the guest ELF header (spec §3).
type Header struct {
	BaseAddr    uint64 // guest load base address
	LoadSize    uint64
	PhdrOffset  uint64
	PhdrCount   uint16
	PhdrEntSize uint16
	EntryAddr   uint64 // guest entry virtual address

	// BBAddrLo/BBAddrHi bound the guest basic-block address range; PointerTable is
	// the per-2-byte needs-block bitmap over that range (spec §4.2 step 2).
	BBAddrLo, BBAddrHi uint64
	PointerTable       []bool
}

// Program is the whole-program IR container: the static table, the list of basic
// blocks with a lookup by guest address, the entry-block id, and header metadata.
type Program struct {
	Statics []StaticMapper
	Blocks  []*BasicBlock
	EntryID BasicBlockID
	Header  Header

	addrIndex map[uint64]BasicBlockID
	nextBBID  BasicBlockID
}

// NewProgram allocates an empty Program with the fixed static table installed and
// the dummy block (id 0, start address 0) created.
func NewProgram(hdr Header) *Program {
	p := &Program{
		Statics:   BuildStaticTable(),
		Header:    hdr,
		addrIndex: make(map[uint64]BasicBlockID),
	}
	dummy := &BasicBlock{ID: DummyBlockID, DebugName: "dummy", StartAddr: 0, EndAddr: 0}
	p.Blocks = append(p.Blocks, dummy)
	p.nextBBID = 1
	return p
}

// Dummy returns the dummy block standing in for unresolved dynamic targets.
func (p *Program) Dummy() *BasicBlock { return p.Blocks[DummyBlockID] }

// NewBlock allocates and registers a fresh BasicBlock starting at addr.
func (p *Program) NewBlock(addr uint64, name string) *BasicBlock {
	b := &BasicBlock{ID: p.nextBBID, DebugName: name, StartAddr: addr, EndAddr: addr}
	p.nextBBID++
	p.Blocks = append(p.Blocks, b)
	p.addrIndex[addr] = b.ID
	return b
}

// RegisterBlockAddr (re-)indexes block b under addr. Used after block splitting,
// where the second half B' starts at a fresh address.
func (p *Program) RegisterBlockAddr(addr uint64, id BasicBlockID) {
	p.addrIndex[addr] = id
}

// BlockAt returns the block whose StartAddr == addr, if one has been created.
func (p *Program) BlockAt(addr uint64) (*BasicBlock, bool) {
	id, ok := p.addrIndex[addr]
	if !ok {
		return nil, false
	}
	return p.Blocks[id], true
}

// Block returns the block with the given id.
func (p *Program) Block(id BasicBlockID) *BasicBlock { return p.Blocks[id] }

// Entry returns the synthetic entry block.
func (p *Program) Entry() *BasicBlock { return p.Blocks[p.EntryID] }

// Connect wires a predecessor -> successor edge (invariant 3), keeping the
// predecessor/successor lists free of duplicates.
func (p *Program) Connect(from, to BasicBlockID) {
	fb, tb := p.Blocks[from], p.Blocks[to]
	for _, s := range fb.Successors {
		if s == to {
			goto preds
		}
	}
	fb.Successors = append(fb.Successors, to)
preds:
	for _, pr := range tb.Predecessors {
		if pr == from {
			return
		}
	}
	tb.Predecessors = append(tb.Predecessors, from)
}

// Disconnect removes a predecessor -> successor edge.
func (p *Program) Disconnect(from, to BasicBlockID) {
	fb, tb := p.Blocks[from], p.Blocks[to]
	fb.Successors = removeID(fb.Successors, to)
	tb.Predecessors = removeID(tb.Predecessors, from)
}

func removeID(s []BasicBlockID, v BasicBlockID) []BasicBlockID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// SortedAddrs returns the guest start addresses of every non-dummy block, sorted
// ascending. Used by the lifter's post-pass and by the CHD ijump table builder.
func (p *Program) SortedAddrs() []uint64 {
	addrs := make([]uint64, 0, len(p.addrIndex))
	for a := range p.addrIndex {
		if a != 0 {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
