// Package runtimehelper documents the external-collaborator boundary between
// the translated object internal/elfwriter emits and the separately-built
// runtime helper library (libhelper) that the system linker resolves every
// SHN_UNDEF import against (spec §6, original_source's
// include/generator/x86_64/helper/{helper,signal}.h). This package is
// intentionally doc-only: rv2x86 never links or calls into libhelper itself,
// it only needs to agree with it on symbol names and calling convention.
package runtimehelper

// Imports lists every symbol a translated object references but never
// defines, grounded one-for-one on helper.h's `extern "C"` block and
// signal.cpp's trampoline entry points. internal/elfwriter.symbolTable
// registers these as SHN_UNDEF (see runtimeImports in symtab.go); this list
// exists so the two stay in sync and so the binding is documented in one
// place rather than only implicit in string literals scattered across
// codegen.
const (
	// SyscallImpl takes (id, a0..a5): id and a0..a4 in rdi,rsi,rdx,rcx,r8,r9
	// and a5 pushed on the stack (the translator's own internal call ABI, not
	// the guest's a0-a7 convention)
	// and returns the raw kernel result in rax; cflow.go's lowerSyscall
	// marshals a CfOp's Syscall operands into exactly this shape before
	// calling it.
	SyscallImpl = "syscall_impl"

	// Panic never returns; cflow.go's lowerUnreachable calls it for any
	// CfUnreachable terminator, which the lifter emits for unsupported
	// opcodes, addresses with no decoded instruction, and the end of a lifted
	// run. A failed indirect dispatch panics in the lookup trampoline instead.
	Panic = "panic"

	// CopyStack takes the guest's original stack image and the translator's
	// allocated replacement, copying argv/envp/auxv so the translated _start
	// thunk can hand off to guest code with a stack that still looks like
	// what the kernel built at exec time.
	CopyStack = "copy_stack"

	// HelperStart names the base address of the helper library's image (not
	// a call target). symtab.go lists it in runtimeImports, so it is
	// registered as SHN_UNDEF like the other imports; this object does not
	// define it, and the final link resolves it.
	HelperStart = "helper_start"

	// IjumpLookup and IcallLookup are the CHD/dense-table probe trampolines
	// codegen/ijump.go calls with the guest target staged in rbx
	// (original_source/src/generator/x86_64/hashing.cpp's
	// HashtableBuilder::print_ijump_lookup emits the identical convention:
	// rbx in, host block address dispatched to directly for ijump, returned
	// normally for icall to let the caller's ContMapping/jump run
	// afterward). An unresolved guest target panics rather than returning.
	IjumpLookup = "ijump_lookup"
	IcallLookup = "icall_lookup"

	// The sh_* symbols are the signal delivery trampolines signal.cpp
	// installs as the guest-visible sa_handler/sa_restorer: ShSignalProxy1
	// and ShSignalProxy3 match a SA_SIGINFO-less or SA_SIGINFO guest
	// sigaction's handler arity, ShSignalRestorer is installed as
	// sa_restorer, and ShEnterSignal/ShExitSignal bracket a delivered
	// signal's run of translated guest code (saving/restoring the
	// translator's own statics and stack pointer around it). None of these
	// are called directly from translated blocks; the kernel invokes them
	// on signal delivery, so they exist here purely as linker imports.
	ShSignalProxy1   = "sh_signal_proxy_1"
	ShSignalProxy3   = "sh_signal_proxy_3"
	ShSignalRestorer = "sh_signal_restorer"
	ShEnterSignal    = "sh_enter_signal"
	ShExitSignal     = "sh_exit_signal"
)

// Exports lists every symbol the translated object defines that libhelper, in
// turn, reads back (the inverse boundary: helper.h's "provided by the
// compiler" block). internal/elfwriter's writer.go defines all of these as
// SHN_ABS or section-relative globals.
const (
	OrigBinaryVAddr = "orig_binary_vaddr"
	OrigBinarySize  = "orig_binary_size"
	PhdrOff         = "phdr_off"
	PhdrSize        = "phdr_size"
	PhdrNum         = "phdr_num"
	InitStackPtr    = "init_stack_ptr"
	TransStack      = "trans_stack"
)
