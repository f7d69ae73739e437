// Package outcome decides how a firmware run ended.
//
// A halted target plus its backtrace is classified into one of four kinds:
// returned (the designated exit symbol is at the top of the stack, exit code
// in r0), panicked (the panic handler is within the top frames), faulted (the
// probe reported a hardware fault), or still running (the host halted it).
// ExitStatus maps the classification onto the host process exit code.
package outcome
