// Package cli implements the interactive REPL of spec §6.4 over an
// internal/script.Interpreter, plus the single-instance device Lock.
// Batch scripts run through Interpreter.RunFile from cmd/gcore instead. The raw-mode terminal
// handling (MakeRaw/Restore around byte-at-a-time stdin reads, CR/DEL
// translation, line buffering, a blocking read loop on Windows vs. a
// nonblocking one elsewhere) is adapted from the teacher's
// terminal_host.go/terminal_host_windows.go/terminal_io.go, which drove a
// debug console the same way; here the assembled line is handed to the
// Lua interpreter instead of an MMIO input queue.
package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/geminicomplex/gcore/internal/script"
)

// REPL reads stdin line by line in raw mode and evaluates each completed
// line against a script.Interpreter, echoing output to out.
type REPL struct {
	it           *script.Interpreter
	out          io.Writer
	fd           int
	oldTermState *term.State
	line         []byte
}

// New builds a REPL driving it, printing to out.
func New(it *script.Interpreter, out io.Writer) *REPL {
	return &REPL{it: it, out: out, fd: int(os.Stdin.Fd())}
}

// feedByte applies CR/DEL translation, echoes the byte, and evaluates a
// line once a newline completes it. done reports that exit() was called,
// with code the value it was given.
func (r *REPL) feedByte(b byte) (done bool, code int) {
	if b == '\r' {
		b = '\n'
	}
	if b == 0x7F {
		b = 0x08
	}
	if b == 0x08 {
		if len(r.line) > 0 {
			r.line = r.line[:len(r.line)-1]
			fmt.Fprint(r.out, "\b \b")
		}
		return false, 0
	}
	if b == '\n' {
		fmt.Fprint(r.out, "\r\n")
		evalCode, exited, err := r.it.Eval(string(r.line))
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\r\n", err)
		}
		r.line = r.line[:0]
		if exited {
			return true, evalCode
		}
		fmt.Fprint(r.out, "gcore> ")
		return false, 0
	}
	r.line = append(r.line, b)
	fmt.Fprintf(r.out, "%c", b)
	return false, 0
}

func (r *REPL) restore() {
	if r.oldTermState != nil {
		_ = term.Restore(r.fd, r.oldTermState)
		r.oldTermState = nil
	}
}
