//go:build windows

package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Run puts stdin in raw mode and reads bytes with a blocking os.Stdin
// read (Windows has no SetNonblock equivalent for console handles),
// evaluating each completed line until the script calls exit() or stdin
// closes.
func (r *REPL) Run() (int, error) {
	oldState, err := term.MakeRaw(r.fd)
	if err != nil {
		return 0, fmt.Errorf("cli: failed to set raw mode: %w", err)
	}
	r.oldTermState = oldState
	defer r.restore()

	fmt.Fprint(r.out, "gcore> ")
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if done, code := r.feedByte(buf[0]); done {
				return code, nil
			}
		}
		if err != nil {
			return 0, nil
		}
	}
}
