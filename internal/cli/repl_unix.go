//go:build !windows

package cli

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/term"
)

// Run puts stdin in raw, nonblocking mode, reads bytes one at a time,
// and evaluates each completed line until the script calls exit() or
// stdin closes. It returns the exit code passed to exit(), or 0 if the
// loop ended by EOF.
func (r *REPL) Run() (int, error) {
	oldState, err := term.MakeRaw(r.fd)
	if err != nil {
		return 0, fmt.Errorf("cli: failed to set raw mode: %w", err)
	}
	r.oldTermState = oldState
	defer r.restore()

	if err := syscall.SetNonblock(r.fd, true); err != nil {
		return 0, fmt.Errorf("cli: failed to set nonblocking stdin: %w", err)
	}
	defer syscall.SetNonblock(r.fd, false)

	fmt.Fprint(r.out, "gcore> ")
	buf := make([]byte, 1)
	for {
		n, err := syscall.Read(r.fd, buf)
		if n > 0 {
			if done, code := r.feedByte(buf[0]); done {
				return code, nil
			}
			continue
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil || n == 0 {
			return 0, nil
		}
	}
}
