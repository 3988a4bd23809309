package cli

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Lock guards exclusive ownership of the device file (§5: "the device
// file is process-wide ... there is no re-entrancy guard other than
// single-threadedness"): a Unix-domain socket stands in for a PID file,
// so a second gcore process started against the same device fails fast
// instead of racing the first one's ioctls. Adapted from the teacher's
// runtime_ipc.go single-instance coordination socket, trimmed to the bare
// "refuse a second instance" guard — gcore has no cross-process "open a
// file in the running instance" concept to dispatch, unlike the VM this
// pattern was taken from.
type Lock struct {
	listener net.Listener
	sockPath string
}

// Acquire binds a lock socket derived from devicePath. If another gcore
// process already holds the lock, it returns an error naming that fact
// instead of blocking.
func Acquire(devicePath string) (*Lock, error) {
	sockPath := lockSocketPath(devicePath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("cli: binding instance lock: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("cli: another gcore instance already owns %s", devicePath)
		}
	}
	return &Lock{listener: ln, sockPath: sockPath}, nil
}

// Release closes the lock socket and removes it from disk.
func (l *Lock) Release() {
	l.listener.Close()
	os.Remove(l.sockPath)
}

func lockSocketPath(devicePath string) string {
	name := filepath.Base(devicePath)
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "gcore-"+name+".sock")
	}
	return filepath.Join(os.TempDir(), "gcore-"+name+".sock")
}
