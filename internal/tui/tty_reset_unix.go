//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// bestEffortResetTTY restores sane terminal modes after the bubbletea
// program exits, in case an abnormal teardown left raw mode on. Errors are
// ignored: a wedged terminal is already the failure being cleaned up.
func bestEffortResetTTY() {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return
	}
	// Go through /dev/tty to reach the controlling terminal even when
	// stdin was redirected.
	_ = exec.Command("sh", "-lc", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
