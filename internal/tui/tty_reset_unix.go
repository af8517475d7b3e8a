//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// bestEffortResetTTY puts the terminal back into a sane line mode. An
// interrupt during alt-screen teardown can leave raw mode on, which turns
// Enter into ^M for the next shell prompt.
func bestEffortResetTTY() {
	// Nothing to fix when stdin isn't a terminal.
	fi, err := os.Stdin.Stat()
	if err != nil {
		return
	}
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		return
	}

	// Go through /dev/tty so a redirected stdin doesn't matter.
	_ = exec.Command("sh", "-lc", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
