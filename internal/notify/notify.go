// Package notify provides desktop notification support.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send sends a desktop notification. Only macOS (osascript) is supported;
// other platforms return an error the caller can log and ignore.
func Send(title, message string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("desktop notifications unsupported on %s", runtime.GOOS)
	}

	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
