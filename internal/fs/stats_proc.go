package fs

import (
	"fmt"
	"os"
	"strings"
)

// processNameForPID is a best-effort /proc lookup for the tracing bus's
// process-name cache (spec §4.9); an unreadable /proc entry (sandboxed
// caller, already-exited process, non-Linux) just yields "".
func processNameForPID(pid int) string {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
