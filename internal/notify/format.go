package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/junction/internal/integrate"
)

// Sidebar colors by report health.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxBody keeps messages under the smallest channel limit in use.
const maxBody = 3500

// Color picks a sidebar color: red for degraded reports, orange for
// partial or conflicting ones, green for high consensus, blue otherwise.
func Color(r *integrate.Report) string {
	switch {
	case r.Degraded:
		return ColorError
	case len(r.MissingRoles) > 0 || len(r.Conflicts) > 0:
		return ColorWarning
	case r.ConsensusBucket == integrate.BucketHigh:
		return ColorSuccess
	default:
		return ColorInfo
	}
}

// colorInt converts "#rrggbb" to the integer form Discord embeds use.
func colorInt(hex string) int {
	n, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(n)
}

// Title is a one-line summary of a report.
func Title(r *integrate.Report) string {
	if r.Degraded {
		return fmt.Sprintf("Session %s failed: no role reported", shortID(r.SessionID))
	}
	return fmt.Sprintf("Session %s integrated: %s consensus, %d conflict(s), %d missing role(s)",
		shortID(r.SessionID), r.ConsensusBucket, len(r.Conflicts), len(r.MissingRoles))
}

// Body returns the synthesis, truncated for chat.
func Body(r *integrate.Report) string {
	return truncate(r.Synthesis, maxBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("\n…(truncated)")
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "\n…(truncated)"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
