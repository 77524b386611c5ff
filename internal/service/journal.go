package service

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// LastJournalEntries returns the last n journal lines for unit, via
// journalctl. D-Bus marshalling of the unit itself is out of scope for this
// daemon; the journal is consulted purely as a diagnostic on first failure.
func LastJournalEntries(ctx context.Context, unit string, n int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "journalctl", "-u", unit, "-n", strconv.Itoa(n), "--no-pager")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}
