package executor

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strconv"
)

const maxTailBytes = 5 * 1024 * 1024 // 5 MiB, per spec.md §4.2

// LogOptions controls GetLogs.
type LogOptions struct {
	Lines int // number of trailing lines; 0 means a sensible default
}

// GetLogs reads journald-style logs first, falling back to a bounded
// tail of the app's own log file when journald has nothing (e.g. dev
// mode, or a unit that was never registered with systemd).
func (e *Executor) GetLogs(ctx context.Context, appName string, opts LogOptions) ([]string, error) {
	if opts.Lines <= 0 {
		opts.Lines = 200
	}
	if lines, err := e.journalLogs(ctx, appName, opts.Lines); err == nil && len(lines) > 0 {
		return lines, nil
	}
	return e.tailFileLogs(appName, opts.Lines)
}

func (e *Executor) journalLogs(ctx context.Context, appName string, n int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "journalctl", "-u", serviceName(appName), "-n", strconv.Itoa(n), "--no-pager")
	raw, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return splitLines(string(raw)), nil
}

func (e *Executor) tailFileLogs(appName string, n int) ([]string, error) {
	paths := pathsFor(e.cfg.SandboxRoot, appName)
	path := paths.Log + "/app.log"

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := int64(0)
	if info.Size() > maxTailBytes {
		offset = info.Size() - maxTailBytes
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
