package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/check"
)

// PingExecutor shells out to the system ping utility with a single packet
// and parses the round trip time from the summary line.
type PingExecutor struct{}

func (e *PingExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.Ping
	if params == nil {
		return []check.Result{down(spec, "missing ping parameters")}
	}

	size := params.PacketSize
	if size <= 0 {
		size = 56
	}
	timeoutSec := spec.Timeout
	if timeoutSec <= 0 {
		timeoutSec = 5
	}

	args := []string{
		"-c", "1",
		"-s", strconv.Itoa(size),
		"-W", strconv.Itoa(timeoutSec),
		params.Host,
	}

	cmd := exec.CommandContext(ctx, "ping", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("Ping failed: %v", err))}
	}

	rtt, err := parsePingRTT(string(output))
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("Ping output unparseable: %v", err))}
	}

	return []check.Result{up(spec, rtt)}
}

// parsePingRTT extracts the average round trip time from the summary line,
// e.g. "rtt min/avg/max/mdev = 1.234/2.345/3.456/0.123 ms".
func parsePingRTT(output string) (time.Duration, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "min/avg/max") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values := strings.Split(strings.TrimSpace(parts[1]), "/")
		if len(values) < 2 {
			continue
		}
		avg, err := strconv.ParseFloat(values[1], 64)
		if err != nil {
			return 0, fmt.Errorf("bad avg value %q: %w", values[1], err)
		}
		return time.Duration(avg * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("no rtt summary line found")
}
