package executor

import (
	"context"
	"fmt"
	"net"
	"time"

	"sentinel/internal/check"
)

// tcpConnectTimeout is fixed: the point of the check is reachability, not
// latency tolerance.
const tcpConnectTimeout = 5 * time.Second

type TCPExecutor struct{}

func (e *TCPExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.TCP
	if params == nil {
		return []check.Result{down(spec, "missing tcp parameters")}
	}

	address := net.JoinHostPort(params.IP, fmt.Sprintf("%d", params.Port))

	dialer := &net.Dialer{Timeout: tcpConnectTimeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return []check.Result{down(spec, "Port is unreachable")}
	}
	elapsed := time.Since(start)
	conn.Close()

	return []check.Result{up(spec, elapsed)}
}
