package executor

import (
	"context"
	"fmt"
	"time"

	"sentinel/internal/check"
)

// Executor runs one check type. Execute never reports a target failure as an
// error: unreachable hosts, timeouts and protocol errors all come back as a
// down-status result. The returned slice starts with the primary result;
// the HTTP executor may append ssl and body side-results.
type Executor interface {
	Execute(ctx context.Context, spec *check.Spec) []check.Result
}

// New selects the executor for a check type. Unknown types are a programming
// error on the caller's side, not a check failure.
func New(typ check.Type) (Executor, error) {
	switch typ {
	case check.TypeHTTP:
		return &HTTPExecutor{}, nil
	case check.TypeTCP:
		return &TCPExecutor{}, nil
	case check.TypeDNS:
		return &DNSExecutor{}, nil
	case check.TypePing:
		return &PingExecutor{}, nil
	case check.TypeSMTP:
		return &SMTPExecutor{}, nil
	case check.TypeRabbitMQ:
		return &RabbitMQExecutor{}, nil
	default:
		return nil, fmt.Errorf("unsupported check type: %s", typ)
	}
}

func up(spec *check.Spec, elapsed time.Duration) check.Result {
	rt := elapsed.Milliseconds()
	return check.Result{
		CheckID:      spec.ID,
		Kind:         check.KindCheck,
		Type:         spec.Type,
		Status:       check.StatusUp,
		At:           time.Now().UTC(),
		ResponseTime: &rt,
	}
}

func down(spec *check.Spec, message string) check.Result {
	return check.Result{
		CheckID: spec.ID,
		Kind:    check.KindCheck,
		Type:    spec.Type,
		Status:  check.StatusDown,
		At:      time.Now().UTC(),
		Error:   message,
	}
}

func timeoutFor(spec *check.Spec) time.Duration {
	if spec.Timeout > 0 {
		return time.Duration(spec.Timeout) * time.Second
	}
	return 10 * time.Second
}
