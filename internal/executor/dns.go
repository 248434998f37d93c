package executor

import (
	"context"
	"fmt"
	"strings"

	"sentinel/internal/check"
	dnsresolver "sentinel/pkg/dns"
)

// DNSExecutor queries the configured resolver for the configured record
// type. The response time is the resolver-reported query time, not the wall
// clock of the whole call.
type DNSExecutor struct{}

func (e *DNSExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.DNS
	if params == nil {
		return []check.Result{down(spec, "missing dns parameters")}
	}

	server := params.Resolver
	transport := dnsresolver.TransportUDP
	if strings.HasPrefix(server, "https://") {
		transport = dnsresolver.TransportDoH
	} else if !strings.Contains(server, ":") {
		server = server + ":53"
	}

	resolver := dnsresolver.NewResolver(server, transport)
	resolver.Timeout = timeoutFor(spec)

	result, err := resolver.Lookup(ctx, params.Name, params.RecordType)
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("DNS lookup failed: %v", err))}
	}

	return []check.Result{up(spec, result.QueryTime)}
}
