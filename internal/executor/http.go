package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"sentinel/internal/check"
)

// HTTPExecutor issues the configured method against the URL. An error status
// from the server counts as a failure, matching the behavior of clients that
// raise on 4xx/5xx. On success it additionally emits an ssl side-result for
// https targets and a body side-result when a substring expectation is set.
type HTTPExecutor struct{}

func (e *HTTPExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.HTTP
	if params == nil {
		return []check.Result{down(spec, "missing http parameters")}
	}

	method := params.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, params.URL, nil)
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("Failed to create request: %v", err))}
	}
	for key, value := range params.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "sentinel-agent/1.0")
	}

	client := &http.Client{Timeout: timeoutFor(spec)}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		results := []check.Result{down(spec, fmt.Sprintf("Request failed: %v", err))}
		if isHTTPS(params.URL) {
			results = append(results, sslResult(spec, params.URL, err.Error()))
		}
		return results
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var primary check.Result
	if resp.StatusCode >= 400 {
		primary = down(spec, fmt.Sprintf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	} else {
		primary = up(spec, elapsed)
	}

	results := []check.Result{primary}

	if isHTTPS(params.URL) {
		results = append(results, sslResult(spec, params.URL, ""))
	}

	if params.BodySubstring != "" {
		bodyRes := check.Result{
			CheckID: spec.ID,
			Kind:    check.KindBody,
			Type:    spec.Type,
			At:      time.Now().UTC(),
		}
		switch {
		case readErr != nil:
			bodyRes.Status = check.StatusDown
			bodyRes.Error = fmt.Sprintf("Failed to read response body: %v", readErr)
		case strings.Contains(string(body), params.BodySubstring):
			bodyRes.Status = check.StatusUp
		default:
			bodyRes.Status = check.StatusDown
			bodyRes.Error = fmt.Sprintf("Body does not contain %q", params.BodySubstring)
		}
		results = append(results, bodyRes)
	}

	return results
}

func isHTTPS(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(rawURL), "https://")
}

// sslResult opens a raw TLS connection to the target host and reports the
// leaf certificate's expiry next to the current time. When priorErr is set,
// or the handshake fails, the result carries the error and empty dates.
func sslResult(spec *check.Spec, rawURL, priorErr string) check.Result {
	res := check.Result{
		CheckID: spec.ID,
		Kind:    check.KindSSL,
		Type:    spec.Type,
		At:      time.Now().UTC(),
		URL:     rawURL,
		Name:    spec.Name,
	}

	if priorErr != "" {
		res.Error = priorErr
		return res
	}

	host, port, err := hostPort(rawURL)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	dialer := &net.Dialer{Timeout: timeoutFor(spec)}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), &tls.Config{
		ServerName: host,
	})
	if err != nil {
		res.Error = fmt.Sprintf("TLS connection failed: %v", err)
		return res
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		res.Error = "No certificates presented"
		return res
	}

	expiry := certs[0].NotAfter.UTC()
	now := time.Now().UTC()
	res.SSLExpiry = &expiry
	res.SSLNow = &now
	return res
}

func hostPort(rawURL string) (string, string, error) {
	parsed, err := neturl.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid URL: %s", rawURL)
	}
	port := parsed.Port()
	if port == "" {
		port = "443"
	}
	return host, port, nil
}
