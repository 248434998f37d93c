package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"sentinel/internal/check"
)

// SMTPExecutor connects and, when credentials are configured,
// authenticates. TLS verification errors are ignored: the check answers
// "can I log in", not "is the certificate valid".
type SMTPExecutor struct{}

func (e *SMTPExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.SMTP
	if params == nil {
		return []check.Result{down(spec, "missing smtp parameters")}
	}

	address := net.JoinHostPort(params.Host, fmt.Sprintf("%d", params.Port))

	start := time.Now()
	client, err := e.dial(address, params.Host, params.UseTLS, timeoutFor(spec))
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("SMTP connection failed: %v", err))}
	}
	defer client.Close()

	if params.Username != "" && params.Password != "" {
		if !params.UseTLS {
			// Try an opportunistic upgrade so AUTH is not sent in the clear.
			if ok, _ := client.Extension("STARTTLS"); ok {
				if err := client.StartTLS(&tls.Config{
					InsecureSkipVerify: true,
					ServerName:         params.Host,
				}); err != nil {
					return []check.Result{down(spec, fmt.Sprintf("STARTTLS upgrade failed: %v", err))}
				}
			}
		}
		auth := smtp.PlainAuth("", params.Username, params.Password, params.Host)
		if err := client.Auth(auth); err != nil {
			return []check.Result{down(spec, fmt.Sprintf("SMTP authentication failed: %v", err))}
		}
	}

	return []check.Result{up(spec, time.Since(start))}
}

func (e *SMTPExecutor) dial(address, host string, useTLS bool, timeout time.Duration) (*smtp.Client, error) {
	if useTLS {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", address, &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         host,
		})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, host)
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, host)
}
