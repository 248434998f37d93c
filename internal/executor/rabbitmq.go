package executor

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"sentinel/internal/check"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQExecutor dials the broker and authenticates; a completed AMQP
// handshake means up.
type RabbitMQExecutor struct{}

func (e *RabbitMQExecutor) Execute(ctx context.Context, spec *check.Spec) []check.Result {
	params := spec.RabbitMQ
	if params == nil {
		return []check.Result{down(spec, "missing rabbitmq parameters")}
	}

	vhost := params.VHost
	if vhost == "" {
		vhost = "/"
	}

	uri := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(params.Username),
		url.QueryEscape(params.Password),
		params.Host,
		params.Port,
		url.QueryEscape(vhost),
	)

	start := time.Now()
	conn, err := amqp.DialConfig(uri, amqp.Config{
		Dial: amqp.DefaultDial(timeoutFor(spec)),
	})
	if err != nil {
		return []check.Result{down(spec, fmt.Sprintf("RabbitMQ connection failed: %v", err))}
	}
	elapsed := time.Since(start)
	conn.Close()

	return []check.Result{up(spec, elapsed)}
}
