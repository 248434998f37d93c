package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sentinel/internal/check"

	"go.uber.org/zap"
)

const resultPath = "/agent/check/result"

// Reporter delivers check results to the master. Each result gets a bounded
// number of delivery attempts with a fixed delay between them; after the last
// failure the result is dropped with its full payload logged. Delivery is
// at-most-once.
type Reporter struct {
	logger    *zap.Logger
	client    *http.Client
	masterURL string
	agentUUID string
	attempts  int
	delay     time.Duration
}

type Config struct {
	MasterURL string
	AgentUUID string
	Attempts  int
	Delay     time.Duration
	Timeout   time.Duration
}

func New(logger *zap.Logger, config Config) *Reporter {
	if config.Attempts <= 0 {
		config.Attempts = 6
	}
	if config.Delay <= 0 {
		config.Delay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Reporter{
		logger:    logger,
		client:    &http.Client{Timeout: config.Timeout},
		masterURL: config.MasterURL,
		agentUUID: config.AgentUUID,
		attempts:  config.Attempts,
		delay:     config.Delay,
	}
}

// Send delivers one result, blocking the caller through retries. Callers run
// on per-job goroutines, so a slow master delays only the job that produced
// the result.
func (r *Reporter) Send(result *check.Result) {
	payload := result.Payload()
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to encode result",
			zap.Uint32("check_id", payload.CheckID),
			zap.Error(err))
		return
	}

	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.deliver(body)
		if err == nil {
			return
		}
		r.logger.Warn("Failed to report result",
			zap.Uint32("check_id", payload.CheckID),
			zap.String("check_type", payload.CheckType),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.ByteString("payload", body),
			zap.Error(err))
		if attempt < r.attempts {
			time.Sleep(r.delay)
		}
	}

	r.logger.Error("Dropping result after exhausting delivery attempts",
		zap.Uint32("check_id", payload.CheckID),
		zap.String("check_type", payload.CheckType),
		zap.ByteString("payload", body))
}

func (r *Reporter) deliver(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, r.masterURL+resultPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Agent-UUID", r.agentUUID)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 5xx and 429 are transient; anything else 2xx..4xx counts as accepted
	// because retrying a request the master rejected outright cannot help.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("master responded %d", resp.StatusCode)
	}
	return nil
}
