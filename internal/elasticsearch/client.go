package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/config"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// Client indexes check observations for external search and dashboards.
// Optional; a nil Client is a no-op.
type Client struct {
	es          *elasticsearch.Client
	logger      *zap.Logger
	indexPrefix string
}

// resultEntry is the indexed document shape.
type resultEntry struct {
	CheckID      uint32 `json:"check_id"`
	CheckType    string `json:"check_type"`
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	Status       int    `json:"status"`
	ResponseTime *int64 `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
	AgentUUID    string `json:"agent_uuid,omitempty"`
	Timestamp    string `json:"@timestamp"`
}

func NewClient(cfg config.ElasticsearchConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info request failed: %s", res.String())
	}

	logger.Info("Connected to elasticsearch", zap.Strings("addresses", cfg.Addresses))
	return &Client{es: es, logger: logger, indexPrefix: cfg.IndexPrefix}, nil
}

// IndexResult writes one observation into the daily index. Failures are
// logged, never propagated: indexing is a side channel.
func (c *Client) IndexResult(ctx context.Context, checkID uint32, checkType, name, url string, status int, responseTime *int64, errMsg, agentUUID string, at time.Time) {
	if c == nil {
		return
	}

	entry := resultEntry{
		CheckID:      checkID,
		CheckType:    checkType,
		Name:         name,
		URL:          url,
		Status:       status,
		ResponseTime: responseTime,
		Error:        errMsg,
		AgentUUID:    agentUUID,
		Timestamp:    at.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("Failed to encode elasticsearch entry", zap.Error(err))
		return
	}

	index := fmt.Sprintf("%s-%s", c.indexPrefix, at.UTC().Format("2006.01.02"))
	res, err := c.es.Index(index, strings.NewReader(string(data)), c.es.Index.WithContext(ctx))
	if err != nil {
		c.logger.Error("Failed to index result",
			zap.Uint32("check_id", checkID),
			zap.String("index", index),
			zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		c.logger.Error("Elasticsearch rejected document",
			zap.Uint32("check_id", checkID),
			zap.String("index", index),
			zap.String("response", res.String()))
	}
}
