// Package relay moves task payloads between the node and the off-chain relay
// server. Task inputs and results are too large for calldata, so the chain
// carries only their hashes and the relay carries the bytes.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/pkg/logger"
)

// Relay fetches task inputs and publishes task results.
type Relay interface {
	FetchInput(ctx context.Context, taskID uint64) ([]byte, error)
	PublishResult(ctx context.Context, taskID uint64, result []byte) error
}

// HTTPRelay talks to the relay server REST API.
type HTTPRelay struct {
	httpClient *resty.Client
	logger     logger.Logger
}

func NewHTTPRelay(baseURL, nodeAddress string, log logger.Logger) *HTTPRelay {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeaders(map[string]string{
			"Accept":         "application/octet-stream",
			"X-Node-Address": nodeAddress,
		})

	return &HTTPRelay{
		httpClient: client,
		logger:     logger.EnsureLogger(log),
	}
}

func (r *HTTPRelay) FetchInput(ctx context.Context, taskID uint64) ([]byte, error) {
	resp, err := r.httpClient.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/v1/tasks/%d/input", taskID))
	if err != nil {
		return nil, chainio.Transient(fmt.Errorf("relay input request failed: %w", err))
	}

	if resp.StatusCode() != 200 {
		return nil, chainio.Transient(fmt.Errorf("relay returned status %d for task %d input", resp.StatusCode(), taskID))
	}

	r.logger.Debug("fetched task input", "task_id", taskID, "bytes", len(resp.Body()))
	return resp.Body(), nil
}

func (r *HTTPRelay) PublishResult(ctx context.Context, taskID uint64, result []byte) error {
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(result).
		Post(fmt.Sprintf("/v1/tasks/%d/result", taskID))
	if err != nil {
		return chainio.Transient(fmt.Errorf("relay result request failed: %w", err))
	}

	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		return chainio.Transient(fmt.Errorf("relay returned status %d for task %d result", resp.StatusCode(), taskID))
	}

	r.logger.Debug("published task result", "task_id", taskID, "bytes", len(result))
	return nil
}
