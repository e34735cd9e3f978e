package taskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gridmind/gridnode/core/chainio"
)

// NewHTTPExecutor returns an Executor that hands the payload to the local
// compute worker over HTTP. The worker owns the GPU; this process only moves
// bytes. Worker rejections (4xx) are permanent, everything else is assumed
// to be a worker restart and retried.
func NewHTTPExecutor(workerURL string) Executor {
	client := resty.New().
		SetBaseURL(workerURL).
		SetTimeout(30 * time.Minute)

	return func(ctx context.Context, taskID uint64, input []byte) ([]byte, error) {
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(input).
			Post(fmt.Sprintf("/v1/tasks/%d/run", taskID))
		if err != nil {
			return nil, chainio.Transient(fmt.Errorf("worker request failed: %w", err))
		}

		code := resp.StatusCode()
		switch {
		case code == 200:
			return resp.Body(), nil
		case code >= 400 && code < 500:
			return nil, Permanent(taskID, fmt.Sprintf("worker rejected payload with status %d", code), nil)
		default:
			return nil, chainio.Transient(fmt.Errorf("worker returned status %d", code))
		}
	}
}
