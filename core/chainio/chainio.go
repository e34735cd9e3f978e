// Package chainio is the narrow boundary between the node and the chain RPC.
// The watcher and the task runner depend only on the ChainClient interface so
// the transport is swappable without touching ordering or backoff logic.
package chainio

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the only chain capability the node consumes: reading the
// head, querying a log range and submitting a contract call.
type ChainClient interface {
	// CurrentHead returns the latest chain height.
	CurrentHead(ctx context.Context) (uint64, error)

	// FilterLogs returns all hub contract logs in [fromBlock, toBlock],
	// both bounds inclusive, ordered by (block number, log index).
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)

	// SubmitTransaction packs a hub contract call and hands it to the
	// transaction signer. Confirmation tracking is the caller's business.
	SubmitTransaction(ctx context.Context, method string, args ...interface{}) (common.Hash, error)
}

// TxSubmitter signs and broadcasts a raw contract call. Key management lives
// behind this interface and never leaks into the node core.
type TxSubmitter interface {
	SendTransaction(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error)
}

// TransientNetworkError marks chain or relay RPC failures that are safe to
// retry. Anything not wrapped in it is treated as permanent by the retry
// helpers upstream.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientNetworkError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientNetworkError{Err: err}
}

// IsTransient reports whether any error in the chain is a TransientNetworkError.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}
