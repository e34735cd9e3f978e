package taskengine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/gridmind/gridnode/core/chainio"
	"github.com/gridmind/gridnode/core/relay"
)

// Executor runs the actual compute payload. Distributed nodes shell out to a
// GPU worker here; tests plug in a function.
type Executor func(ctx context.Context, taskID uint64, input []byte) ([]byte, error)

// InferenceStrategy executes an inference task in four stages: fetch the
// input from the relay, run the payload, publish the result to the relay,
// then commit the result hash on chain. The on-chain commit is the only
// irreversible stage.
type InferenceStrategy struct {
	chain    chainio.ChainClient
	relay    relay.Relay
	executor Executor
}

func NewInferenceStrategy(chain chainio.ChainClient, r relay.Relay, executor Executor) *InferenceStrategy {
	return &InferenceStrategy{
		chain:    chain,
		relay:    r,
		executor: executor,
	}
}

func (s *InferenceStrategy) Steps() []Step {
	return []Step{
		{Name: "fetch_input", Run: s.fetchInput},
		{Name: "run_payload", Run: s.runPayload},
		{Name: "publish_result", Run: s.publishResult},
		{Name: "report_on_chain", Irreversible: true, Run: s.reportOnChain},
	}
}

func (s *InferenceStrategy) fetchInput(ctx context.Context, tc *TaskContext) error {
	input, err := s.relay.FetchInput(ctx, tc.TaskID)
	if err != nil {
		return err
	}
	tc.Input = input
	return nil
}

func (s *InferenceStrategy) runPayload(ctx context.Context, tc *TaskContext) error {
	// resumed past fetch_input with nothing in memory, refetch
	if tc.Input == nil {
		if err := s.fetchInput(ctx, tc); err != nil {
			return err
		}
	}

	output, err := s.executor(ctx, tc.TaskID, tc.Input)
	if err != nil {
		if ctx.Err() != nil || chainio.IsTransient(err) || IsPermanent(err) {
			return err
		}
		return Permanent(tc.TaskID, "payload execution failed", err)
	}
	tc.Output = output
	tc.ResHash = sha256.Sum256(output)
	return nil
}

func (s *InferenceStrategy) publishResult(ctx context.Context, tc *TaskContext) error {
	if tc.Output == nil {
		if err := s.runPayload(ctx, tc); err != nil {
			return err
		}
	}
	return s.relay.PublishResult(ctx, tc.TaskID, tc.Output)
}

func (s *InferenceStrategy) reportOnChain(ctx context.Context, tc *TaskContext) error {
	if tc.ResHash == [32]byte{} {
		// a crash after publish_result lost the in-memory hash; recompute
		// from the payload rather than submitting garbage
		if err := s.runPayload(ctx, tc); err != nil {
			return err
		}
	}

	taskID := new(big.Int).SetUint64(tc.TaskID)
	if _, err := s.chain.SubmitTransaction(ctx, chainio.MethodSubmitTaskResult, taskID, tc.ResHash); err != nil {
		return err
	}
	return nil
}

func (s *InferenceStrategy) ReportError(ctx context.Context, taskID uint64, reason string) error {
	id := new(big.Int).SetUint64(taskID)
	if _, err := s.chain.SubmitTransaction(ctx, chainio.MethodReportTaskError, id, reason); err != nil {
		return fmt.Errorf("cannot report task %d error on chain: %w", taskID, err)
	}
	return nil
}
