package chainio

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mitchellh/mapstructure"
)

// Event names emitted by the hub contracts that the node cares about.
const (
	EventTaskCreated = "TaskCreated"
	EventTaskSuccess = "TaskSuccess"
	EventTaskAborted = "TaskAborted"
)

// Hub contract methods the node submits.
const (
	MethodSubmitTaskResult = "submitTaskResult"
	MethodReportTaskError  = "reportTaskError"
	MethodJoinNetwork      = "joinNetwork"
	MethodQuitNetwork      = "quitNetwork"
)

// The slice of the hub ABI the node actually decodes and calls. The full
// contract surface is owned by the contract repo; extending this list is the
// only change needed to watch a new event.
const hubABIJson = `[
  {"type":"event","name":"TaskCreated","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"selectedNode","type":"address","indexed":true},
    {"name":"taskHash","type":"bytes32","indexed":false},
    {"name":"dataHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"TaskSuccess","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"resultHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"TaskAborted","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"reason","type":"string","indexed":false}]},
  {"type":"function","name":"submitTaskResult","inputs":[
    {"name":"taskId","type":"uint256"},
    {"name":"resultHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"reportTaskError","inputs":[
    {"name":"taskId","type":"uint256"},
    {"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"joinNetwork","inputs":[],"outputs":[]},
  {"type":"function","name":"quitNetwork","inputs":[],"outputs":[]}
]`

var hubABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(hubABIJson))
	if err != nil {
		panic(fmt.Errorf("cannot parse hub ABI: %w", err))
	}
	hubABI = parsed
}

// Event is one decoded hub contract log. Ordering key is
// (BlockNumber, LogIndex) ascending; the watcher relies on it.
type Event struct {
	Name        string                 `json:"name"`
	BlockNumber uint64                 `json:"block_number"`
	LogIndex    uint                   `json:"log_index"`
	TxHash      common.Hash            `json:"tx_hash"`
	Args        map[string]interface{} `json:"-"`

	// Raw keeps the undecoded log around so the durable queue can persist
	// and re-decode it after a restart.
	Raw types.Log `json:"raw"`
}

// Key is the process-wide dedup key for one log occurrence.
func (e *Event) Key() string {
	return fmt.Sprintf("%d-%d", e.BlockNumber, e.LogIndex)
}

// Before reports whether e orders strictly before other.
func (e *Event) Before(other *Event) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// DecodeLog decodes a raw hub log into an Event. Logs whose signature is not
// part of the hub ABI slice come back as ErrUnknownEvent and are skipped by
// the watcher.
var ErrUnknownEvent = fmt.Errorf("unknown hub event")

func DecodeLog(l types.Log) (*Event, error) {
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrUnknownEvent)
	}

	def, err := hubABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	args := map[string]interface{}{}
	if err := def.Inputs.NonIndexed().UnpackIntoMap(args, l.Data); err != nil {
		return nil, fmt.Errorf("cannot unpack %s data: %w", def.Name, err)
	}

	indexed := abi.Arguments{}
	for _, input := range def.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("cannot parse %s topics: %w", def.Name, err)
	}

	return &Event{
		Name:        def.Name,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
		Args:        args,
		Raw:         l,
	}, nil
}

// TaskCreated is the typed payload of a TaskCreated event.
type TaskCreated struct {
	TaskID       *big.Int       `mapstructure:"taskId"`
	SelectedNode common.Address `mapstructure:"selectedNode"`
	TaskHash     [32]byte       `mapstructure:"taskHash"`
	DataHash     [32]byte       `mapstructure:"dataHash"`
}

// ParseTaskCreated decodes the arg map of a TaskCreated event into its typed
// payload.
func ParseTaskCreated(ev *Event) (*TaskCreated, error) {
	if ev.Name != EventTaskCreated {
		return nil, fmt.Errorf("event %s is not %s", ev.Name, EventTaskCreated)
	}

	out := &TaskCreated{}
	if err := mapstructure.Decode(ev.Args, out); err != nil {
		return nil, fmt.Errorf("cannot decode TaskCreated payload: %w", err)
	}
	if out.TaskID == nil {
		return nil, fmt.Errorf("TaskCreated event carries no taskId")
	}
	return out, nil
}

// PackCall packs calldata for a hub contract method.
func PackCall(method string, args ...interface{}) ([]byte, error) {
	data, err := hubABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot pack %s: %w", method, err)
	}
	return data, nil
}
