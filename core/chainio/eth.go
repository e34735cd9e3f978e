package chainio

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gridmind/gridnode/pkg/logger"
)

// EthClient talks to a live JSON-RPC endpoint. Every network failure comes
// back wrapped as a TransientNetworkError so callers can retry without
// inspecting provider-specific error strings.
type EthClient struct {
	client       *ethclient.Client
	taskContract common.Address
	nodeContract common.Address
	submitter    TxSubmitter
	logger       logger.Logger
}

func NewEthClient(rpcURL string, taskContract, nodeContract common.Address, submitter TxSubmitter, log logger.Logger) (*EthClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("cannot dial rpc %s: %w", rpcURL, err)
	}

	return &EthClient{
		client:       client,
		taskContract: taskContract,
		nodeContract: nodeContract,
		submitter:    submitter,
		logger:       logger.EnsureLogger(log),
	}, nil
}

func (c *EthClient) CurrentHead(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, Transient(fmt.Errorf("cannot fetch head block: %w", err))
	}
	return head, nil
}

func (c *EthClient) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.taskContract, c.nodeContract},
	})
	if err != nil {
		return nil, Transient(fmt.Errorf("cannot filter logs [%d, %d]: %w", from, to, err))
	}
	return logs, nil
}

// SubmitTransaction packs a hub method call and hands it to the submitter.
// Node membership methods go to the node contract, everything else to the
// task contract.
func (c *EthClient) SubmitTransaction(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	calldata, err := PackCall(method, args...)
	if err != nil {
		return common.Hash{}, err
	}

	to := c.taskContract
	if method == MethodJoinNetwork || method == MethodQuitNetwork {
		to = c.nodeContract
	}

	txHash, err := c.submitter.SendTransaction(ctx, to, calldata)
	if err != nil {
		return common.Hash{}, Transient(fmt.Errorf("cannot submit %s: %w", method, err))
	}

	c.logger.Info("submitted hub transaction", "method", method, "tx", txHash.Hex())
	return txHash, nil
}

// PrivateKeySubmitter signs transactions with a raw ECDSA key held in
// memory. It is the minimal signer; remote and hardware signers plug in
// behind the same TxSubmitter interface.
type PrivateKeySubmitter struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewPrivateKeySubmitter(ctx context.Context, rpcURL, hexKey string) (*PrivateKeySubmitter, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("cannot dial rpc %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch chain id: %w", err)
	}

	return &PrivateKeySubmitter{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *PrivateKeySubmitter) Address() common.Address {
	return s.address
}

func (s *PrivateKeySubmitter) SendTransaction(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot fetch nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot fetch gas price: %w", err)
	}

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("cannot broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}
