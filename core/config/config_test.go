package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validRaw() ConfigRaw {
	return ConfigRaw{
		DbPath:              "/tmp/gridnode",
		ChainRpcUrl:         "http://127.0.0.1:8545",
		TaskContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		NodeContractAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		NodeAddress:         "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		RelayUrl:            "http://relay.example.com",
	}
}

func TestFromRawAppliesDefaults(t *testing.T) {
	c, err := FromRaw(validRaw())
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, c.PollInterval)
	require.Equal(t, uint64(500), c.MaxBlocksPerPoll)
	require.Equal(t, 5, c.StepRetryLimit)
	require.Equal(t, 24, c.BackupIntervalHours)
	require.Equal(t, "http://127.0.0.1:8001", c.WorkerUrl)
}

func TestFromRawSerializesExecutionByDefault(t *testing.T) {
	raw := validRaw()
	raw.MaxConcurrentTasks = 8

	c, err := FromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, 1, c.MaxConcurrentTasks)

	raw.Distributed = true
	c, err = FromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, 8, c.MaxConcurrentTasks)
}

func TestFromRawRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigRaw)
	}{
		{"missing db path", func(r *ConfigRaw) { r.DbPath = "" }},
		{"missing rpc url", func(r *ConfigRaw) { r.ChainRpcUrl = "" }},
		{"short contract address", func(r *ConfigRaw) { r.TaskContractAddress = "0x123" }},
		{"missing node address", func(r *ConfigRaw) { r.NodeAddress = "" }},
		{"relay url is not a url", func(r *ConfigRaw) { r.RelayUrl = "not-a-url" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mutate(&raw)

			_, err := FromRaw(raw)
			require.ErrorIs(t, err, ErrFatalConfiguration)
		})
	}
}

func TestPrivateKeyEnvOverridesFile(t *testing.T) {
	raw := validRaw()
	raw.PrivateKey = "from-file"

	t.Setenv("GRIDNODE_PRIVATE_KEY", "from-env")
	c, err := FromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, "from-env", c.PrivateKey)

	t.Setenv("GRIDNODE_PRIVATE_KEY", "")
	c, err = FromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, "from-file", c.PrivateKey)
}

func TestLoadParsesYamlFile(t *testing.T) {
	body := `
db_path: /tmp/gridnode
chain_rpc_url: http://127.0.0.1:8545
task_contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
node_contract_address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
node_address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
relay_url: http://relay.example.com
poll_interval_seconds: 12
durable_queue: true
`
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 12*time.Second, c.PollInterval)
	require.True(t, c.DurableQueue)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrFatalConfiguration)
}
