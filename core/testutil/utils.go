package testutil

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gridmind/gridnode/pkg/logger"
	"github.com/gridmind/gridnode/storage"
)

// Shortcut to initialize a storage at a temp path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "gridnode-test")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() logger.Logger {
	l, err := logger.New(false)
	if err != nil {
		panic(err)
	}
	return l
}

// NodeAddress returns a deterministic address for the n-th test node.
func NodeAddress(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(n + 1)))
}

func GetDefaultCache() *bigcache.BigCache {
	config := bigcache.Config{
		// number of shards (must be a power of 2)
		Shards: 64,

		// time after which entry can be evicted
		LifeWindow: 10 * time.Minute,

		// no background cleanup in tests
		CleanWindow: 0,

		MaxEntriesInWindow: 1000,
		MaxEntrySize:       64,
	}
	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		panic(fmt.Errorf("error get default cache for test"))
	}
	return cache
}
