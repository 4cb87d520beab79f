package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

func testRecords(n int) []PeerRecord {
	records := make([]PeerRecord, n)
	for i := 0; i < n; i++ {
		pub := []byte(fmt.Sprintf("pub-%d", i))
		records[i] = PeerRecord{
			Address:   types.AddressFromPubKey(pub),
			PublicKey: pub,
			NodeID:    types.NodeID(fmt.Sprintf("id%d@127.0.0.1:%d", i, 26656+i)),
			FailCount: i,
		}
	}
	return records
}

func TestDirectoryRoundTrip(t *testing.T) {
	kv := NewMockStore()
	defer kv.Close()

	records := testRecords(3)
	require.NoError(t, kv.SaveDirectory("chain-a", records))
	require.NoError(t, kv.SaveDirectory("chain-b", testRecords(1)))

	loaded, err := kv.LoadDirectory("chain-a")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	byAddr := make(map[string]PeerRecord)
	for _, rec := range loaded {
		byAddr[rec.Address.Key()] = rec
	}
	for _, rec := range records {
		assert.Equal(t, rec, byAddr[rec.Address.Key()])
	}

	// 覆盖保存时删除旧的目录项
	require.NoError(t, kv.SaveDirectory("chain-a", records[:1]))
	loaded, err = kv.LoadDirectory("chain-a")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	other, err := kv.LoadDirectory("chain-b")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	empty, err := kv.LoadDirectory("chain-c")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// 重启后目录还在
func TestDirectorySurvivesReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "directory_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	kv, err := NewKVStore("directory", dir, GoLevelDBBackend, log.TestingLogger())
	require.NoError(t, err)
	require.NoError(t, kv.SaveDirectory("chain-a", testRecords(2)))
	require.NoError(t, kv.Close())

	kv, err = NewKVStore("directory", dir, GoLevelDBBackend, log.TestingLogger())
	require.NoError(t, err)
	defer kv.Close()
	loaded, err := kv.LoadDirectory("chain-a")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestNewKVStoreBackends(t *testing.T) {
	kv, err := NewKVStore("directory", "", MemDBBackend, log.TestingLogger())
	require.NoError(t, err)
	require.NoError(t, kv.SaveDirectory("chain-a", testRecords(1)))
	loaded, err := kv.LoadDirectory("chain-a")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	require.NoError(t, kv.Close())

	_, err = NewKVStore("directory", "", "cleveldb", log.TestingLogger())
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
