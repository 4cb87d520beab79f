package store

import (
	"bytes"
	"fmt"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"
)

const (
	tableDirectory = "directory"
)

// 支持的db_backend
const (
	GoLevelDBBackend = "goleveldb"
	MemDBBackend     = "memdb"
)

var ErrUnknownBackend = errors.New("unknown db backend")

// Store 验证者目录的持久化，节点重启后用来预热连接
type Store interface {
	SaveDirectory(chainID string, records []PeerRecord) error
	LoadDirectory(chainID string) ([]PeerRecord, error)
	Close() error
}

// PeerRecord 目录项中需要持久化的部分，连接状态不保存
type PeerRecord struct {
	Address   types.Address `json:"address"`
	PublicKey []byte        `json:"public_key"`
	NodeID    types.NodeID  `json:"node_id"`
	FailCount int           `json:"fail_count"`
}

func NewKVStore(name, dir, backend string, logger log.Logger) (*KVStore, error) {
	var db tmdb.DB
	switch backend {
	case GoLevelDBBackend:
		levelDB, err := leveldb.NewDB(name, dir)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s db in %s", backend, dir)
		}
		db = levelDB
	case MemDBBackend:
		db = memdb.NewDB()
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
	return NewKVStoreWithDB(db, logger), nil
}

func NewKVStoreWithDB(kvdb tmdb.DB, logger log.Logger) *KVStore {
	return &KVStore{kvDB: kvdb, logger: logger}
}

// KVStore 基于tm-db的Store实现
type KVStore struct {
	kvDB tmdb.DB

	logger log.Logger
}

var _ Store = (*KVStore)(nil)

// SaveDirectory 覆盖某条链的全部目录项
// table definition：
// directory table: key=directory/{chainID}/{address}; value=tmjson(PeerRecord)
func (kv *KVStore) SaveDirectory(chainID string, records []PeerRecord) error {
	var batch tmdb.Batch = nil
	defer func() {
		if batch != nil {
			batch.Close()
		}
	}()

	stale, err := kv.keys(chainID)
	if err != nil {
		return err
	}

	batch = kv.kvDB.NewBatch()
	for _, key := range stale {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	for _, rec := range records {
		bz, err := tmjson.Marshal(rec)
		if err != nil {
			return err
		}
		if err := batch.Set(genKey(tableDirectory, chainID, rec.Address), bz); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	if err := batch.Close(); err != nil {
		return err
	}
	batch = nil
	return nil
}

func (kv *KVStore) LoadDirectory(chainID string) ([]PeerRecord, error) {
	it, err := tmdb.IteratePrefix(kv.kvDB, genPrefix(tableDirectory, chainID))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var records []PeerRecord
	for ; it.Valid(); it.Next() {
		var rec PeerRecord
		if err := tmjson.Unmarshal(it.Value(), &rec); err != nil {
			kv.logger.Error("skip broken directory record", "key", string(it.Key()), "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, it.Error()
}

func (kv *KVStore) keys(chainID string) ([][]byte, error) {
	it, err := tmdb.IteratePrefix(kv.kvDB, genPrefix(tableDirectory, chainID))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var keys [][]byte
	for ; it.Valid(); it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return keys, it.Error()
}

func (kv *KVStore) Close() error {
	return kv.kvDB.Close()
}

func (kv *KVStore) GetDB() tmdb.DB {
	return kv.kvDB
}

func genPrefix(table, chainID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", table, chainID))
}

func genKey(table, chainID string, addr types.Address) []byte {
	buffer := new(bytes.Buffer)
	buffer.Write(genPrefix(table, chainID))
	buffer.WriteString(addr.String())
	return buffer.Bytes()
}
