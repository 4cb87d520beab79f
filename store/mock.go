package store

import (
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

// NewMockStore 内存中的Store，测试和不需要持久化时使用
func NewMockStore() *KVStore {
	return NewKVStoreWithDB(memdb.NewDB(), log.NewNopLogger())
}
