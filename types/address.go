package types

import (
	"bytes"

	"github.com/tendermint/tendermint/crypto"
)

type Address crypto.Address

// AddressFromPubKey 按tendermint的规则由公钥字节推导地址 - tmhash截断
func AddressFromPubKey(pubKey []byte) Address {
	return Address(crypto.AddressHash(pubKey))
}

func (addr Address) Equal(other Address) bool {
	if addr == nil || other == nil {
		return false
	}
	return bytes.Equal(crypto.Address(addr), crypto.Address(other))
}

// Key 用作map的key
func (addr Address) Key() string {
	return string(addr)
}

func (addr Address) String() string {
	return crypto.Address(addr).String()
}

// Compare 按字节序比较两个地址，用来给聚合签名排序
func (addr Address) Compare(other Address) int {
	return bytes.Compare(addr, other)
}
