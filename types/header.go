package types

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// BlockHeader 候选区块头，投票模块只关心它的位置和hash
type BlockHeader struct {
	ChainID      string           `json:"chain_id"`
	Height       uint64           `json:"height"`
	RoundIndex   uint64           `json:"round_index"`
	PackingIndex uint32           `json:"packing_index"`
	ParentHash   tmbytes.HexBytes `json:"parent_hash"`
	Proposer     Address          `json:"proposer"`
	ProposalTime time.Time        `json:"proposal_time"`

	Hash tmbytes.HexBytes `json:"hash"` // 由外部的出块模块计算
}

func (h *BlockHeader) ValidateBasic() error {
	if h == nil {
		return errors.New("nil header")
	}
	if len(h.Hash) == 0 {
		return errors.New("header had no hash")
	}
	return nil
}

// SameSlot 判断区块头是否属于(height, roundIndex, packingIndex)这个slot
func (h *BlockHeader) SameSlot(height, roundIndex uint64, packingIndex uint32) bool {
	return h.Height == height && h.RoundIndex == roundIndex && h.PackingIndex == packingIndex
}

// Copy 深拷贝
func (h *BlockHeader) Copy() *BlockHeader {
	if h == nil {
		return nil
	}
	cp := *h
	cp.ParentHash = append(tmbytes.HexBytes(nil), h.ParentHash...)
	cp.Proposer = append(Address(nil), h.Proposer...)
	cp.Hash = append(tmbytes.HexBytes(nil), h.Hash...)
	return &cp
}

func (h *BlockHeader) String() string {
	if h == nil {
		return "nil-Header"
	}
	return fmt.Sprintf("Header{%v/%d/%d %X}", h.Height, h.RoundIndex, h.PackingIndex, tmbytes.Fingerprint(h.Hash))
}

// CompareHash 区块hash的字节序比较，分叉时hash大的作为主区块
func CompareHash(a, b *BlockHeader) int {
	return bytes.Compare(a.Hash, b.Hash)
}
