package types

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// VoteStage 一轮投票内部的阶段，类似tendermint的prevote/precommit
type VoteStage uint8

const (
	VoteStageOne = VoteStage(1)
	VoteStageTwo = VoteStage(2)
)

// FinalVoteRound 保留的哨兵轮次：高度已经通过其他途径确认时使用
const FinalVoteRound = uint8(math.MaxUint8)

func (s VoteStage) IsValid() bool {
	return s == VoteStageOne || s == VoteStageTwo
}

func (s VoteStage) String() string {
	switch s {
	case VoteStageOne:
		return "StageOne"
	case VoteStageTwo:
		return "StageTwo"
	default:
		return "UnknownStage"
	}
}

var (
	ErrVoteInvalidStage     = errors.New("invalid vote stage")
	ErrVoteNoBlockHash      = errors.New("vote had no block hash")
	ErrVoteInvalidSigner    = errors.New("vote signer address is the wrong size")
	ErrVoteNoSignature      = errors.New("vote had no signature")
	ErrVoteWrongChain       = errors.New("vote belongs to another chain")
	ErrVoteSignatureInvalid = errors.New("vote signature error")
)

// VoteMessage - 某个验证者在某个slot某一轮某一阶段对区块的投票，收到后不可修改
type VoteMessage struct {
	ChainID       string           `json:"chain_id"`
	Height        uint64           `json:"height"`
	RoundIndex    uint64           `json:"round_index"`
	PackingIndex  uint32           `json:"packing_index"`
	VoteRound     uint8            `json:"vote_round"`
	VoteStage     VoteStage        `json:"vote_stage"`
	BlockHash     tmbytes.HexBytes `json:"block_hash"`
	SignerAddress Address          `json:"signer_address"`
	Signature     tmbytes.HexBytes `json:"signature"`
	SentTime      time.Time        `json:"sent_time"`
}

func (vote *VoteMessage) ValidateBasic() error {
	if !vote.VoteStage.IsValid() {
		return ErrVoteInvalidStage
	}
	if len(vote.BlockHash) == 0 {
		return ErrVoteNoBlockHash
	}
	if len(vote.SignerAddress) != crypto.AddressSize {
		return ErrVoteInvalidSigner
	}
	if len(vote.Signature) == 0 {
		return ErrVoteNoSignature
	}
	return nil
}

// Position 投票在slot内的位置
func (vote *VoteMessage) Position() VotePosition {
	return VotePosition{
		RoundIndex:   vote.RoundIndex,
		PackingIndex: vote.PackingIndex,
		VoteRound:    vote.VoteRound,
		VoteStage:    vote.VoteStage,
	}
}

// Copy 深拷贝，合并时不能和调用方共享切片
func (vote *VoteMessage) Copy() *VoteMessage {
	cp := *vote
	cp.BlockHash = append(tmbytes.HexBytes(nil), vote.BlockHash...)
	cp.SignerAddress = append(Address(nil), vote.SignerAddress...)
	cp.Signature = append(tmbytes.HexBytes(nil), vote.Signature...)
	return &cp
}

func (vote *VoteMessage) String() string {
	if vote == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{%v/%d/%d/%d/%v %X by %v}",
		vote.Height, vote.RoundIndex, vote.PackingIndex, vote.VoteRound, vote.VoteStage,
		tmbytes.Fingerprint(vote.BlockHash), vote.SignerAddress)
}

// VotePosition (roundIndex, packingIndex, voteRound, voteStage)，按字典序比较
type VotePosition struct {
	RoundIndex   uint64
	PackingIndex uint32
	VoteRound    uint8
	VoteStage    VoteStage
}

// Compare 返回-1/0/1
func (p VotePosition) Compare(o VotePosition) int {
	switch {
	case p.RoundIndex != o.RoundIndex:
		return cmpUint64(p.RoundIndex, o.RoundIndex)
	case p.PackingIndex != o.PackingIndex:
		return cmpUint64(uint64(p.PackingIndex), uint64(o.PackingIndex))
	case p.VoteRound != o.VoteRound:
		return cmpUint64(uint64(p.VoteRound), uint64(o.VoteRound))
	default:
		return cmpUint64(uint64(p.VoteStage), uint64(o.VoteStage))
	}
}

// SameSlot 只比较出块位置(roundIndex, packingIndex)
func (p VotePosition) SameSlot(o VotePosition) bool {
	return p.RoundIndex == o.RoundIndex && p.PackingIndex == o.PackingIndex
}

func cmpUint64(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

type canonicalVote struct {
	ChainID      string           `json:"chain_id"`
	Height       uint64           `json:"height"`
	RoundIndex   uint64           `json:"round_index"`
	PackingIndex uint32           `json:"packing_index"`
	VoteRound    uint8            `json:"vote_round"`
	VoteStage    VoteStage        `json:"vote_stage"`
	BlockHash    tmbytes.HexBytes `json:"block_hash"`
	Signer       Address          `json:"signer"`
	SentTime     time.Time        `json:"sent_time"`
}

// VoteSignBytes 返回投票需要签名的字节，不包含签名本身
func VoteSignBytes(chainID string, vote *VoteMessage) []byte {
	bz, err := tmjson.Marshal(canonicalVote{
		ChainID:      chainID,
		Height:       vote.Height,
		RoundIndex:   vote.RoundIndex,
		PackingIndex: vote.PackingIndex,
		VoteRound:    vote.VoteRound,
		VoteStage:    vote.VoteStage,
		BlockHash:    vote.BlockHash,
		Signer:       vote.SignerAddress,
		SentTime:     vote.SentTime,
	})
	if err != nil {
		panic(err)
	}
	return bz
}

// SignVote 用本节点的签名器给投票签名
func SignVote(signer Signer, chainID string, vote *VoteMessage) error {
	sig, err := signer.Sign(VoteSignBytes(chainID, vote))
	if err != nil {
		return errors.Wrap(err, "error signing vote")
	}
	vote.Signature = sig
	return nil
}

// VerifyVote 用签名者的公钥验证投票
func VerifyVote(verifier Verifier, chainID string, vote *VoteMessage, pubKey []byte) error {
	if vote.ChainID != chainID {
		return ErrVoteWrongChain
	}
	if !verifier.AddressOf(pubKey).Equal(vote.SignerAddress) {
		return ErrVoteSignatureInvalid
	}
	if !verifier.Verify(VoteSignBytes(chainID, vote), vote.Signature, pubKey) {
		return ErrVoteSignatureInvalid
	}
	return nil
}
