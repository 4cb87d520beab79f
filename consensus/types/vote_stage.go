package types

import (
	"bytes"
	"sort"

	"chainbft_vote/types"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrWrongStage    = errors.New("vote belongs to another stage")
)

// VoteStageData 一个阶段收集到的投票
// 每个地址最多计一票，后到的重复票直接跳过
//
// NOTE: Not goroutine-safe. 由VoteData的锁保护
type VoteStageData struct {
	stage types.VoteStage

	messages map[string]*types.VoteMessage // address -> vote
	counts   map[string]int                // blockHash -> 票数
	result   *VoteResult
}

func NewVoteStageData(stage types.VoteStage) *VoteStageData {
	return &VoteStageData{
		stage:    stage,
		messages: make(map[string]*types.VoteMessage),
		counts:   make(map[string]int),
		result:   NewVoteResult(),
	}
}

func (sd *VoteStageData) Stage() types.VoteStage {
	return sd.stage
}

func (sd *VoteStageData) HasVoted(addr types.Address) bool {
	_, ok := sd.messages[addr.Key()]
	return ok
}

// AddVote 拷贝后计入，重复地址返回ErrDuplicateVote
func (sd *VoteStageData) AddVote(vote *types.VoteMessage) error {
	if vote.VoteStage != sd.stage {
		return ErrWrongStage
	}
	if sd.HasVoted(vote.SignerAddress) {
		return ErrDuplicateVote
	}
	cp := vote.Copy()
	sd.messages[cp.SignerAddress.Key()] = cp
	sd.counts[string(cp.BlockHash)]++
	return nil
}

// Size 已计入的票数
func (sd *VoteStageData) Size() int {
	return len(sd.messages)
}

func (sd *VoteStageData) CountFor(blockHash []byte) int {
	return sd.counts[string(blockHash)]
}

// Leader 得票最多的hash，票数相同时取字节序大的hash
func (sd *VoteStageData) Leader() ([]byte, int) {
	var (
		best  []byte
		count int
	)
	for hash, c := range sd.counts {
		h := []byte(hash)
		if c > count || (c == count && bytes.Compare(h, best) > 0) {
			best, count = h, c
		}
	}
	return best, count
}

// Votes 按地址排序的投票拷贝，用于合并重放
func (sd *VoteStageData) Votes() []*types.VoteMessage {
	votes := make([]*types.VoteMessage, 0, len(sd.messages))
	for _, v := range sd.messages {
		votes = append(votes, v.Copy())
	}
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].SignerAddress.Compare(votes[j].SignerAddress) < 0
	})
	return votes
}

// Signatures 投给blockHash的签名，按地址排序
func (sd *VoteStageData) Signatures(blockHash []byte) []types.AggregatedSignature {
	sigs := make([]types.AggregatedSignature, 0, sd.CountFor(blockHash))
	for _, v := range sd.Votes() {
		if bytes.Equal(v.BlockHash, blockHash) {
			sigs = append(sigs, types.AggregatedSignature{Address: v.SignerAddress, Signature: v.Signature})
		}
	}
	return sigs
}

func (sd *VoteStageData) Result() *VoteResult {
	return sd.result
}

// Evaluate 根据门限判断该阶段能否给出结果
// 某个hash达到MinPass -> 成功；剩余未投票的全部投给领先者也达不到MinPass -> 失败
func (sd *VoteStageData) Evaluate(th types.Thresholds, committeeSize int) (*VoteResultData, bool) {
	hash, count := sd.Leader()
	if count >= th.MinPass {
		return &VoteResultData{
			Success:              true,
			WinningBlockHash:     append([]byte(nil), hash...),
			AggregatedSignatures: sd.Signatures(hash),
		}, true
	}
	remaining := committeeSize - sd.Size()
	if remaining < 0 {
		remaining = 0
	}
	if count+remaining < th.MinPass {
		return &VoteResultData{Success: false}, true
	}
	return nil, false
}

// IsSplit 总票数达到MinCover但没有任何hash达到MinPass
func (sd *VoteStageData) IsSplit(th types.Thresholds) bool {
	_, count := sd.Leader()
	return sd.Size() >= th.MinCover && count < th.MinPass
}
