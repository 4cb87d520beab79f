package types

import (
	"fmt"
	"sync"
	"time"

	"chainbft_vote/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// VoteResultData 一个阶段的最终结果，创建后不可修改
type VoteResultData struct {
	Success              bool                        `json:"success"`
	WinningBlockHash     tmbytes.HexBytes            `json:"winning_block_hash"`
	AggregatedSignatures []types.AggregatedSignature `json:"aggregated_signatures"`
}

func (r *VoteResultData) String() string {
	if r == nil {
		return "nil-VoteResult"
	}
	return fmt.Sprintf("VoteResult{%v %X sigs:%d}", r.Success, tmbytes.Fingerprint(r.WinningBlockHash), len(r.AggregatedSignatures))
}

// VoteResult 只能被设置一次的结果，重复设置直接忽略
type VoteResult struct {
	once sync.Once
	done chan struct{}
	data *VoteResultData
}

func NewVoteResult() *VoteResult {
	return &VoteResult{done: make(chan struct{})}
}

// Resolve 返回这次调用是否真正设置了结果
func (r *VoteResult) Resolve(data *VoteResultData) bool {
	resolved := false
	r.once.Do(func() {
		r.data = data
		close(r.done)
		resolved = true
	})
	return resolved
}

func (r *VoteResult) IsResolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Peek 不阻塞地读取结果
func (r *VoteResult) Peek() (*VoteResultData, bool) {
	if !r.IsResolved() {
		return nil, false
	}
	return r.data, true
}

func (r *VoteResult) Done() <-chan struct{} {
	return r.done
}

// Wait 最多等待timeout，超时返回false
func (r *VoteResult) Wait(timeout time.Duration) (*VoteResultData, bool) {
	if data, ok := r.Peek(); ok {
		return data, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.data, true
	case <-timer.C:
		return nil, false
	}
}
