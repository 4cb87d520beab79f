package types

import (
	"sort"
	"time"

	"chainbft_vote/types"
)

// VoteRoundData 一次投票尝试，包含两个阶段
//
// NOTE: Not goroutine-safe. 由所属的VoteData独占
type VoteRoundData struct {
	CreatedAt time.Time

	participants map[types.NodeID]struct{}
	stageOne     *VoteStageData
	stageTwo     *VoteStageData
	finished     bool
}

func NewVoteRoundData(createdAt time.Time) *VoteRoundData {
	return &VoteRoundData{
		CreatedAt:    createdAt,
		participants: make(map[types.NodeID]struct{}),
		stageOne:     NewVoteStageData(types.VoteStageOne),
		stageTwo:     NewVoteStageData(types.VoteStageTwo),
	}
}

// Stage 非法阶段返回nil
func (rd *VoteRoundData) Stage(stage types.VoteStage) *VoteStageData {
	switch stage {
	case types.VoteStageOne:
		return rd.stageOne
	case types.VoteStageTwo:
		return rd.stageTwo
	default:
		return nil
	}
}

func (rd *VoteRoundData) AddParticipant(nodeID types.NodeID) {
	if nodeID.IsEmpty() {
		return
	}
	rd.participants[nodeID] = struct{}{}
}

func (rd *VoteRoundData) HasParticipant(nodeID types.NodeID) bool {
	_, ok := rd.participants[nodeID]
	return ok
}

func (rd *VoteRoundData) Participants() []types.NodeID {
	ids := make([]types.NodeID, 0, len(rd.participants))
	for id := range rd.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (rd *VoteRoundData) IsFinished() bool {
	return rd.finished
}

// MarkFinished 只在第二阶段结果确定时调用
func (rd *VoteRoundData) MarkFinished() {
	rd.finished = true
}

// Size 两个阶段的总票数
func (rd *VoteRoundData) Size() int {
	return rd.stageOne.Size() + rd.stageTwo.Size()
}
