package consensus

import "chainbft_vote/types"

// VoteClass 投票相对slot当前位置的分类
type VoteClass uint8

const (
	VoteClassPrevious = VoteClass(iota)
	VoteClassCurrentStageOne
	VoteClassCurrentStageTwo
	VoteClassFuture
)

func (c VoteClass) String() string {
	switch c {
	case VoteClassPrevious:
		return "Previous"
	case VoteClassCurrentStageOne:
		return "CurrentStageOne"
	case VoteClassCurrentStageTwo:
		return "CurrentStageTwo"
	case VoteClassFuture:
		return "Future"
	default:
		return "UnknownClass"
	}
}

// classifyPosition 按 (roundIndex, packingIndex, voteRound, voteStage) 的字典序比较
func classifyPosition(msg, current types.VotePosition) VoteClass {
	switch cmp := msg.Compare(current); {
	case cmp < 0:
		return VoteClassPrevious
	case cmp > 0:
		return VoteClassFuture
	case msg.VoteStage == types.VoteStageOne:
		return VoteClassCurrentStageOne
	default:
		return VoteClassCurrentStageTwo
	}
}
