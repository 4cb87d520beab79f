package consensus

import (
	cstypes "chainbft_vote/consensus/types"
	"chainbft_vote/types"

	"github.com/pkg/errors"
)

var (
	ErrStaleVote          = errors.New("stale vote")
	ErrSlotFinished       = errors.New("slot already finished")
	ErrVoteTimeout        = errors.New("timed out waiting for vote result")
	ErrWrongSlot          = errors.New("message belongs to another slot")
	ErrReservedVoteRound  = errors.New("vote round is reserved")
	ErrFutureBufferFull   = errors.New("too many future slot positions buffered")
	ErrInvalidSignature   = errors.New("invalid vote signature")
	ErrNotCommitteeMember = errors.New("signer is not a committee member")
	ErrUnknownSlot        = errors.New("no active slot for height")
	ErrStaleSlot          = errors.New("slot height is below an already started height")
	ErrVoteQueueFull      = errors.New("vote queue is full")

	ErrCommitteeSizeMismatch = errors.New("committee size differs from the committee source")

	ErrDuplicateVote     = cstypes.ErrDuplicateVote
	ErrInvalidThresholds = types.ErrInvalidThresholds
)
