package consensus

import (
	"testing"
	"time"

	"chainbft_vote/config"
	"chainbft_vote/types"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
)

func newTestVoting(t *testing.T, tc *testCommittee, cfg *config.VotingConfig) *Voting {
	if cfg == nil {
		cfg = config.DefaultVotingConfig()
	}
	v, err := NewVoting(tc.chainContext(0), cfg)
	require.NoError(t, err)
	return v
}

func beginTestSlot(t *testing.T, v *Voting, height uint64) *VoteData {
	params := testSlotParams(4)
	params.Height = height
	vd, err := v.BeginSlot(params)
	require.NoError(t, err)
	return vd
}

func TestVotingVerifiesVotes(t *testing.T) {
	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)
	vd := beginTestSlot(t, v, testHeight)

	vote := tc.signedVote(t, 1, testHeight, 0, types.VoteStageOne, hashA)
	require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(1)}))
	assert.True(t, vd.IsDuplicate(0, types.VoteStageOne, vote.SignerAddress))

	// 篡改后签名无效
	forged := tc.signedVote(t, 2, testHeight, 0, types.VoteStageOne, hashA)
	forged.BlockHash = hashB
	err := v.handleVote(voteInfo{Vote: forged, NodeID: testNode(2)})
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.False(t, vd.IsDuplicate(0, types.VoteStageOne, forged.SignerAddress))

	// 不在委员会中的签名者
	outsider := newTestCommittee(1)
	foreign := outsider.signedVote(t, 0, testHeight, 0, types.VoteStageOne, hashA)
	err = v.handleVote(voteInfo{Vote: foreign, NodeID: testNode(9)})
	assert.True(t, errors.Is(err, ErrNotCommitteeMember))

	// 缺少签名
	unsigned := tc.signedVote(t, 3, testHeight, 0, types.VoteStageOne, hashA)
	unsigned.Signature = nil
	assert.Equal(t, types.ErrVoteNoSignature, v.handleVote(voteInfo{Vote: unsigned, NodeID: testNode(3)}))
	assert.EqualValues(t, 3, v.Metrics().RejectedVotes.Count())
}

func TestVotingBuffersFutureHeight(t *testing.T) {
	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)
	beginTestSlot(t, v, testHeight)

	next := testHeight + 1
	for i := 0; i < 3; i++ {
		vote := tc.signedVote(t, i, next, 0, types.VoteStageOne, hashA)
		require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(i)}))
	}
	assert.Nil(t, v.Slot(next))

	vd := beginTestSlot(t, v, next)
	_, stage := vd.CurrentPosition()
	assert.Equal(t, types.VoteStageTwo, stage)
	assert.Nil(t, v.Slot(testHeight))
	assert.False(t, v.future.Contains(next))

	// 已经过去的高度
	stale := tc.signedVote(t, 3, testHeight, 0, types.VoteStageOne, hashA)
	assert.Equal(t, ErrStaleVote, v.handleVote(voteInfo{Vote: stale, NodeID: testNode(3)}))

	params := testSlotParams(4)
	_, err := v.BeginSlot(params)
	assert.True(t, errors.Is(err, ErrStaleSlot))
}

func TestVotingCarriesFuturePosition(t *testing.T) {
	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)
	beginTestSlot(t, v, testHeight)

	// 下一个出块位置的投票先缓存在当前slot
	for i := 0; i < 2; i++ {
		vote := tc.signedVote(t, i, testHeight, 0, types.VoteStageOne, hashA)
		vote.PackingIndex = testPackingIndex + 1
		require.NoError(t, types.SignVote(tc.identities[i], testChainID, vote))
		require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(i)}))
	}

	params := testSlotParams(4)
	params.PackingIndex = testPackingIndex + 1
	vd, err := v.BeginSlot(params)
	require.NoError(t, err)

	snap := vd.Snapshot()
	require.Len(t, snap.Rounds, 1)
	assert.Equal(t, 2, snap.Rounds[0].StageOneVotes)
	assert.Equal(t, []types.NodeID{testNode(0), testNode(1)}, snap.Rounds[0].Participants)
}

func TestVotingCommitteeSizeFromSource(t *testing.T) {
	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)

	// 调用方给出的规模和委员会来源不一致
	params := testSlotParams(4)
	params.CommitteeSize = 7
	params.Thresholds = types.DefaultThresholds(7)
	_, err := v.BeginSlot(params)
	assert.True(t, errors.Is(err, ErrCommitteeSizeMismatch))
	assert.Nil(t, v.Slot(testHeight))

	// 不指定时使用委员会来源的规模
	params = testSlotParams(4)
	params.CommitteeSize = 0
	vd, err := v.BeginSlot(params)
	require.NoError(t, err)
	assert.Equal(t, 4, vd.Params().CommitteeSize)

	// 两票投给A、一票投给B：剩余一票仍可能让A通过，不能提前失败
	vote := tc.signedVote(t, 0, testHeight, 0, types.VoteStageOne, hashA)
	require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(0)}))
	vote = tc.signedVote(t, 1, testHeight, 0, types.VoteStageOne, hashA)
	require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(1)}))
	vote = tc.signedVote(t, 2, testHeight, 0, types.VoteStageOne, hashB)
	require.NoError(t, v.handleVote(voteInfo{Vote: vote, NodeID: testNode(2)}))
	_, err = vd.Get(0, types.VoteStageOne, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrVoteTimeout))
}

func TestVotingSubmitQueueFull(t *testing.T) {
	tc := newTestCommittee(4)
	cfg := config.DefaultVotingConfig()
	cfg.QueueSize = 1
	v := newTestVoting(t, tc, cfg)

	vote := tc.signedVote(t, 0, testHeight, 0, types.VoteStageOne, hashA)
	require.NoError(t, v.Submit(vote, testNode(0)))
	assert.Equal(t, ErrVoteQueueFull, v.Submit(vote, testNode(0)))
}

func TestVotingUnknownSlot(t *testing.T) {
	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)

	_, err := v.GetResult(testHeight, 0, types.VoteStageOne, time.Millisecond)
	assert.True(t, errors.Is(err, ErrUnknownSlot))
	err = v.ObserveCandidateBlock(makeHeader(hashA))
	assert.True(t, errors.Is(err, ErrUnknownSlot))
}

func TestVotingEndToEnd(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	tc := newTestCommittee(4)
	v := newTestVoting(t, tc, nil)
	done := make(chan VoteResultEvent, 4)
	require.NoError(t, v.chain.Events.AddListenerForEvent("test", EventVoteResult, func(data events.EventData) {
		done <- data.(VoteResultEvent)
	}))

	require.NoError(t, v.Start())
	defer func() {
		require.NoError(t, v.Stop())
	}()

	beginTestSlot(t, v, testHeight)
	require.NoError(t, v.ObserveCandidateBlock(makeHeader(hashA)))
	for _, stage := range []types.VoteStage{types.VoteStageOne, types.VoteStageTwo} {
		for i := 0; i < 4; i++ {
			require.NoError(t, v.Submit(tc.signedVote(t, i, testHeight, 0, stage, hashA), testNode(i)))
		}
	}

	res, err := v.GetResult(testHeight, 0, types.VoteStageTwo, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, hashA, res.WinningBlockHash)
	assert.Len(t, res.AggregatedSignatures, 3)
	assert.True(t, v.Slot(testHeight).IsFinished())

	select {
	case ev := <-done:
		assert.Equal(t, types.VoteStageOne, ev.VoteStage)
	case <-time.After(time.Second):
		t.Fatal("no vote result event")
	}
}
