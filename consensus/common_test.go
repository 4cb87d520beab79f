package consensus

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"chainbft_vote/crypto"
	"chainbft_vote/types"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	"github.com/tendermint/tendermint/libs/log"
	tmtime "github.com/tendermint/tendermint/types/time"
)

const (
	testChainID      = "consensus-test"
	testHeight       = uint64(10)
	testRoundIndex   = uint64(2)
	testPackingIndex = uint32(1)
)

var (
	hashA = bytes.Repeat([]byte{0xaa}, tmhash.Size)
	hashB = bytes.Repeat([]byte{0x0b}, tmhash.Size)
)

// testAddresses 按字节序排好的n个地址
func testAddresses(n int) []types.Address {
	addrs := make([]types.Address, n)
	for i := range addrs {
		addrs[i] = types.AddressFromPubKey([]byte(fmt.Sprintf("validator-%d", i)))
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	return addrs
}

func testNode(i int) types.NodeID {
	return types.NodeID(fmt.Sprintf("%040x@10.0.0.%d:26656", i+1, i+1))
}

func testSlotParams(n int) SlotParams {
	return SlotParams{
		ChainID:       testChainID,
		Height:        testHeight,
		RoundIndex:    testRoundIndex,
		PackingIndex:  testPackingIndex,
		CommitteeSize: n,
		Thresholds:    types.DefaultThresholds(n),
	}
}

func newTestVoteData(t *testing.T, n int, opts ...VoteDataOption) *VoteData {
	vd, err := NewVoteData(testSlotParams(n), opts...)
	require.NoError(t, err)
	vd.SetLogger(log.TestingLogger())
	return vd
}

func makeVote(addr types.Address, voteRound uint8, stage types.VoteStage, hash []byte) *types.VoteMessage {
	return &types.VoteMessage{
		ChainID:       testChainID,
		Height:        testHeight,
		RoundIndex:    testRoundIndex,
		PackingIndex:  testPackingIndex,
		VoteRound:     voteRound,
		VoteStage:     stage,
		BlockHash:     hash,
		SignerAddress: addr,
		Signature:     tmhash.Sum(append(append([]byte{}, addr...), hash...)),
		SentTime:      tmtime.Now(),
	}
}

func makeHeader(hash []byte) *types.BlockHeader {
	return &types.BlockHeader{
		ChainID:      testChainID,
		Height:       testHeight,
		RoundIndex:   testRoundIndex,
		PackingIndex: testPackingIndex,
		ProposalTime: tmtime.Now(),
		Hash:         hash,
	}
}

// addVotes n个地址依次投票，要求全部被接受
func addVotes(t *testing.T, vd *VoteData, addrs []types.Address, voteRound uint8, stage types.VoteStage, hash []byte) {
	for i, addr := range addrs {
		_, err := vd.AddVote(makeVote(addr, voteRound, stage, hash), testNode(i))
		require.NoError(t, err)
	}
}

// ----- 带真实签名的委员会 -----

type testCommittee struct {
	identities []*crypto.Identity
	committee  *types.StaticCommittee
}

func newTestCommittee(n int) *testCommittee {
	tc := &testCommittee{committee: types.NewStaticCommittee()}
	vals := make([]*types.Validator, n)
	for i := 0; i < n; i++ {
		id := crypto.GenIdentity()
		tc.identities = append(tc.identities, id)
		vals[i] = types.NewValidator(id.PubKey(), fmt.Sprintf("v%d", i))
	}
	tc.committee.SetValidators(testChainID, types.NewValidatorSet(vals))
	return tc
}

func (tc *testCommittee) chainContext(i int) *types.ChainContext {
	return types.NewChainContext(testChainID, testNode(i), tc.identities[i], tc.committee, nil, log.TestingLogger())
}

func (tc *testCommittee) signedVote(t *testing.T, i int, height uint64, voteRound uint8, stage types.VoteStage, hash []byte) *types.VoteMessage {
	vote := &types.VoteMessage{
		ChainID:       testChainID,
		Height:        height,
		RoundIndex:    testRoundIndex,
		PackingIndex:  testPackingIndex,
		VoteRound:     voteRound,
		VoteStage:     stage,
		BlockHash:     hash,
		SignerAddress: tc.identities[i].Address(),
		SentTime:      tmtime.Now(),
	}
	require.NoError(t, types.SignVote(tc.identities[i], testChainID, vote))
	return vote
}
