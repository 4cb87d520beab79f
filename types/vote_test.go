package types

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

func newTestVote(signer *testSigner, round uint8, stage VoteStage) *VoteMessage {
	return &VoteMessage{
		ChainID:       "VOTE_TEST",
		Height:        10,
		RoundIndex:    2,
		PackingIndex:  1,
		VoteRound:     round,
		VoteStage:     stage,
		BlockHash:     tmhash.Sum([]byte("block")),
		SignerAddress: signer.address(),
		SentTime:      time.Unix(1600000000, 0).UTC(),
	}
}

func TestVoteSignAndVerify(t *testing.T) {
	signer := newTestSigner(0)
	vote := newTestVote(signer, 0, VoteStageOne)
	require.NoError(t, SignVote(signer, "VOTE_TEST", vote))
	require.NoError(t, vote.ValidateBasic())

	assert.NoError(t, VerifyVote(signer, "VOTE_TEST", vote, signer.pubKey))

	// 其他验证者的公钥
	other := newTestSigner(1)
	assert.True(t, errors.Is(VerifyVote(signer, "VOTE_TEST", vote, other.pubKey), ErrVoteSignatureInvalid))

	// 链不一致
	assert.True(t, errors.Is(VerifyVote(signer, "OTHER", vote, signer.pubKey), ErrVoteWrongChain))

	// 篡改字段后签名失效
	tampered := vote.Copy()
	tampered.VoteRound = 3
	assert.Error(t, VerifyVote(signer, "VOTE_TEST", tampered, signer.pubKey))
}

func TestVoteValidateBasic(t *testing.T) {
	signer := newTestSigner(0)
	vote := newTestVote(signer, 0, VoteStageOne)
	assert.Equal(t, ErrVoteNoSignature, vote.ValidateBasic())

	vote.Signature = []byte{1}
	vote.VoteStage = VoteStage(3)
	assert.Equal(t, ErrVoteInvalidStage, vote.ValidateBasic())

	vote.VoteStage = VoteStageTwo
	vote.BlockHash = nil
	assert.Equal(t, ErrVoteNoBlockHash, vote.ValidateBasic())

	vote.BlockHash = []byte{1}
	vote.SignerAddress = Address{1, 2}
	assert.Equal(t, ErrVoteInvalidSigner, vote.ValidateBasic())
}

func TestVoteCopyDoesNotAlias(t *testing.T) {
	signer := newTestSigner(0)
	vote := newTestVote(signer, 0, VoteStageOne)
	cp := vote.Copy()
	cp.BlockHash[0] ^= 0xff
	assert.NotEqual(t, vote.BlockHash, cp.BlockHash)
}

// 位置比较是全序: 反对称且可传递
func TestVotePositionTotalOrder(t *testing.T) {
	var positions []VotePosition
	for _, ri := range []uint64{0, 1} {
		for _, pi := range []uint32{0, 2} {
			for _, vr := range []uint8{0, 1, FinalVoteRound} {
				for _, st := range []VoteStage{VoteStageOne, VoteStageTwo} {
					positions = append(positions, VotePosition{ri, pi, vr, st})
				}
			}
		}
	}
	for i, a := range positions {
		for j, b := range positions {
			ab, ba := a.Compare(b), b.Compare(a)
			assert.Equal(t, -ab, ba, "%v %v", a, b)
			assert.Equal(t, i == j, ab == 0)
			// 构造顺序就是字典序
			if i < j {
				assert.Equal(t, -1, ab, "%v %v", a, b)
			}
			for _, c := range positions {
				if ab < 0 && b.Compare(c) < 0 {
					assert.Equal(t, -1, a.Compare(c))
				}
			}
		}
	}
}
