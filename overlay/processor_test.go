package overlay

import (
	"sync"
	"testing"
	"time"

	"chainbft_vote/config"
	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmtime "github.com/tendermint/tendermint/types/time"
)

func TestIdentityCreatesEntryAndReplies(t *testing.T) {
	net := newTestNetwork(t, 4, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	info := identityFrom(t, n1, n0, true)
	require.NoError(t, n0.overlay.handleIdentity(info))

	entry := n0.overlay.Group().Get(n1.address())
	require.NotNil(t, entry)
	assert.Equal(t, n1.nodeID, entry.NodeID())
	assert.Equal(t, 1, pendingDials(n0.overlay))

	// 回复发给新节点，不再要求广播
	replies := n0.transport.sentTo(n1.nodeID)
	require.Len(t, replies, 1)
	env, err := DecodeEnvelope(replies[0])
	require.NoError(t, err)
	assert.Equal(t, MessageTypeIdentity, env.Type)
	var payload IdentityPayload
	require.NoError(t, openPayload(n1.identity, env.Payload, &payload))
	assert.False(t, payload.Broadcast)
	assert.Equal(t, n0.nodeID, payload.NodeID)

	// 原样转发给其他节点
	for _, other := range net.nodes[2:] {
		relayed := n0.transport.sentTo(other.nodeID)
		require.Len(t, relayed, 1)
		assert.Equal(t, info.Raw, relayed[0])
	}
}

func TestIdentityReplayIsIgnored(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	info := identityFrom(t, n1, n0, true)
	require.NoError(t, n0.overlay.handleIdentity(info))
	require.NoError(t, n0.overlay.handleIdentity(info))

	assert.Equal(t, 1, pendingDials(n0.overlay))
	assert.Len(t, n0.transport.sentTo(n1.nodeID), 1)
}

func TestIdentityNotAddressedToUs(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1, n2 := net.nodes[0], net.nodes[1], net.nodes[2]

	// n1发给n2的身份被n0收到
	info := identityFrom(t, n1, n2, true)
	err := n0.overlay.handleIdentity(info)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecrypt))

	assert.Equal(t, 0, n0.overlay.Group().Size())
	assert.Equal(t, 0, pendingDials(n0.overlay))
	assert.Equal(t, 0, n0.transport.connectCount())
	assert.Empty(t, n0.transport.sentTo(n1.nodeID))
	assert.Empty(t, n0.transport.sentTo(n2.nodeID))
}

func TestIdentityFromNonCommitteeRejected(t *testing.T) {
	net := newTestNetwork(t, 3, 1, config.TestOverlayConfig())
	n0, outsider := net.nodes[0], net.nodes[3]

	info := identityFrom(t, outsider, n0, true)
	err := n0.overlay.handleIdentity(info)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotCommitteeMember))

	assert.Nil(t, n0.overlay.Group().Get(outsider.address()))
	assert.Equal(t, 0, pendingDials(n0.overlay))
	assert.EqualValues(t, 1, n0.overlay.Metrics().RejectedSenders.Count())
}

func TestIdentityWithForgedSignature(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1, n2 := net.nodes[0], net.nodes[1], net.nodes[2]

	// n2冒充n1
	info := identityFrom(t, n2, n0, true)
	info.Env.Signer = n1.address()
	err := n0.overlay.handleIdentity(info)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.Equal(t, 0, n0.overlay.Group().Size())
	assert.EqualValues(t, 1, n0.overlay.Metrics().AuthFailures.Count())
}

func TestShareMerge(t *testing.T) {
	cfg := config.TestOverlayConfig()
	net := newTestNetwork(t, 5, 1, cfg)
	n0, n1, n2, n3, n4, outsider := net.nodes[0], net.nodes[1], net.nodes[2], net.nodes[3], net.nodes[4], net.nodes[5]
	group := n0.overlay.Group()

	sender, _, err := group.Upsert(n1.address(), n1.identity.PubKey(), n1.nodeID)
	require.NoError(t, err)
	sender.MarkConnected()
	live, _, err := group.Upsert(n3.address(), n3.identity.PubKey(), n3.nodeID)
	require.NoError(t, err)
	live.MarkConnected()
	capped, _, err := group.Upsert(n4.address(), n4.identity.PubKey(), n4.nodeID)
	require.NoError(t, err)
	for i := 0; i < cfg.MaxFail; i++ {
		capped.MarkFailed(cfg.MaxFail)
	}

	share := SharePayload{Peers: []ConsensusNetLite{
		{Address: n0.address(), PublicKey: n0.identity.PubKey(), NodeID: "ffff@10.0.0.1:1"},
		{Address: n2.address(), PublicKey: n2.identity.PubKey(), NodeID: n2.nodeID},
		{Address: n3.address(), PublicKey: n3.identity.PubKey(), NodeID: "ffff@10.0.0.3:1"},
		{Address: n4.address(), PublicKey: n4.identity.PubKey(), NodeID: n4.nodeID},
		{Address: outsider.address(), PublicKey: outsider.identity.PubKey(), NodeID: outsider.nodeID},
		// 地址和公钥不匹配
		{Address: n2.address(), PublicKey: n3.identity.PubKey(), NodeID: "ffff@10.0.0.4:1"},
	}}
	sealed, err := sealPayload(n1.identity, n0.identity.PubKey(), share)
	require.NoError(t, err)
	require.NoError(t, n0.overlay.handleShare(envelopeFrom(t, n1, MessageTypeShare, sealed)))

	assert.Nil(t, group.Get(n0.address()))
	assert.Nil(t, group.Get(outsider.address()))
	require.NotNil(t, group.Get(n2.address()))
	assert.Equal(t, n2.nodeID, group.Get(n2.address()).NodeID())
	assert.Equal(t, n3.nodeID, live.NodeID())
	assert.True(t, live.IsConnected())
	assert.True(t, capped.NodeID().IsEmpty())
	assert.Equal(t, 4, group.Size())
	assert.Equal(t, 1, pendingDials(n0.overlay))
}

func TestShareFromUnknownSender(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	sealed, err := sealPayload(n1.identity, n0.identity.PubKey(), SharePayload{})
	require.NoError(t, err)
	err = n0.overlay.handleShare(envelopeFrom(t, n1, MessageTypeShare, sealed))
	assert.True(t, errors.Is(err, ErrUnknownSender))
}

func TestDisconnectResetsEntry(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	entry, _, err := n0.overlay.Group().Upsert(n1.address(), n1.identity.PubKey(), n1.nodeID)
	require.NoError(t, err)
	entry.MarkConnected()

	payload, err := tmjson.Marshal(DisconnectPayload{NodeID: n1.nodeID, Time: tmtime.Now()})
	require.NoError(t, err)
	require.NoError(t, n0.overlay.handleDisconnect(envelopeFrom(t, n1, MessageTypeDisconnect, payload)))

	assert.True(t, entry.NodeID().IsEmpty())
	assert.False(t, entry.IsConnected())
	assert.Equal(t, 0, entry.FailCount())
	// 仍然是目录成员
	assert.NotNil(t, n0.overlay.Group().Get(n1.address()))
}

func TestDisconnectReplayIgnored(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	entry, _, err := n0.overlay.Group().Upsert(n1.address(), n1.identity.PubKey(), n1.nodeID)
	require.NoError(t, err)
	entry.MarkConnected()

	payload, err := tmjson.Marshal(DisconnectPayload{NodeID: n1.nodeID, Time: tmtime.Now()})
	require.NoError(t, err)
	leave := envelopeFrom(t, n1, MessageTypeDisconnect, payload)
	require.NoError(t, n0.overlay.handleDisconnect(leave))
	require.True(t, entry.NodeID().IsEmpty())

	// n1重新上线
	require.NoError(t, n0.overlay.handleIdentity(identityFrom(t, n1, n0, false)))
	require.Equal(t, n1.nodeID, entry.NodeID())
	entry.MarkConnected()

	// 重放之前的断开通知
	require.NoError(t, n0.overlay.handleDisconnect(leave))
	assert.Equal(t, n1.nodeID, entry.NodeID())
	assert.True(t, entry.IsConnected())

	// 针对旧nodeID的通知
	stale, err := tmjson.Marshal(DisconnectPayload{NodeID: testNodeID(9), Time: tmtime.Now()})
	require.NoError(t, err)
	require.NoError(t, n0.overlay.handleDisconnect(envelopeFrom(t, n1, MessageTypeDisconnect, stale)))
	assert.Equal(t, n1.nodeID, entry.NodeID())
	assert.True(t, entry.IsConnected())
}

func TestVoteRoutedToSink(t *testing.T) {
	net := newTestNetwork(t, 3, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	var got *types.VoteMessage
	var from types.NodeID
	n0.overlay.SetVoteSink(func(vote *types.VoteMessage, sender types.NodeID) error {
		got, from = vote, sender
		return nil
	})

	vote := &types.VoteMessage{
		ChainID:    testChainID,
		Height:     7,
		VoteStage:  types.VoteStageOne,
		BlockHash:  []byte{0x01, 0x02},
		SentTime:   tmtime.Now(),
		RoundIndex: 1,
	}
	require.NoError(t, types.SignVote(n1.identity, testChainID, vote))
	payload, err := tmjson.Marshal(vote)
	require.NoError(t, err)

	info := envelopeFrom(t, n1, MessageTypeVote, payload)
	require.NoError(t, n0.overlay.Receive(info.Raw, n1.nodeID))
	require.NotNil(t, got)
	assert.Equal(t, n1.nodeID, from)
	assert.EqualValues(t, 7, got.Height)
	assert.Equal(t, vote.Signature, got.Signature)
}

func TestReceiveWrongChain(t *testing.T) {
	net := newTestNetwork(t, 2, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	env, err := NewEnvelope("other-chain", MessageTypeDisconnect, n1.identity, []byte("{}"))
	require.NoError(t, err)
	bz, err := env.Encode()
	require.NoError(t, err)
	assert.True(t, errors.Is(n0.overlay.Receive(bz, n1.nodeID), ErrWrongChain))
}

func TestOnPeerDisconnected(t *testing.T) {
	net := newTestNetwork(t, 2, 0, config.TestOverlayConfig())
	n0, n1 := net.nodes[0], net.nodes[1]

	entry, _, err := n0.overlay.Group().Upsert(n1.address(), n1.identity.PubKey(), n1.nodeID)
	require.NoError(t, err)
	entry.MarkConnected()

	n0.overlay.OnPeerDisconnected(n1.nodeID)
	assert.False(t, entry.IsConnected())
	assert.Equal(t, n1.nodeID, entry.NodeID())
}

func TestDisconnectPayloadTime(t *testing.T) {
	now := tmtime.Now()
	bz, err := tmjson.Marshal(DisconnectPayload{NodeID: testNodeID(0), Time: now})
	require.NoError(t, err)
	var payload DisconnectPayload
	require.NoError(t, tmjson.Unmarshal(bz, &payload))
	assert.WithinDuration(t, now, payload.Time, time.Millisecond)
}

func TestBroadcastVoteSkipsOutsiders(t *testing.T) {
	net := newTestNetwork(t, 3, 1, config.TestOverlayConfig())
	n0, n1, n2, outsider := net.nodes[0], net.nodes[1], net.nodes[2], net.nodes[3]

	votesTo := func(node *testNode) func() int {
		var mtx sync.Mutex
		count := 0
		node.transport.setReceiver(func(bz []byte, from types.NodeID) {
			env, err := DecodeEnvelope(bz)
			if err == nil && env.Type == MessageTypeVote {
				mtx.Lock()
				count++
				mtx.Unlock()
			}
		})
		return func() int {
			mtx.Lock()
			defer mtx.Unlock()
			return count
		}
	}
	toN1, toN2, toOutsider := votesTo(n1), votesTo(n2), votesTo(outsider)

	vote := &types.VoteMessage{
		ChainID:    testChainID,
		Height:     3,
		VoteStage:  types.VoteStageOne,
		BlockHash:  []byte{0x03},
		SentTime:   tmtime.Now(),
		RoundIndex: 0,
	}
	require.NoError(t, types.SignVote(n0.identity, testChainID, vote))

	// 目录为空时不发送
	err := n0.overlay.BroadcastVote(vote)
	assert.True(t, errors.Is(err, ErrNoConsensusPeers))
	assert.Equal(t, 0, n0.transport.broadcastCount())
	assert.Equal(t, 0, toOutsider())

	// 没有连接时只发给已知NodeID的成员
	e1, _, err := n0.overlay.Group().Upsert(n1.address(), n1.identity.PubKey(), n1.nodeID)
	require.NoError(t, err)
	_, _, err = n0.overlay.Group().Upsert(n2.address(), n2.identity.PubKey(), "")
	require.NoError(t, err)
	require.NoError(t, n0.overlay.BroadcastVote(vote))
	assert.Equal(t, 1, toN1())
	assert.Equal(t, 0, toN2())

	// 有连接时只发给已连接的成员
	e2, _, err := n0.overlay.Group().Upsert(n2.address(), n2.identity.PubKey(), n2.nodeID)
	require.NoError(t, err)
	e2.MarkConnected()
	require.NoError(t, n0.overlay.BroadcastVote(vote))
	assert.Equal(t, 1, toN1())
	assert.Equal(t, 1, toN2())
	assert.False(t, e1.IsConnected())

	assert.Equal(t, 0, n0.transport.broadcastCount())
	assert.Equal(t, 0, toOutsider())
	assert.Empty(t, n0.transport.sentTo(outsider.nodeID))
}
