package overlay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chainbft_vote/config"
	"chainbft_vote/crypto"
	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

const testChainID = "test-chain"

// ----- 内存中的网络 -----

type hub struct {
	mtx   sync.Mutex
	nodes map[types.NodeID]*hubTransport
}

func newHub() *hub {
	return &hub{nodes: make(map[types.NodeID]*hubTransport)}
}

func (h *hub) get(nodeID types.NodeID) *hubTransport {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.nodes[nodeID]
}

func (h *hub) list() []*hubTransport {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	ts := make([]*hubTransport, 0, len(h.nodes))
	for _, t := range h.nodes {
		ts = append(ts, t)
	}
	return ts
}

type sentMsg struct {
	To types.NodeID
	Bz []byte
}

type hubTransport struct {
	hub  *hub
	self types.NodeID

	mtx        sync.Mutex
	down       bool
	refuse     bool
	hang       bool
	connects   []types.NodeID
	sent       []sentMsg
	broadcasts [][]byte
	receiver   func(bz []byte, from types.NodeID)
}

var _ types.Transport = (*hubTransport)(nil)

func (h *hub) join(nodeID types.NodeID) *hubTransport {
	t := &hubTransport{hub: h, self: nodeID}
	h.mtx.Lock()
	h.nodes[nodeID] = t
	h.mtx.Unlock()
	return t
}

func (t *hubTransport) setDown(down bool) {
	t.mtx.Lock()
	t.down = down
	t.mtx.Unlock()
}

func (t *hubTransport) setRefuse(refuse bool) {
	t.mtx.Lock()
	t.refuse = refuse
	t.mtx.Unlock()
}

// setHang 连接到t时一直阻塞到超时
func (t *hubTransport) setHang(hang bool) {
	t.mtx.Lock()
	t.hang = hang
	t.mtx.Unlock()
}

func (t *hubTransport) setReceiver(fn func(bz []byte, from types.NodeID)) {
	t.mtx.Lock()
	t.receiver = fn
	t.mtx.Unlock()
}

func (t *hubTransport) isUp() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return !t.down
}

func (t *hubTransport) deliver(bz []byte, from types.NodeID) {
	t.mtx.Lock()
	fn := t.receiver
	t.mtx.Unlock()
	if fn != nil {
		fn(bz, from)
	}
}

func (t *hubTransport) Connect(ctx context.Context, nodeID types.NodeID) error {
	t.mtx.Lock()
	t.connects = append(t.connects, nodeID)
	t.mtx.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	target := t.hub.get(nodeID)
	if target == nil || !target.isUp() {
		return errors.Errorf("dial %v: unreachable", nodeID)
	}
	target.mtx.Lock()
	refuse, hang := target.refuse, target.hang
	target.mtx.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if refuse {
		return errors.Errorf("dial %v: refused", nodeID)
	}
	return nil
}

func (t *hubTransport) IsReachable(ip string) bool {
	for _, other := range t.hub.list() {
		if other.self.IP() == ip {
			return other.isUp()
		}
	}
	return false
}

func (t *hubTransport) Send(nodeID types.NodeID, msg []byte) bool {
	t.mtx.Lock()
	t.sent = append(t.sent, sentMsg{To: nodeID, Bz: msg})
	t.mtx.Unlock()

	target := t.hub.get(nodeID)
	if target == nil || !target.isUp() {
		return false
	}
	target.deliver(msg, t.self)
	return true
}

func (t *hubTransport) Broadcast(msg []byte) {
	t.mtx.Lock()
	t.broadcasts = append(t.broadcasts, msg)
	t.mtx.Unlock()

	for _, other := range t.hub.list() {
		if other.self != t.self && other.isUp() {
			other.deliver(msg, t.self)
		}
	}
}

func (t *hubTransport) Peers() []types.NodeID {
	var peers []types.NodeID
	for _, other := range t.hub.list() {
		if other.self != t.self && other.isUp() {
			peers = append(peers, other.self)
		}
	}
	return peers
}

func (t *hubTransport) connectCount() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.connects)
}

func (t *hubTransport) sentTo(nodeID types.NodeID) [][]byte {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	var msgs [][]byte
	for _, m := range t.sent {
		if m.To == nodeID {
			msgs = append(msgs, m.Bz)
		}
	}
	return msgs
}

func (t *hubTransport) connectedTo(nodeID types.NodeID) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	n := 0
	for _, id := range t.connects {
		if id == nodeID {
			n++
		}
	}
	return n
}

func (t *hubTransport) broadcastCount() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.broadcasts)
}

// ----- 测试网络 -----

type testNode struct {
	identity  *crypto.Identity
	nodeID    types.NodeID
	transport *hubTransport
	chain     *types.ChainContext
	overlay   *Overlay
}

func (n *testNode) address() types.Address {
	return n.identity.Address()
}

type testNetwork struct {
	hub       *hub
	committee *types.StaticCommittee
	nodes     []*testNode
}

func testNodeID(i int) types.NodeID {
	return types.NodeID(fmt.Sprintf("%040x@127.0.0.%d:26656", i+1, i+1))
}

// newTestNetwork members个委员会成员，outsiders个不在委员会中的节点
func newTestNetwork(t *testing.T, members, outsiders int, cfg *config.OverlayConfig) *testNetwork {
	net := &testNetwork{hub: newHub(), committee: types.NewStaticCommittee()}

	var vals []*types.Validator
	for i := 0; i < members+outsiders; i++ {
		id := crypto.GenIdentity()
		if i < members {
			vals = append(vals, types.NewValidator(id.PubKey(), fmt.Sprintf("v%d", i)))
		}
		node := &testNode{identity: id, nodeID: testNodeID(i)}
		node.transport = net.hub.join(node.nodeID)
		net.nodes = append(net.nodes, node)
	}
	net.committee.SetValidators(testChainID, types.NewValidatorSet(vals))

	for _, node := range net.nodes {
		node.chain = types.NewChainContext(testChainID, node.nodeID, node.identity,
			net.committee, node.transport, log.TestingLogger())
		o, err := NewOverlay(node.chain, cfg, nil)
		require.NoError(t, err)
		node.overlay = o
	}
	return net
}

// envelopeFrom 构造from发出的消息并解码成envelopeInfo
func envelopeFrom(t *testing.T, from *testNode, mt MessageType, payload []byte) envelopeInfo {
	bz, err := from.overlay.encode(mt, payload)
	require.NoError(t, err)
	env, err := DecodeEnvelope(bz)
	require.NoError(t, err)
	return envelopeInfo{Env: env, Raw: bz, From: from.nodeID}
}

func identityFrom(t *testing.T, from, to *testNode, broadcast bool) envelopeInfo {
	bz, err := from.overlay.identityMessage(to.identity.PubKey(), broadcast)
	require.NoError(t, err)
	env, err := DecodeEnvelope(bz)
	require.NoError(t, err)
	return envelopeInfo{Env: env, Raw: bz, From: from.nodeID}
}

func pendingDials(o *Overlay) int {
	return len(o.maintainer.dialRequests)
}
