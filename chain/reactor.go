package chain

import (
	"fmt"

	"chainbft_vote/overlay"
	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/p2p"
)

const (
	// OverlayChannel 私有网络的所有消息共用一个通道，按envelope里的chainID分发
	OverlayChannel = byte(0x40)

	maxMsgSize = 1048576 // 1MB
)

// ------- Reactor ------
type Reactor struct {
	p2p.BaseReactor

	registry *Registry
}

func NewReactor(registry *Registry) *Reactor {
	r := &Reactor{registry: registry}
	r.BaseReactor = *p2p.NewBaseReactor("Overlay", r)
	return r
}

func (r *Reactor) OnStart() error {
	r.Logger.Info("Overlay Reactor started.", "chains", r.registry.Size())
	return nil
}

func (r *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  OverlayChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  maxMsgSize,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

func (r *Reactor) AddPeer(peer p2p.Peer) {
	r.Logger.Debug("add peer", "peer", PeerNodeID(peer))
}

// RemovePeer 网络层断开，所有链都要更新目录
func (r *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	nodeID := PeerNodeID(peer)
	r.Logger.Debug("remove peer", "peer", nodeID, "reason", reason)
	r.registry.PeerDisconnected(nodeID)
}

func (r *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	if chID != OverlayChannel {
		r.Logger.Error(fmt.Sprintf("Unknown chID %X", chID))
		return
	}
	env, err := overlay.DecodeEnvelope(msgBytes)
	if err != nil {
		r.Logger.Error("Error decoding message", "src", src, "chId", chID, "err", err)
		if r.Switch != nil {
			r.Switch.StopPeerForError(src, err)
		}
		return
	}

	from := PeerNodeID(src)
	if err := r.registry.Dispatch(env, msgBytes, from); err != nil {
		switch errors.Cause(err) {
		case ErrUnknownChain:
			r.Logger.Debug("drop message of unknown chain", "msg", env, "peer", from)
		default:
			r.Logger.Info("dispatch message failed", "msg", env, "peer", from, "err", err)
		}
	}
}

// PeerNodeID 使用id@ip:port作为私有网络里的NodeID
// 入站连接的端口是临时的，和目录比较时只看p2p id，见types.NodeID.SamePeer
func PeerNodeID(peer p2p.Peer) types.NodeID {
	if addr := peer.SocketAddr(); addr != nil {
		return types.NodeID(addr.String())
	}
	return types.NodeID(peer.ID())
}
