package node

import (
	"context"

	"chainbft_vote/chain"
	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/p2p"
)

// SwitchTransport 把tendermint的Switch包装成私有网络使用的Transport
// 所有链共用一个Switch，消息统一走OverlayChannel
type SwitchTransport struct {
	sw *p2p.Switch
}

var _ types.Transport = (*SwitchTransport)(nil)

func NewSwitchTransport(sw *p2p.Switch) *SwitchTransport {
	return &SwitchTransport{sw: sw}
}

// Connect 拨号直到握手完成，已经连接或正在拨号时直接返回
func (t *SwitchTransport) Connect(ctx context.Context, nodeID types.NodeID) error {
	addr, err := p2p.NewNetAddressString(nodeID.String())
	if err != nil {
		return errors.Wrapf(err, "parse node id %s", nodeID)
	}
	if t.sw.Peers().Has(addr.ID) {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- t.sw.DialPeerWithAddress(addr)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if _, ok := err.(p2p.ErrCurrentlyDialingOrExistingAddress); ok {
			return nil
		}
		return err
	}
}

// IsReachable ip上有活跃的连接
func (t *SwitchTransport) IsReachable(ip string) bool {
	if ip == "" {
		return false
	}
	for _, peer := range t.sw.Peers().List() {
		if remote := peer.RemoteIP(); remote != nil && remote.String() == ip {
			return true
		}
	}
	return false
}

func (t *SwitchTransport) Send(nodeID types.NodeID, msg []byte) bool {
	peer := t.sw.Peers().Get(nodeP2PID(nodeID))
	if peer == nil {
		return false
	}
	return peer.Send(chain.OverlayChannel, msg)
}

func (t *SwitchTransport) Broadcast(msg []byte) {
	t.sw.Broadcast(chain.OverlayChannel, msg)
}

func (t *SwitchTransport) Peers() []types.NodeID {
	peers := t.sw.Peers().List()
	ids := make([]types.NodeID, 0, len(peers))
	for _, peer := range peers {
		ids = append(ids, chain.PeerNodeID(peer))
	}
	return ids
}
