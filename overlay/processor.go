package overlay

import (
	"bytes"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// handleIdentity 处理身份广播
// 已知公钥时先验签再解密，否则解密后用声明的公钥验签
// 解密失败说明不是发给本节点的，直接丢弃，不修改目录也不发起连接
func (o *Overlay) handleIdentity(info envelopeInfo) error {
	env := info.Env
	id := env.ID()
	if o.seen.Contains(id) {
		return nil
	}

	cr := o.chain.Crypto
	knownKey := o.knownPublicKey(env.Signer)
	if knownKey != nil && !env.VerifyWith(cr, knownKey) {
		o.metrics.AuthFailures.Inc(1)
		return errors.Wrap(ErrInvalidSignature, env.Signer.String())
	}

	var payload IdentityPayload
	if err := openPayload(cr, env.Payload, &payload); err != nil {
		return err
	}
	o.seen.Add(id, struct{}{})

	if knownKey == nil {
		if !env.VerifyWith(cr, payload.PublicKey) {
			o.metrics.AuthFailures.Inc(1)
			return errors.Wrap(ErrInvalidSignature, env.Signer.String())
		}
	} else if !bytes.Equal(knownKey, payload.PublicKey) {
		o.metrics.AuthFailures.Inc(1)
		return errors.Wrapf(ErrInvalidSignature, "%v announced a different public key", env.Signer)
	}

	addr := env.Signer
	if addr.Equal(o.chain.Self) {
		return nil
	}
	if !o.chain.IsMember(addr) {
		o.metrics.RejectedSenders.Inc(1)
		return errors.Wrap(ErrNotCommitteeMember, addr.String())
	}
	if payload.NodeID.IsEmpty() {
		return errors.Errorf("identity from %v carries no node id", addr)
	}

	net, created, err := o.group.Upsert(addr, payload.PublicKey, payload.NodeID)
	if err != nil {
		return err
	}
	o.metrics.Peers.Update(int64(o.group.Size()))
	o.Logger.Info("identity announced", "peer", net, "new", created, "broadcast", payload.Broadcast)
	o.maintainer.RequestDial(net)

	if payload.Broadcast {
		o.relay(info)
		o.replyIdentity(net)
	}
	return nil
}

// relay 原样转发给其他已连接的节点
func (o *Overlay) relay(info envelopeInfo) {
	if len(info.Raw) == 0 {
		return
	}
	for _, peer := range o.chain.Transport.Peers() {
		if peer == info.From {
			continue
		}
		if o.chain.Transport.Send(peer, info.Raw) {
			o.metrics.Relayed.Inc(1)
		}
	}
}

// handleShare 合并对方分享的目录
// 跳过自己和非委员会成员，不覆盖已连接记录的nodeID
func (o *Overlay) handleShare(info envelopeInfo) error {
	env := info.Env
	sender := o.group.Get(env.Signer)
	if sender == nil {
		o.metrics.RejectedSenders.Inc(1)
		return errors.Wrap(ErrUnknownSender, env.Signer.String())
	}
	cr := o.chain.Crypto
	if !env.VerifyWith(cr, sender.PublicKey) {
		o.metrics.AuthFailures.Inc(1)
		return errors.Wrap(ErrInvalidSignature, env.Signer.String())
	}

	var payload SharePayload
	if err := openPayload(cr, env.Payload, &payload); err != nil {
		return err
	}

	merged := 0
	for _, lite := range payload.Peers {
		if o.mergeLite(lite) {
			merged++
		}
	}
	o.metrics.Peers.Update(int64(o.group.Size()))
	o.Logger.Debug("share merged", "from", sender.Address, "peers", len(payload.Peers), "merged", merged)
	return nil
}

func (o *Overlay) mergeLite(lite ConsensusNetLite) bool {
	if lite.Address.Equal(o.chain.Self) || lite.NodeID.IsEmpty() {
		return false
	}
	if !o.chain.IsMember(lite.Address) {
		return false
	}
	if !o.chain.Crypto.AddressOf(lite.PublicKey).Equal(lite.Address) {
		return false
	}
	if registered, err := o.chain.PublicKeyOf(lite.Address); err == nil && len(registered) > 0 &&
		!bytes.Equal(registered, lite.PublicKey) {
		return false
	}

	net := o.group.Get(lite.Address)
	if net == nil {
		added, _, err := o.group.Upsert(lite.Address, lite.PublicKey, lite.NodeID)
		if err != nil {
			return false
		}
		o.maintainer.RequestDial(added)
		return true
	}
	if !bytes.Equal(net.PublicKey, lite.PublicKey) {
		return false
	}
	if net.AdoptNodeID(lite.NodeID, o.config.MaxFail) {
		o.maintainer.RequestDial(net)
		return true
	}
	return false
}

// handleDisconnect 对方主动断开，重置该记录的网络状态
// 重放的通知和针对旧nodeID的通知不处理
func (o *Overlay) handleDisconnect(info envelopeInfo) error {
	env := info.Env
	id := env.ID()
	if o.seen.Contains(id) {
		return nil
	}
	pubKey := o.knownPublicKey(env.Signer)
	if pubKey == nil {
		o.metrics.RejectedSenders.Inc(1)
		return errors.Wrap(ErrUnknownSender, env.Signer.String())
	}
	if !env.VerifyWith(o.chain.Crypto, pubKey) {
		o.metrics.AuthFailures.Inc(1)
		return errors.Wrap(ErrInvalidSignature, env.Signer.String())
	}

	var payload DisconnectPayload
	if err := tmjson.Unmarshal(env.Payload, &payload); err != nil {
		return errors.Wrap(err, "decode disconnect")
	}
	o.seen.Add(id, struct{}{})

	net := o.group.Get(env.Signer)
	if net == nil {
		return nil
	}
	if current := net.NodeID(); current.IsEmpty() || current != payload.NodeID {
		o.Logger.Debug("ignore stale disconnect", "address", env.Signer, "node", payload.NodeID, "current", current)
		return nil
	}
	net.Reset()
	o.Logger.Info("peer left the consensus network", "address", env.Signer, "node", payload.NodeID, "at", payload.Time)
	return nil
}

// handleVote 投票有自己的签名，由投票模块验证
func (o *Overlay) handleVote(info envelopeInfo) error {
	if o.voteSink == nil {
		return ErrNoVoteSink
	}
	vote := new(types.VoteMessage)
	if err := tmjson.Unmarshal(info.Env.Payload, vote); err != nil {
		return errors.Wrap(err, "decode vote")
	}
	return o.voteSink(vote, info.From)
}
