package overlay

import (
	"chainbft_vote/config"
	"chainbft_vote/store"
	"chainbft_vote/types"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/service"
	tmtime "github.com/tendermint/tendermint/types/time"
)

// VoteSink 私有网络收到的投票交给投票模块
type VoteSink func(vote *types.VoteMessage, from types.NodeID) error

// envelopeInfo 队列里的消息，raw用于原样转发
type envelopeInfo struct {
	Env  *Envelope
	Raw  []byte
	From types.NodeID
}

// Overlay 每条链一个的验证者私有网络
// 身份、分享、断开三类消息各自一个队列和一个消费协程
type Overlay struct {
	service.BaseService

	chain      *types.ChainContext
	config     *config.OverlayConfig
	group      *ConsensusNetGroup
	store      store.Store
	metrics    *Metrics
	maintainer *Maintainer

	seen *lru.Cache // envelope id -> struct{}

	identityQueue   chan envelopeInfo
	shareQueue      chan envelopeInfo
	disconnectQueue chan envelopeInfo

	voteSink VoteSink
}

// NewOverlay store可以为nil，此时目录不持久化
func NewOverlay(chain *types.ChainContext, cfg *config.OverlayConfig, st store.Store) (*Overlay, error) {
	seen, err := lru.New(cfg.SeenCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create seen cache")
	}
	o := &Overlay{
		chain:           chain,
		config:          cfg,
		group:           NewConsensusNetGroup(chain),
		store:           st,
		metrics:         NewMetrics(chain.Metrics),
		seen:            seen,
		identityQueue:   make(chan envelopeInfo, cfg.QueueSize),
		shareQueue:      make(chan envelopeInfo, cfg.QueueSize),
		disconnectQueue: make(chan envelopeInfo, cfg.QueueSize),
	}
	o.BaseService = *service.NewBaseService(chain.Logger.With("module", "overlay"), "OVERLAY", o)
	o.maintainer = NewMaintainer(o)
	return o, nil
}

// SetVoteSink 需要在Start之前设置
func (o *Overlay) SetVoteSink(sink VoteSink) {
	o.voteSink = sink
}

func (o *Overlay) Group() *ConsensusNetGroup {
	return o.group
}

func (o *Overlay) Metrics() *Metrics {
	return o.metrics
}

func (o *Overlay) Maintainer() *Maintainer {
	return o.maintainer
}

func (o *Overlay) OnStart() error {
	o.warmUp()

	go o.identityRoutine()
	go o.shareRoutine()
	go o.disconnectRoutine()

	if err := o.maintainer.Start(); err != nil {
		return err
	}
	o.Logger.Info("overlay started.", "peers", o.group.Size())
	return nil
}

func (o *Overlay) OnStop() {
	o.sendDisconnect()
	if err := o.maintainer.Stop(); err != nil {
		o.Logger.Error("stop maintainer", "err", err)
	}
	o.persist()
	o.Logger.Info("overlay stopped.")
}

// warmUp 重启时从store恢复目录，只保留仍在委员会中的成员
func (o *Overlay) warmUp() {
	if o.store == nil {
		return
	}
	records, err := o.store.LoadDirectory(o.chain.ChainID)
	if err != nil {
		o.Logger.Error("load directory", "err", err)
		return
	}
	restored := 0
	for _, rec := range records {
		if rec.Address.Equal(o.chain.Self) || !o.chain.IsMember(rec.Address) {
			continue
		}
		if !o.chain.Crypto.AddressOf(rec.PublicKey).Equal(rec.Address) {
			continue
		}
		if _, _, err := o.group.Upsert(rec.Address, rec.PublicKey, rec.NodeID); err == nil {
			restored++
		}
	}
	o.Logger.Info("directory restored", "records", len(records), "restored", restored)
}

func (o *Overlay) persist() {
	if o.store == nil {
		return
	}
	nets := o.group.List()
	records := make([]store.PeerRecord, 0, len(nets))
	for _, net := range nets {
		records = append(records, net.Record())
	}
	if err := o.store.SaveDirectory(o.chain.ChainID, records); err != nil {
		o.Logger.Error("save directory", "err", err)
	}
}

// ----- 入口 -----

// Receive 网络层收到的原始字节
func (o *Overlay) Receive(bz []byte, from types.NodeID) error {
	env, err := DecodeEnvelope(bz)
	if err != nil {
		return err
	}
	return o.HandleEnvelope(env, bz, from)
}

// HandleEnvelope 按类型分发，投票直接交给投票模块
func (o *Overlay) HandleEnvelope(env *Envelope, raw []byte, from types.NodeID) error {
	if env.ChainID != o.chain.ChainID {
		return errors.Wrapf(ErrWrongChain, "%s != %s", env.ChainID, o.chain.ChainID)
	}
	info := envelopeInfo{Env: env, Raw: raw, From: from}
	switch env.Type {
	case MessageTypeIdentity:
		return o.enqueue(o.identityQueue, info)
	case MessageTypeShare:
		return o.enqueue(o.shareQueue, info)
	case MessageTypeDisconnect:
		return o.enqueue(o.disconnectQueue, info)
	case MessageTypeVote:
		return o.handleVote(info)
	default:
		return errors.Wrapf(ErrUnknownMessageType, "%d", env.Type)
	}
}

func (o *Overlay) OnIdentityAnnouncement(raw []byte, from types.NodeID) error {
	return o.receiveTyped(raw, from, MessageTypeIdentity)
}

func (o *Overlay) OnShare(raw []byte, from types.NodeID) error {
	return o.receiveTyped(raw, from, MessageTypeShare)
}

func (o *Overlay) OnDisconnect(raw []byte, from types.NodeID) error {
	return o.receiveTyped(raw, from, MessageTypeDisconnect)
}

func (o *Overlay) receiveTyped(raw []byte, from types.NodeID, mt MessageType) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	if env.Type != mt {
		return errors.Errorf("expect %v message, got %v", mt, env.Type)
	}
	return o.HandleEnvelope(env, raw, from)
}

func (o *Overlay) enqueue(queue chan envelopeInfo, info envelopeInfo) error {
	select {
	case queue <- info:
		return nil
	default:
		return errors.Wrap(ErrQueueFull, info.Env.Type.String())
	}
}

// OnPeerDisconnected 网络层断开连接
func (o *Overlay) OnPeerDisconnected(nodeID types.NodeID) {
	if net := o.group.FindByNodeID(nodeID); net != nil {
		net.MarkDisconnected()
		o.Logger.Info("consensus peer disconnected", "peer", net)
	}
}

// IsDirectoryAvailable 重新统计可达比例
func (o *Overlay) IsDirectoryAvailable(percent int) bool {
	available := o.group.StatusChange(percent)
	o.metrics.AvailablePercent.Update(o.group.Percent())
	return available
}

// ----- 消费协程 -----

func (o *Overlay) identityRoutine() {
	for {
		select {
		case <-o.Quit():
			return
		case info := <-o.identityQueue:
			o.logError(info, o.handleIdentity(info))
		}
	}
}

func (o *Overlay) shareRoutine() {
	for {
		select {
		case <-o.Quit():
			return
		case info := <-o.shareQueue:
			o.logError(info, o.handleShare(info))
		}
	}
}

func (o *Overlay) disconnectRoutine() {
	for {
		select {
		case <-o.Quit():
			return
		case info := <-o.disconnectQueue:
			o.logError(info, o.handleDisconnect(info))
		}
	}
}

func (o *Overlay) logError(info envelopeInfo, err error) {
	if err == nil {
		return
	}
	switch errors.Cause(err) {
	case ErrDecrypt:
		o.Logger.Debug("drop message not addressed to us", "msg", info.Env, "peer", info.From)
	case ErrInvalidSignature:
		o.Logger.Error("message authentication failed", "msg", info.Env, "peer", info.From, "err", err)
	default:
		o.Logger.Info("reject message", "msg", info.Env, "peer", info.From, "err", err)
	}
}

// ----- 发送 -----

// Announce 向每个已知公钥的委员会成员广播身份
func (o *Overlay) Announce() int {
	sent := 0
	for _, addr := range o.chain.Committee.CurrentCommittee(o.chain.ChainID) {
		if addr.Equal(o.chain.Self) {
			continue
		}
		pubKey := o.knownPublicKey(addr)
		if pubKey == nil {
			continue
		}
		bz, err := o.identityMessage(pubKey, true)
		if err != nil {
			o.Logger.Error("build identity", "to", addr, "err", err)
			continue
		}
		o.chain.Transport.Broadcast(bz)
		sent++
	}
	o.Logger.Debug("announce identity", "members", sent)
	return sent
}

func (o *Overlay) identityMessage(recipient []byte, broadcast bool) ([]byte, error) {
	payload := IdentityPayload{
		NodeID:    o.chain.SelfNode,
		PublicKey: o.chain.Crypto.PubKey(),
		Broadcast: broadcast,
	}
	sealed, err := sealPayload(o.chain.Crypto, recipient, payload)
	if err != nil {
		return nil, err
	}
	return o.encode(MessageTypeIdentity, sealed)
}

// replyIdentity 回复身份给新节点，对方还没连上时退化为广播
func (o *Overlay) replyIdentity(net *ConsensusNet) {
	bz, err := o.identityMessage(net.PublicKey, false)
	if err != nil {
		o.Logger.Error("build identity reply", "to", net.Address, "err", err)
		return
	}
	if !o.chain.Transport.Send(net.NodeID(), bz) {
		o.chain.Transport.Broadcast(bz)
	}
}

// SendShare 连接建立后把已知目录发给对方
func (o *Overlay) SendShare(net *ConsensusNet) bool {
	var payload SharePayload
	for _, other := range o.group.List() {
		if other.Address.Equal(net.Address) {
			continue
		}
		payload.Peers = append(payload.Peers, other.Lite())
	}
	payload.Peers = append(payload.Peers, ConsensusNetLite{
		Address:   o.chain.Self,
		PublicKey: o.chain.Crypto.PubKey(),
		NodeID:    o.chain.SelfNode,
	})
	sealed, err := sealPayload(o.chain.Crypto, net.PublicKey, payload)
	if err != nil {
		o.Logger.Error("build share", "to", net.Address, "err", err)
		return false
	}
	bz, err := o.encode(MessageTypeShare, sealed)
	if err != nil {
		o.Logger.Error("build share", "to", net.Address, "err", err)
		return false
	}
	return o.chain.Transport.Send(net.NodeID(), bz)
}

// sendDisconnect 停止时通知已连接的成员
func (o *Overlay) sendDisconnect() {
	payload, err := tmjson.Marshal(DisconnectPayload{NodeID: o.chain.SelfNode, Time: tmtime.Now()})
	if err != nil {
		return
	}
	bz, err := o.encode(MessageTypeDisconnect, payload)
	if err != nil {
		o.Logger.Error("build disconnect", "err", err)
		return
	}
	for _, net := range o.group.Connected() {
		o.chain.Transport.Send(net.NodeID(), bz)
	}
}

// BroadcastVote 投票只发给委员会成员：优先已连接的目录项，
// 没有连接时发给已知NodeID的目录项，不走普通网络广播
func (o *Overlay) BroadcastVote(vote *types.VoteMessage) error {
	targets := o.group.Connected()
	if len(targets) == 0 {
		for _, net := range o.group.List() {
			if !net.NodeID().IsEmpty() {
				targets = append(targets, net)
			}
		}
	}
	if len(targets) == 0 {
		return ErrNoConsensusPeers
	}

	payload, err := tmjson.Marshal(vote)
	if err != nil {
		return err
	}
	bz, err := o.encode(MessageTypeVote, payload)
	if err != nil {
		return err
	}
	for _, net := range targets {
		o.chain.Transport.Send(net.NodeID(), bz)
	}
	return nil
}

func (o *Overlay) encode(mt MessageType, payload []byte) ([]byte, error) {
	env, err := NewEnvelope(o.chain.ChainID, mt, o.chain.Crypto, payload)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// knownPublicKey 目录中已有的公钥，否则查询委员会来源
func (o *Overlay) knownPublicKey(addr types.Address) []byte {
	if net := o.group.Get(addr); net != nil {
		return net.PublicKey
	}
	pubKey, err := o.chain.PublicKeyOf(addr)
	if err != nil || len(pubKey) == 0 {
		return nil
	}
	return pubKey
}
