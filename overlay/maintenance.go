package overlay

import (
	"context"
	"time"

	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/service"
	"golang.org/x/sync/errgroup"
)

// Maintainer 定时维护私有网络的连接
// 重连交给常驻的有并发上限的errgroup，维护协程不等待连接结果，每次连接单独超时
type Maintainer struct {
	service.BaseService

	overlay      *Overlay
	dialRequests chan *ConsensusNet

	pool    *errgroup.Group
	dialing *cmap.CMap // address -> struct{}，正在连接的成员

	ctx    context.Context
	cancel context.CancelFunc

	lastAnnounce time.Time // 只在维护协程中访问
}

func NewMaintainer(o *Overlay) *Maintainer {
	m := &Maintainer{
		overlay:      o,
		dialRequests: make(chan *ConsensusNet, o.config.QueueSize),
		pool:         new(errgroup.Group),
		dialing:      cmap.NewCMap(),
	}
	m.pool.SetLimit(o.config.DialConcurrency)
	m.BaseService = *service.NewBaseService(o.Logger.With("module", "maintainer"), "MAINTAINER", m)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

func (m *Maintainer) OnStart() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	go m.routine()
	return nil
}

func (m *Maintainer) OnStop() {
	m.cancel()
}

// RequestDial 收到身份或分享后尽快发起连接，队列满时等下一次定时维护
func (m *Maintainer) RequestDial(net *ConsensusNet) {
	select {
	case m.dialRequests <- net:
	default:
	}
}

func (m *Maintainer) routine() {
	ticker := time.NewTicker(m.overlay.config.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.Quit():
			m.waitDials()
			return
		case <-ticker.C:
			m.tick(m.ctx)
		case net := <-m.dialRequests:
			nets := append([]*ConsensusNet{net}, m.drainRequests()...)
			m.dialAll(m.ctx, nets)
		}
	}
}

func (m *Maintainer) drainRequests() []*ConsensusNet {
	var nets []*ConsensusNet
	for {
		select {
		case net := <-m.dialRequests:
			nets = append(nets, net)
		default:
			return nets
		}
	}
}

// tick 一次完整的维护
func (m *Maintainer) tick(ctx context.Context) {
	o := m.overlay
	chain := o.chain
	group := o.group

	for _, addr := range group.Reconcile(chain.Committee.CurrentCommittee(chain.ChainID)) {
		m.Logger.Info("remove non-committee peer", "address", addr)
	}

	for _, net := range group.Connected() {
		ip := net.NodeID().IP()
		if ip == "" || !chain.Transport.IsReachable(ip) {
			net.MarkDisconnected()
			m.Logger.Info("consensus peer unreachable", "peer", net)
		}
	}

	m.dialAll(ctx, group.DialCandidates(o.config.MaxFail))

	if !group.IsAllConnected() && time.Since(m.lastAnnounce) >= o.config.AnnounceInterval {
		o.Announce()
		m.lastAnnounce = time.Now()
	}

	o.IsDirectoryAvailable(o.config.AvailablePercent)
	o.metrics.Peers.Update(int64(group.Size()))
	o.persist()
}

// dialAll 提交到连接池后立即返回，池满或已在连接中的成员留给下一次维护
func (m *Maintainer) dialAll(ctx context.Context, nets []*ConsensusNet) {
	maxFail := m.overlay.config.MaxFail
	for _, net := range nets {
		key := net.Address.Key()
		if m.dialing.Has(key) || !net.ShouldDial(maxFail) {
			continue
		}
		m.dialing.Set(key, struct{}{})
		net := net
		ok := m.pool.TryGo(func() error {
			defer m.dialing.Delete(key)
			m.dial(ctx, net)
			return nil
		})
		if !ok {
			m.dialing.Delete(key)
			m.Logger.Debug("dial pool full", "peer", net.Address)
		}
	}
}

// waitDials 等待已提交的连接结束，不能和维护协程同时调用
func (m *Maintainer) waitDials() {
	_ = m.pool.Wait()
}

func (m *Maintainer) dial(ctx context.Context, net *ConsensusNet) {
	o := m.overlay
	nodeID := net.NodeID()
	if nodeID.IsEmpty() {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, o.config.DialTimeout)
	defer cancel()

	if err := o.chain.Transport.Connect(dctx, nodeID); err != nil {
		o.metrics.DialFailures.Inc(1)
		if net.MarkFailed(o.config.MaxFail) {
			m.Logger.Info("give up dialing until next announcement", "peer", net.Address, "node", nodeID, "err", err)
		} else {
			m.Logger.Debug("dial consensus peer failed", "peer", net, "err", err)
		}
		return
	}
	net.MarkConnected()
	m.Logger.Info("consensus peer connected", "peer", net)
	if !o.SendShare(net) {
		m.Logger.Debug("send share failed", "peer", net)
	}
}
