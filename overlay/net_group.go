package overlay

import (
	"bytes"
	"sort"
	"sync"

	"chainbft_vote/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/cmap"
	"go.uber.org/atomic"
)

var ErrPublicKeyMismatch = errors.New("public key does not match the existing entry")

// ConsensusNetGroup 每条链的验证者目录
// 读路径走并发安全的CMap，每个记录自己加锁
type ConsensusNetGroup struct {
	chain *types.ChainContext

	mtx  sync.Mutex // 串行化写入
	nets *cmap.CMap // address -> *ConsensusNet

	available    atomic.Bool
	allConnected atomic.Bool // 一旦为true不再变回false
	percent      atomic.Int64
}

func NewConsensusNetGroup(chain *types.ChainContext) *ConsensusNetGroup {
	return &ConsensusNetGroup{
		chain: chain,
		nets:  cmap.NewCMap(),
	}
}

func (g *ConsensusNetGroup) Get(addr types.Address) *ConsensusNet {
	net, _ := g.nets.Get(addr.Key()).(*ConsensusNet)
	return net
}

func (g *ConsensusNetGroup) Has(addr types.Address) bool {
	return g.nets.Has(addr.Key())
}

func (g *ConsensusNetGroup) Size() int {
	return g.nets.Size()
}

// Upsert 新建或更新记录的nodeID，已有记录的公钥不能改变
func (g *ConsensusNetGroup) Upsert(addr types.Address, pubKey []byte, nodeID types.NodeID) (*ConsensusNet, bool, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if net := g.Get(addr); net != nil {
		if !bytes.Equal(net.PublicKey, pubKey) {
			return nil, false, ErrPublicKeyMismatch
		}
		net.Announce(nodeID)
		return net, false, nil
	}
	net := NewConsensusNet(addr, pubKey, nodeID)
	g.nets.Set(addr.Key(), net)
	return net, true, nil
}

func (g *ConsensusNetGroup) Remove(addr types.Address) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.nets.Delete(addr.Key())
}

// List 按地址排序
func (g *ConsensusNetGroup) List() []*ConsensusNet {
	vals := g.nets.Values()
	nets := make([]*ConsensusNet, 0, len(vals))
	for _, v := range vals {
		nets = append(nets, v.(*ConsensusNet))
	}
	sort.Slice(nets, func(i, j int) bool {
		return nets[i].Address.Compare(nets[j].Address) < 0
	})
	return nets
}

// NodeIDs address -> nodeID 的索引
func (g *ConsensusNetGroup) NodeIDs() map[string]types.NodeID {
	index := make(map[string]types.NodeID, g.nets.Size())
	for _, net := range g.List() {
		if id := net.NodeID(); !id.IsEmpty() {
			index[net.Address.Key()] = id
		}
	}
	return index
}

// FindByNodeID 网络层断开时根据p2p id找到记录
func (g *ConsensusNetGroup) FindByNodeID(nodeID types.NodeID) *ConsensusNet {
	for _, net := range g.List() {
		if net.NodeID().SamePeer(nodeID) {
			return net
		}
	}
	return nil
}

// Connected 当前已连接的记录
func (g *ConsensusNetGroup) Connected() []*ConsensusNet {
	var nets []*ConsensusNet
	for _, net := range g.List() {
		if net.IsConnected() {
			nets = append(nets, net)
		}
	}
	return nets
}

// DialCandidates 需要重新连接的记录
func (g *ConsensusNetGroup) DialCandidates(maxFail int) []*ConsensusNet {
	var nets []*ConsensusNet
	for _, net := range g.List() {
		if net.ShouldDial(maxFail) {
			nets = append(nets, net)
		}
	}
	return nets
}

// Reconcile 删除已经不在委员会中的记录
func (g *ConsensusNetGroup) Reconcile(committee []types.Address) []types.Address {
	members := make(map[string]struct{}, len(committee))
	for _, addr := range committee {
		members[addr.Key()] = struct{}{}
	}
	var removed []types.Address
	for _, net := range g.List() {
		if _, ok := members[net.Address.Key()]; !ok {
			g.Remove(net.Address)
			removed = append(removed, net.Address)
		}
	}
	return removed
}

// IsAllConnected 除自己外的每个委员会成员都有记录，并且每条记录都曾经连接成功
func (g *ConsensusNetGroup) IsAllConnected() bool {
	if g.allConnected.Load() {
		return true
	}
	committee := g.chain.Committee.CurrentCommittee(g.chain.ChainID)
	others := 0
	for _, addr := range committee {
		if addr.Equal(g.chain.Self) {
			continue
		}
		others++
		net := g.Get(addr)
		if net == nil || !net.EverConnected() {
			return false
		}
	}
	for _, net := range g.List() {
		if !net.EverConnected() {
			return false
		}
	}
	if others == 0 {
		return false
	}
	g.allConnected.Store(true)
	return true
}

// StatusChange 统计网络层可达的委员会成员(包含自己)，达到percent时可用
func (g *ConsensusNetGroup) StatusChange(percent int) bool {
	committee := g.chain.Committee.CurrentCommittee(g.chain.ChainID)
	total, reachable := len(committee), 0
	for _, addr := range committee {
		if addr.Equal(g.chain.Self) {
			reachable++
			continue
		}
		net := g.Get(addr)
		if net == nil {
			continue
		}
		nodeID := net.NodeID()
		if nodeID.IsEmpty() {
			continue
		}
		if ip := nodeID.IP(); ip != "" && g.chain.Transport.IsReachable(ip) {
			reachable++
		}
	}

	available := total > 0 && reachable*100 >= percent*total
	if total > 0 {
		g.percent.Store(int64(reachable * 100 / total))
	} else {
		g.percent.Store(0)
	}
	if prev := g.available.Swap(available); prev != available {
		g.chain.Logger.Info("directory availability changed", "available", available,
			"reachable", reachable, "committee", total, "percent", percent)
	}
	return available
}

func (g *ConsensusNetGroup) IsAvailable() bool {
	return g.available.Load()
}

// Percent 最近一次统计的可达比例
func (g *ConsensusNetGroup) Percent() int64 {
	return g.percent.Load()
}
