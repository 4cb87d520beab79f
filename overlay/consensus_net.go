package overlay

import (
	"fmt"
	"sync"

	"chainbft_vote/store"
	"chainbft_vote/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// ConsensusNet 一个验证者在私有网络中的记录
// Address和PublicKey创建后不再修改，网络状态由连接维护协程修改
type ConsensusNet struct {
	Address   types.Address
	PublicKey tmbytes.HexBytes

	mtx           sync.RWMutex
	nodeID        types.NodeID
	connected     bool
	everConnected bool
	failCount     int
}

func NewConsensusNet(addr types.Address, pubKey []byte, nodeID types.NodeID) *ConsensusNet {
	return &ConsensusNet{
		Address:   append(types.Address(nil), addr...),
		PublicKey: append(tmbytes.HexBytes(nil), pubKey...),
		nodeID:    nodeID,
	}
}

func (cn *ConsensusNet) NodeID() types.NodeID {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return cn.nodeID
}

func (cn *ConsensusNet) IsConnected() bool {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return cn.connected
}

func (cn *ConsensusNet) EverConnected() bool {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return cn.everConnected
}

func (cn *ConsensusNet) FailCount() int {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return cn.failCount
}

// Announce 收到新的身份广播：nodeID变化时重新开始计数
func (cn *ConsensusNet) Announce(nodeID types.NodeID) {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	if cn.nodeID == nodeID && (cn.connected || cn.failCount == 0) {
		return
	}
	cn.nodeID = nodeID
	cn.connected = false
	cn.failCount = 0
}

// AdoptNodeID 从其他节点分享的目录里获取nodeID
// 已连接的、或者失败次数达到上限等待重新发现的记录不修改
func (cn *ConsensusNet) AdoptNodeID(nodeID types.NodeID, maxFail int) bool {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	if nodeID.IsEmpty() || cn.connected || cn.failCount >= maxFail || cn.nodeID == nodeID {
		return false
	}
	cn.nodeID = nodeID
	return true
}

func (cn *ConsensusNet) MarkConnected() {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	cn.connected = true
	cn.everConnected = true
	cn.failCount = 0
}

func (cn *ConsensusNet) MarkDisconnected() {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	cn.connected = false
}

// MarkFailed 连接失败，达到maxFail时清除nodeID并返回true
func (cn *ConsensusNet) MarkFailed(maxFail int) bool {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	cn.connected = false
	cn.failCount++
	if cn.failCount >= maxFail {
		cn.nodeID = types.EmptyNodeID
		return true
	}
	return false
}

// Reset 对方主动断开：清空网络状态，不影响委员会身份
func (cn *ConsensusNet) Reset() {
	cn.mtx.Lock()
	defer cn.mtx.Unlock()
	cn.nodeID = types.EmptyNodeID
	cn.connected = false
	cn.failCount = 0
}

// ShouldDial nodeID已知、未连接、失败次数未达上限
func (cn *ConsensusNet) ShouldDial(maxFail int) bool {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return !cn.nodeID.IsEmpty() && !cn.connected && cn.failCount < maxFail
}

func (cn *ConsensusNet) Lite() ConsensusNetLite {
	return ConsensusNetLite{
		Address:   cn.Address,
		PublicKey: cn.PublicKey,
		NodeID:    cn.NodeID(),
	}
}

func (cn *ConsensusNet) Record() store.PeerRecord {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return store.PeerRecord{
		Address:   cn.Address,
		PublicKey: cn.PublicKey,
		NodeID:    cn.nodeID,
		FailCount: cn.failCount,
	}
}

func (cn *ConsensusNet) String() string {
	cn.mtx.RLock()
	defer cn.mtx.RUnlock()
	return fmt.Sprintf("ConsensusNet{%v %v connected:%v fail:%d}", cn.Address, cn.nodeID, cn.connected, cn.failCount)
}
