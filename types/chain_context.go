package types

import (
	"context"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
)

// CommitteeSource 委员会成员来源，通常由链上状态提供
type CommitteeSource interface {
	CurrentCommittee(chainID string) []Address
	CommitteeSize(chainID string, roundIndex uint64) int
	// PublicKey 返回成员在链上登记的公钥
	PublicKey(chainID string, addr Address) ([]byte, error)
}

type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

type Verifier interface {
	Verify(msg, sig, pubKey []byte) bool
	AddressOf(pubKey []byte) Address
}

// Crypto 本节点的签名、验签、加解密能力
type Crypto interface {
	Signer
	Verifier
	EncryptFor(pubKey, msg []byte) ([]byte, error)
	DecryptForSelf(ciphertext []byte) ([]byte, error)
	PubKey() []byte
}

// Transport 底层点对点网络
type Transport interface {
	Connect(ctx context.Context, nodeID NodeID) error
	IsReachable(ip string) bool
	Send(nodeID NodeID, msg []byte) bool
	Broadcast(msg []byte)
	Peers() []NodeID
}

// ChainContext 每条链独立的运行上下文，代替全局单例
type ChainContext struct {
	ChainID   string
	Self      Address
	SelfNode  NodeID
	Crypto    Crypto
	Committee CommitteeSource
	Transport Transport

	Logger  log.Logger
	Metrics metrics.Registry
	Events  events.EventSwitch
}

func NewChainContext(
	chainID string,
	selfNode NodeID,
	cr Crypto,
	committee CommitteeSource,
	transport Transport,
	logger log.Logger,
) *ChainContext {
	return &ChainContext{
		ChainID:   chainID,
		Self:      cr.AddressOf(cr.PubKey()),
		SelfNode:  selfNode,
		Crypto:    cr,
		Committee: committee,
		Transport: transport,
		Logger:    logger.With("chain", chainID),
		Metrics:   metrics.NewRegistry(),
		Events:    events.NewEventSwitch(),
	}
}

// IsMember 判断地址是否属于当前委员会
func (c *ChainContext) IsMember(addr Address) bool {
	for _, member := range c.Committee.CurrentCommittee(c.ChainID) {
		if member.Equal(addr) {
			return true
		}
	}
	return false
}

// PublicKeyOf 从委员会来源查询公钥
func (c *ChainContext) PublicKeyOf(addr Address) ([]byte, error) {
	return c.Committee.PublicKey(c.ChainID, addr)
}
