package chain

import (
	"sort"

	"chainbft_vote/overlay"
	"chainbft_vote/types"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	ErrUnknownChain = errors.New("unknown chain")
	ErrChainExists  = errors.New("chain already registered")
)

// Registry 本节点服务的所有链，按chainID分发消息
type Registry struct {
	logger log.Logger
	chains *cmap.CMap // chainID -> *Chain
}

func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		logger: logger,
		chains: cmap.NewCMap(),
	}
}

func (r *Registry) Add(c *Chain) error {
	if r.chains.Has(c.ChainID()) {
		return errors.Wrap(ErrChainExists, c.ChainID())
	}
	r.chains.Set(c.ChainID(), c)
	return nil
}

func (r *Registry) Get(chainID string) (*Chain, error) {
	c, ok := r.chains.Get(chainID).(*Chain)
	if !ok {
		return nil, errors.Wrap(ErrUnknownChain, chainID)
	}
	return c, nil
}

// Remove 停止并移除一条链
func (r *Registry) Remove(chainID string) error {
	c, err := r.Get(chainID)
	if err != nil {
		return err
	}
	r.chains.Delete(chainID)
	if c.IsRunning() {
		return c.Stop()
	}
	return nil
}

// List 按chainID排序
func (r *Registry) List() []*Chain {
	vals := r.chains.Values()
	chains := make([]*Chain, 0, len(vals))
	for _, v := range vals {
		chains = append(chains, v.(*Chain))
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].ChainID() < chains[j].ChainID()
	})
	return chains
}

func (r *Registry) Size() int {
	return r.chains.Size()
}

// StartAll 启动所有链，失败的链不影响其他链
func (r *Registry) StartAll() error {
	var result *multierror.Error
	for _, c := range r.List() {
		if err := c.Start(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, c.ChainID()))
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) StopAll() error {
	var result *multierror.Error
	for _, c := range r.List() {
		if !c.IsRunning() {
			continue
		}
		if err := c.Stop(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, c.ChainID()))
		}
	}
	return result.ErrorOrNil()
}

// Dispatch 把消息交给对应的链
func (r *Registry) Dispatch(env *overlay.Envelope, raw []byte, from types.NodeID) error {
	c, err := r.Get(env.ChainID)
	if err != nil {
		return err
	}
	return c.HandleEnvelope(env, raw, from)
}

// PeerDisconnected 网络层断开时通知所有链
func (r *Registry) PeerDisconnected(nodeID types.NodeID) {
	for _, c := range r.List() {
		c.OnPeerDisconnected(nodeID)
	}
}
