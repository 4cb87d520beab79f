package node

import (
	"fmt"
	"net"
	"net/http"

	"chainbft_vote/chain"
	"chainbft_vote/config"
	"chainbft_vote/libs/metric"
	"chainbft_vote/privval"
	"chainbft_vote/rpc"
	"chainbft_vote/store"
	"chainbft_vote/types"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
)

const directoryDBName = "directory"

type Provider func(*config.Config, log.Logger) (*Node, error)

type Node struct {
	service.BaseService

	// config
	config *config.Config

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey
	selfNode  types.NodeID

	privValidator *privval.FilePV
	committee     *types.StaticCommittee
	store         store.Store

	// service
	registry  *chain.Registry
	reactor   *chain.Reactor
	metricSet *metric.MetricSet

	rpcListener net.Listener
}

type Option func(*Node)

// WithStore 替换默认的leveldb目录存储，测试时使用内存库
func WithStore(st store.Store) Option {
	return func(n *Node) {
		n.store = st
	}
}

// DefaultNewNode 从home目录读取节点密钥、验证者密钥和委员会文件
func DefaultNewNode(cfg *config.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", cfg.NodeKeyFile(), err)
	}
	pv := privval.LoadOrGenFilePV(cfg.PrivValidatorKeyFile())

	doc, err := LoadCommitteeDoc(cfg.CommitteeFile())
	if err != nil {
		return nil, err
	}
	return NewNode(cfg, nodeKey, pv, doc.Committee(), logger)
}

func createTransport(
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)
	return transport
}

func createSwitch(cfg *config.Config,
	transport p2p.Transport,
	overlayReactor *chain.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		cfg.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("OVERLAY", overlayReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", cfg.NodeKeyFile())
	return sw
}

func NewNode(
	cfg *config.Config,
	nodeKey *p2p.NodeKey,
	pv *privval.FilePV,
	committee *types.StaticCommittee,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	node := &Node{
		config:        cfg,
		nodeKey:       nodeKey,
		privValidator: pv,
		committee:     committee,
		metricSet:     metric.NewMetricSet(),
	}
	for _, option := range options {
		option(node)
	}

	if node.store == nil {
		st, err := store.NewKVStore(directoryDBName, cfg.DBDir(), cfg.DBBackend, logger.With("module", "store"))
		if err != nil {
			return nil, err
		}
		node.store = st
	}

	// setup node identity
	nodeInfo, err := makeNodeInfo(cfg, nodeKey)
	if err != nil {
		return nil, err
	}
	node.nodeInfo = nodeInfo
	node.selfNode = NodeIDOf(cfg, nodeKey)

	node.registry = chain.NewRegistry(logger.With("module", "registry"))
	node.reactor = chain.NewReactor(node.registry)
	node.reactor.SetLogger(logger.With("module", "overlay"))

	// Setup Transport.
	node.transport = createTransport(nodeInfo, nodeKey)

	// Setup Switch.
	node.sw = createSwitch(
		cfg, node.transport, node.reactor, nodeInfo, nodeKey, logger.With("module", "p2p"),
	)

	transport := NewSwitchTransport(node.sw)
	for _, chainID := range cfg.Chains {
		if err := node.addChain(chainID, transport, logger); err != nil {
			return nil, err
		}
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	return node, nil
}

// addChain 每条链独立的ChainContext，共用密钥、委员会来源和网络
func (n *Node) addChain(chainID string, transport types.Transport, logger log.Logger) error {
	ctx := types.NewChainContext(chainID, n.selfNode, n.privValidator.Identity(), n.committee, transport, logger)
	if !ctx.IsMember(ctx.Self) {
		logger.Info("not a committee member, only observing votes", "chain", chainID)
	}
	c, err := chain.NewChain(ctx, n.config, n.store)
	if err != nil {
		return errors.Wrapf(err, "create chain %s", chainID)
	}
	if err := n.registry.Add(c); err != nil {
		return err
	}
	if err := n.metricSet.SetMetrics(chainID+"/consensus", c.Voting().Metrics()); err != nil {
		return err
	}
	return n.metricSet.SetMetrics(chainID+"/overlay", c.Overlay().Metrics())
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

// SelfNodeID 本节点在私有网络中的NodeID
func (n *Node) SelfNodeID() types.NodeID {
	return n.selfNode
}

func (n *Node) Registry() *chain.Registry {
	return n.registry
}

func (n *Node) MetricSet() *metric.MetricSet {
	return n.metricSet
}

func (n *Node) OnStart() error {
	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	err = n.sw.Start()
	if err != nil {
		return err
	}

	if err := n.registry.StartAll(); err != nil {
		return err
	}

	if n.config.RPC.ListenAddress != "" {
		listener, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListener = listener
	}

	// persistent_peers只用来加快发现，私有网络的连接由各条链自己维护
	n.Logger.Info("onstart", "self", n.selfNode, "chains", n.config.Chains, "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

func (n *Node) OnStop() {
	var result error
	if n.rpcListener != nil {
		if err := n.rpcListener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := n.registry.StopAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := n.sw.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := n.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := n.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		n.Logger.Error("error while stopping node", "err", result)
	}
}

// startRPC 只读的状态和指标查询
func (n *Node) startRPC() (net.Listener, error) {
	rpc.SetEnvironment(&rpc.Environment{
		Registry:  n.registry,
		MetricSet: n.metricSet,
	})

	rpcLogger := n.Logger.With("module", "rpc-server")
	mux := http.NewServeMux()
	rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

	config := rpcserver.DefaultConfig()
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections
	listener, err := rpcserver.Listen(n.config.RPC.ListenAddress, config)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
			rpcLogger.Info("rpc server stopped", "err", err)
		}
	}()
	return listener, nil
}
