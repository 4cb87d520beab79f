package node

import (
	"strings"

	"chainbft_vote/chain"
	"chainbft_vote/config"
	"chainbft_vote/types"

	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/version"
)

// 私有网络的p2p网络名，所有链共用
const NetworkName = "chainbft-vote"

func makeNodeInfo(
	cfg *config.Config,
	nodeKey *p2p.NodeKey,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			version.P2PProtocol, // global
			version.BlockProtocol,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       NetworkName,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			chain.OverlayChannel,
		},
		Moniker: cfg.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex: "off",
		},
	}

	nodeInfo.ListenAddr = listenAddress(cfg)

	err := nodeInfo.Validate()
	return nodeInfo, err
}

func listenAddress(cfg *config.Config) string {
	lAddr := cfg.P2P.ExternalAddress
	if lAddr == "" {
		lAddr = cfg.P2P.ListenAddress
	}
	return removeProtocolIfDefined(lAddr)
}

// NodeIDOf 节点在私有网络中的NodeID: <p2pID>@<ip>:<port>
func NodeIDOf(cfg *config.Config, nodeKey *p2p.NodeKey) types.NodeID {
	return types.NodeID(p2p.IDAddressString(nodeKey.ID(), listenAddress(cfg)))
}

// nodeP2PID 从NodeID中取出p2p id
func nodeP2PID(nodeID types.NodeID) p2p.ID {
	return p2p.ID(nodeID.PeerID())
}

func removeProtocolIfDefined(addr string) string {
	if strings.Contains(addr, "://") {
		return strings.Split(addr, "://")[1]
	}
	return addr
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
