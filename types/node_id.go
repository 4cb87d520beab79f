package types

import (
	"net"
	"strings"
)

// NodeID 共识节点在网络层的标识，格式和tendermint的NetAddress一致: <p2pID>@<ip>:<port>
type NodeID string

const EmptyNodeID = NodeID("")

func (id NodeID) IsEmpty() bool {
	return strings.TrimSpace(string(id)) == ""
}

// HostPort 去掉p2p id前缀后的ip:port
func (id NodeID) HostPort() string {
	s := string(id)
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// IP 返回NodeID里的ip部分，无法解析时返回空串
func (id NodeID) IP() string {
	hostPort := id.HostPort()
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return ""
	}
	return host
}

// PeerID '@'之前的p2p id，没有'@'时返回整个NodeID
func (id NodeID) PeerID() string {
	s := string(id)
	if idx := strings.Index(s, "@"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// SamePeer p2p id相同就是同一个节点，入站连接的端口是临时分配的
func (id NodeID) SamePeer(other NodeID) bool {
	if id.IsEmpty() || other.IsEmpty() {
		return false
	}
	return id.PeerID() == other.PeerID()
}

func (id NodeID) String() string {
	return string(id)
}
