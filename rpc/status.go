package rpc

import (
	"chainbft_vote/chain"
	"chainbft_vote/types"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultChains struct {
	Chains []string `json:"chains"`
}

type ResultDirectory struct {
	ChainID   string           `json:"chain_id"`
	Available bool             `json:"available"`
	Percent   int64            `json:"percent"`
	Entries   []ResultNetEntry `json:"entries"`
}

type ResultNetEntry struct {
	Address   types.Address `json:"address"`
	NodeID    types.NodeID  `json:"node_id"`
	Connected bool          `json:"connected"`
	FailCount int           `json:"fail_count"`
}

func Chains(ctx *rpctypes.Context) (*ResultChains, error) {
	if env == nil {
		return nil, ErrNoEnvironment
	}
	result := &ResultChains{Chains: []string{}}
	for _, c := range env.Registry.List() {
		result.Chains = append(result.Chains, c.ChainID())
	}
	return result, nil
}

// Status height对应的slot不存在时只返回目录状态
func Status(ctx *rpctypes.Context, chainID string, height uint64) (*chain.Status, error) {
	c, err := getChain(chainID)
	if err != nil {
		return nil, err
	}
	st := c.Status(height)
	return &st, nil
}

func Directory(ctx *rpctypes.Context, chainID string) (*ResultDirectory, error) {
	c, err := getChain(chainID)
	if err != nil {
		return nil, err
	}
	group := c.Overlay().Group()
	result := &ResultDirectory{
		ChainID:   chainID,
		Available: group.IsAvailable(),
		Percent:   group.Percent(),
		Entries:   []ResultNetEntry{},
	}
	for _, net := range group.List() {
		result.Entries = append(result.Entries, ResultNetEntry{
			Address:   net.Address,
			NodeID:    net.NodeID(),
			Connected: net.IsConnected(),
			FailCount: net.FailCount(),
		})
	}
	return result, nil
}
