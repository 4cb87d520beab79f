package commands

import (
	"fmt"

	nm "chainbft_vote/node"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/p2p"
)

// GenNodeKeyCmd 生成节点用来通信连接用的公私钥，
// 同时还要负责生成节点的nodeID
var GenNodeKeyCmd = &cobra.Command{
	Use:     "gen-node-key",
	Aliases: []string{"gen_node_key"},
	Short:   "Generate a node key for this node and print its ID",
	PreRun:  deprecateSnakeCase,
	RunE:    genNodeKey,
}

func genNodeKey(cmd *cobra.Command, args []string) error {
	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		return fmt.Errorf("node key at %s already exists", nodeKeyFile)
	}
	if err := tmos.EnsureDir(config.ConfigDir(), 0700); err != nil {
		return err
	}

	nodeKey, err := p2p.LoadOrGenNodeKey(nodeKeyFile)
	if err != nil {
		return err
	}
	fmt.Println(nodeKey.ID())
	return nil
}

// ShowNodeIDCmd 打印本节点在私有网络中的NodeID: <p2pID>@<ip>:<port>
var ShowNodeIDCmd = &cobra.Command{
	Use:     "show-node-id",
	Aliases: []string{"show_node_id"},
	Short:   "Show this node's ID",
	RunE:    showNodeID,
	PreRun:  deprecateSnakeCase,
}

func showNodeID(cmd *cobra.Command, args []string) error {
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		return err
	}

	if full, _ := cmd.Flags().GetBool("full"); full {
		fmt.Println(nm.NodeIDOf(config, nodeKey))
		return nil
	}
	fmt.Println(nodeKey.ID())
	return nil
}

func init() {
	ShowNodeIDCmd.Flags().Bool("full", false, "print id@ip:port instead of the bare p2p id")
}
