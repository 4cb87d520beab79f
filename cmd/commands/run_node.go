package commands

import (
	"fmt"

	nm "chainbft_vote/node"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a vote node
func AddNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("moniker", config.Moniker, "node name")
	cmd.Flags().StringSlice("chains", config.Chains, "chains served by this node")
	cmd.Flags().String("db_backend", config.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", config.DBPath, "database directory")

	// p2p flags
	cmd.Flags().String("p2p.laddr", config.P2P.ListenAddress,
		"node listen address. (0.0.0.0:0 means any interface, any port)")
	cmd.Flags().String("p2p.external_address", config.P2P.ExternalAddress,
		"ip:port address to advertise to peers for them to dial")
	cmd.Flags().String("p2p.persistent_peers", config.P2P.PersistentPeers,
		"comma-delimited ID@host:port persistent peers")

	// overlay flags
	cmd.Flags().Int("overlay.max_fail", config.Overlay.MaxFail,
		"consecutive dial failures before a node id is forgotten")
	cmd.Flags().Int("overlay.available_percent", config.Overlay.AvailablePercent,
		"percent of reachable committee members for the directory to be available")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// It can be used with a custom PrivValidator and in-process ABCI application.
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run", "run-node"},
		Short:   "Run the vote node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("Started node", "nodeInfo", n.Switch().NodeInfo(), "self", n.SelfNodeID())

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
