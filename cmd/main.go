package main

import (
	"os"
	"path/filepath"

	cmd "chainbft_vote/cmd/commands"
	"chainbft_vote/config"
	nm "chainbft_vote/node"

	"github.com/tendermint/tendermint/libs/cli"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// NOTE:
	// Users wishing to:
	//	* Use a committee source backed by chain state
	//	* Provide their own DB implementation
	// can copy this file and use something other than the
	// DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	// Create & start node
	rootCmd.AddCommand(
		cmd.GenNodeKeyCmd,
		cmd.GenValidatorCmd,
		cmd.ShowNodeIDCmd,
		cmd.ShowValidatorCmd,
		cmd.AddMemberCmd,
		cmd.NewRunNodeCmd(nodeFunc),
	)
	executor := cli.PrepareBaseCmd(rootCmd, config.EnvPrefix, os.ExpandEnv(filepath.Join("$HOME", config.DefaultHomeDir)))

	if err := executor.Execute(); err != nil {
		panic(err)
	}
}
