package commands

import (
	cfg "chainbft_vote/config"
	nm "chainbft_vote/node"
	"chainbft_vote/privval"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/p2p"
)

// InitFilesCmd 初始化home目录：节点密钥、验证者密钥和只包含自己的委员会文件
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a vote node",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	if err := tmos.EnsureDir(config.ConfigDir(), 0700); err != nil {
		return err
	}
	if err := tmos.EnsureDir(config.DBDir(), 0700); err != nil {
		return err
	}

	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()

	var pv *privval.FilePV
	if tmos.FileExists(privValKeyFile) {
		pv = privval.LoadFilePV(privValKeyFile)
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		pv = privval.GenFilePV(privValKeyFile)
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	// committee file
	committeeFile := config.CommitteeFile()
	if tmos.FileExists(committeeFile) {
		logger.Info("Found committee file", "path", committeeFile)
		return nil
	}
	doc := &nm.CommitteeDoc{}
	for _, chainID := range config.Chains {
		doc.AddValidator(chainID, pv.Validator(config.Moniker))
	}
	if err := doc.SaveAs(committeeFile); err != nil {
		return err
	}
	logger.Info("Generated committee file", "path", committeeFile, "chains", doc.ChainIDs())
	return nil
}
