package commands

import (
	"fmt"

	"chainbft_vote/privval"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// GenValidatorCmd生成共识验证者的公私钥对，签名和私有网络加密共用
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Args:    cobra.ArbitraryArgs,
	Short:   "Generate new validator keypair",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
		return nil
	}
	if err := tmos.EnsureDir(config.ConfigDir(), 0700); err != nil {
		return err
	}

	pv := privval.GenFilePV(privValKeyFile)
	pv.Save()

	jsbz, err := tmjson.Marshal(pv.Validator(config.Moniker))
	if err != nil {
		return err
	}
	fmt.Printf(`%v
`, string(jsbz))
	return nil
}

// ShowValidatorCmd 打印本节点的委员会身份，用于加入其他节点的委员会文件
var ShowValidatorCmd = &cobra.Command{
	Use:     "show-validator",
	Aliases: []string{"show_validator"},
	Short:   "Show this node's validator info",
	PreRun:  deprecateSnakeCase,
	RunE:    showValidator,
}

func showValidator(cmd *cobra.Command, args []string) error {
	keyFilePath := config.PrivValidatorKeyFile()
	if !tmos.FileExists(keyFilePath) {
		return fmt.Errorf("private validator file %s does not exist", keyFilePath)
	}

	pv := privval.LoadFilePV(keyFilePath)
	bz, err := tmjson.Marshal(pv.Validator(config.Moniker))
	if err != nil {
		return fmt.Errorf("failed to marshal validator: %w", err)
	}

	fmt.Println(string(bz))
	return nil
}
