package commands

import (
	"fmt"
	"io/ioutil"

	nm "chainbft_vote/node"
	"chainbft_vote/types"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

var memberChains []string

// AddMemberCmd 把show-validator的输出加入本地委员会文件
var AddMemberCmd = &cobra.Command{
	Use:     "add-member [validator.json]",
	Aliases: []string{"add_member"},
	Args:    cobra.ExactArgs(1),
	Short:   "Add a validator to the committee of the given chains",
	PreRun:  deprecateSnakeCase,
	RunE:    addMember,
}

func init() {
	AddMemberCmd.Flags().StringSliceVar(&memberChains, "chain", nil, "链名，不指定则加入本节点配置的所有链")
}

func addMember(cmd *cobra.Command, args []string) error {
	bz, err := ioutil.ReadFile(args[0])
	if err != nil {
		return err
	}
	val := &types.Validator{}
	if err := tmjson.Unmarshal(bz, val); err != nil {
		return fmt.Errorf("decode validator %s: %w", args[0], err)
	}
	if err := val.ValidateBasic(); err != nil {
		return err
	}

	committeeFile := config.CommitteeFile()
	doc, err := nm.LoadCommitteeDoc(committeeFile)
	if err != nil {
		return err
	}

	chains := memberChains
	if len(chains) == 0 {
		chains = config.Chains
	}
	for _, chainID := range chains {
		doc.AddValidator(chainID, val)
	}
	if err := doc.SaveAs(committeeFile); err != nil {
		return err
	}
	logger.Info("Added committee member", "validator", val, "chains", chains)
	return nil
}
