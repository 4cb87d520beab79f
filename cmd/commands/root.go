package commands

import (
	"fmt"
	"os"
	"strings"

	cfg "chainbft_vote/config"

	"github.com/go-kit/kit/log/term"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/cli"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewTMLoggerWithColorFn(log.NewSyncWriter(os.Stdout), moduleColorFn)
)

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level: debug | info | error | none")
}

// 按模块给日志上色
func moduleColorFn(keyvals ...interface{}) term.FgBgColor {
	for i := 0; i < len(keyvals)-1; i += 2 {
		if keyvals[i] != "module" {
			continue
		}
		switch keyvals[i+1] {
		case "voting":
			return term.FgBgColor{Fg: term.Blue}
		case "overlay", "maintainer":
			return term.FgBgColor{Fg: term.Green}
		case "p2p":
			return term.FgBgColor{Fg: term.DarkGray}
		}
	}
	return term.FgBgColor{}
}

// ParseConfig 读取home目录下的config.toml，命令行参数优先
func ParseConfig() (*cfg.Config, error) {
	conf, err := cfg.LoadConfig(viper.GetViper(), viper.GetString(cli.HomeFlag))
	if err != nil {
		return nil, fmt.Errorf("error in config file: %v", err)
	}
	return conf, nil
}

// RootCmd is the root command for the vote node.
var RootCmd = &cobra.Command{
	Use:   "chainvote",
	Short: "BFT vote collection and validator overlay node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		config, err = ParseConfig()
		if err != nil {
			return err
		}

		option, err := log.AllowLevel(config.LogLevel)
		if err != nil {
			return err
		}
		logger = log.NewFilter(logger, option)
		if viper.GetBool(cli.TraceFlag) {
			logger = log.NewTracingLogger(logger)
		}

		logger = logger.With("module", "main")
		return nil
	},
}

// deprecateSnakeCase is a util function for 0.34.1. Should be removed in 0.35
func deprecateSnakeCase(cmd *cobra.Command, args []string) {
	if strings.Contains(cmd.CalledAs(), "_") {
		fmt.Println("Deprecated: snake_case commands will be replaced by hyphen-case commands in the next major release")
	}
}
