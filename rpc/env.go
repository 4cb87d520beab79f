package rpc

import (
	"chainbft_vote/chain"
	"chainbft_vote/libs/metric"

	"github.com/pkg/errors"
)

var (
	env *Environment

	ErrNoEnvironment = errors.New("rpc environment is not set")
)

func SetEnvironment(e *Environment) {
	env = e
}

// Environment 只读查询需要的节点组件
type Environment struct {
	Registry  *chain.Registry
	MetricSet *metric.MetricSet
}

func getChain(chainID string) (*chain.Chain, error) {
	if env == nil {
		return nil, ErrNoEnvironment
	}
	return env.Registry.Get(chainID)
}
