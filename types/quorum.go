package types

import (
	"fmt"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var ErrInvalidThresholds = errors.New("invalid vote thresholds")

// Thresholds 由调度模块给出的投票门限，核心模块只使用这些数值
type Thresholds struct {
	MinPass      int `json:"min_pass"`      // 某个hash达到该票数即通过
	MinByzantine int `json:"min_byzantine"` // 超过拜占庭容错上限的票数
	MinCover     int `json:"min_cover"`     // 判定分裂需要的总票数
}

// DefaultThresholds 按委员会大小n计算默认门限
// MinPass 为满足 t > 2n/3 的最小t，MinByzantine 为满足 t > n/3 的最小t
func DefaultThresholds(n int) Thresholds {
	if n <= 0 {
		return Thresholds{}
	}
	third, rem := n/3, n%3
	// rem为0时 2n/3 是整数，需要加1
	pass := 2*third + 1
	if rem == 2 {
		pass = 2*third + 2
	}
	byz := third + 1
	return Thresholds{
		MinPass:      pass,
		MinByzantine: byz,
		MinCover:     n - (n-1)/3,
	}
}

// ValidateBasic 检查 0 < MinPass <= MinCover <= n 且 MinByzantine <= MinPass
func (t Thresholds) ValidateBasic(committeeSize int) error {
	switch {
	case committeeSize <= 0:
		return errors.Wrapf(ErrInvalidThresholds, "committee size %d", committeeSize)
	case t.MinPass <= 0:
		return errors.Wrapf(ErrInvalidThresholds, "min pass %d", t.MinPass)
	case t.MinPass > t.MinCover:
		return errors.Wrapf(ErrInvalidThresholds, "min pass %d > min cover %d", t.MinPass, t.MinCover)
	case t.MinCover > committeeSize:
		return errors.Wrapf(ErrInvalidThresholds, "min cover %d > committee size %d", t.MinCover, committeeSize)
	case t.MinByzantine > t.MinPass:
		return errors.Wrapf(ErrInvalidThresholds, "min byzantine %d > min pass %d", t.MinByzantine, t.MinPass)
	}
	return nil
}

func (t Thresholds) String() string {
	return fmt.Sprintf("Thresholds{pass:%d byz:%d cover:%d}", t.MinPass, t.MinByzantine, t.MinCover)
}

// AggregatedSignature 通过的区块对应的一个投票者的签名
type AggregatedSignature struct {
	Address   Address          `json:"address"`
	Signature tmbytes.HexBytes `json:"signature"`
}
