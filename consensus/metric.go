package consensus

import (
	jsoniter "github.com/json-iterator/go"
	metrics "github.com/rcrowley/go-metrics"
)

const (
	MetricVoteRound    = "consensus.vote_round"
	MetricActiveSlots  = "consensus.active_slots"
	MetricStaleVotes   = "consensus.stale_votes"
	MetricForkEvidence = "consensus.fork_evidence"
	MetricRejectedVote = "consensus.rejected_votes"
)

// Metrics 投票模块的指标，注册在每条链自己的registry里
type Metrics struct {
	VoteRound     metrics.Gauge
	ActiveSlots   metrics.Gauge
	StaleVotes    metrics.Counter
	ForkEvidence  metrics.Counter
	RejectedVotes metrics.Counter
}

func NewMetrics(registry metrics.Registry) *Metrics {
	return &Metrics{
		VoteRound:     metrics.GetOrRegisterGauge(MetricVoteRound, registry),
		ActiveSlots:   metrics.GetOrRegisterGauge(MetricActiveSlots, registry),
		StaleVotes:    metrics.GetOrRegisterCounter(MetricStaleVotes, registry),
		ForkEvidence:  metrics.GetOrRegisterCounter(MetricForkEvidence, registry),
		RejectedVotes: metrics.GetOrRegisterCounter(MetricRejectedVote, registry),
	}
}

// NopMetrics 不共享的独立registry，测试和未注入时使用
func NopMetrics() *Metrics {
	return NewMetrics(metrics.NewRegistry())
}

type consensusMetric struct {
	VoteRound     int64 `json:"current_vote_round"`
	ActiveSlots   int64 `json:"active_slots"`
	StaleVotes    int64 `json:"stale_votes"`
	ForkEvidence  int64 `json:"fork_evidence"`
	RejectedVotes int64 `json:"rejected_votes"`
}

func (m *Metrics) JSONString() string {
	s, _ := jsoniter.MarshalToString(consensusMetric{
		VoteRound:     m.VoteRound.Value(),
		ActiveSlots:   m.ActiveSlots.Value(),
		StaleVotes:    m.StaleVotes.Count(),
		ForkEvidence:  m.ForkEvidence.Count(),
		RejectedVotes: m.RejectedVotes.Count(),
	})
	return s
}
