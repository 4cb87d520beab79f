package overlay

import (
	jsoniter "github.com/json-iterator/go"
	metrics "github.com/rcrowley/go-metrics"
)

const (
	MetricAvailablePercent = "overlay.available_percent"
	MetricPeers            = "overlay.peers"
	MetricAuthFailures     = "overlay.auth_failures"
	MetricRejectedSenders  = "overlay.rejected_senders"
	MetricDialFailures     = "overlay.dial_failures"
	MetricRelayed          = "overlay.relayed"
)

// Metrics 私有网络的指标
type Metrics struct {
	AvailablePercent metrics.Gauge
	Peers            metrics.Gauge
	AuthFailures     metrics.Counter
	RejectedSenders  metrics.Counter
	DialFailures     metrics.Counter
	Relayed          metrics.Counter
}

func NewMetrics(registry metrics.Registry) *Metrics {
	return &Metrics{
		AvailablePercent: metrics.GetOrRegisterGauge(MetricAvailablePercent, registry),
		Peers:            metrics.GetOrRegisterGauge(MetricPeers, registry),
		AuthFailures:     metrics.GetOrRegisterCounter(MetricAuthFailures, registry),
		RejectedSenders:  metrics.GetOrRegisterCounter(MetricRejectedSenders, registry),
		DialFailures:     metrics.GetOrRegisterCounter(MetricDialFailures, registry),
		Relayed:          metrics.GetOrRegisterCounter(MetricRelayed, registry),
	}
}

type overlayMetric struct {
	AvailablePercent int64 `json:"available_percent"`
	Peers            int64 `json:"peers"`
	AuthFailures     int64 `json:"auth_failures"`
	RejectedSenders  int64 `json:"rejected_senders"`
	DialFailures     int64 `json:"dial_failures"`
	Relayed          int64 `json:"relayed"`
}

func (m *Metrics) JSONString() string {
	s, _ := jsoniter.MarshalToString(overlayMetric{
		AvailablePercent: m.AvailablePercent.Value(),
		Peers:            m.Peers.Value(),
		AuthFailures:     m.AuthFailures.Count(),
		RejectedSenders:  m.RejectedSenders.Count(),
		DialFailures:     m.DialFailures.Count(),
		Relayed:          m.Relayed.Count(),
	})
	return s
}
