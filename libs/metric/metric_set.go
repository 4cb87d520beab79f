package metric

import (
	"errors"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

// MetricSet 节点上所有链的指标，label形如 <chainID>/<module>
type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// SetMetrics - 根据label设置对应的Metrics，如果有存在的label，则返回error
func (ms *MetricSet) SetMetrics(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()

	if _, existed := ms.metrics[label]; existed {
		return ErrMetricLabelExist
	}
	ms.metrics[label] = item
	return nil
}

// RemoveMetrics 链被移除时清理它的指标
func (ms *MetricSet) RemoveMetrics(label string) {
	ms.mtx.Lock()
	delete(ms.metrics, label)
	ms.mtx.Unlock()
}

func (ms *MetricSet) HasMetrics(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

func (ms *MetricSet) GetMetrics(label string) MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	return ms.metrics[label]
}

// GetAlllabels 按字典序返回
func (ms *MetricSet) GetAlllabels() []string {
	ms.mtx.RLock()
	keys := make([]string, 0, len(ms.metrics))
	for k := range ms.metrics {
		keys = append(keys, k)
	}
	ms.mtx.RUnlock()

	sort.Strings(keys)
	return keys
}

func (ms *MetricSet) GetAllMetrics() []MetricItem {
	labels := ms.GetAlllabels()

	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	vals := make([]MetricItem, 0, len(labels))
	for _, label := range labels {
		if v, ok := ms.metrics[label]; ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// JSONString 所有指标汇总成一个json对象，key为label
func (ms *MetricSet) JSONString() string {
	ms.mtx.RLock()
	all := make(map[string]jsoniter.RawMessage, len(ms.metrics))
	for label, item := range ms.metrics {
		all[label] = jsoniter.RawMessage(item.JSONString())
	}
	ms.mtx.RUnlock()

	s, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(all)
	if err != nil {
		return "{}"
	}
	return s
}
