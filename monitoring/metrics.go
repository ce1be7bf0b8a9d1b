package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// summary only
	Count int64   `json:"count,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
}

// MetricsCollector 指标收集器，同名同标签的指标累加在一条记录上
type MetricsCollector struct {
	metrics     map[string]*Metric
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	m := mc.entry(name, MetricTypeCounter, labels)
	m.Value += value
	m.Timestamp = time.Now()
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	m := mc.entry(name, MetricTypeGauge, labels)
	m.Value = value
	m.Timestamp = time.Now()
}

// ObserveDuration 记录耗时（秒），Value 为累计和
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	seconds := d.Seconds()

	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	m := mc.entry(name, MetricTypeSummary, labels)
	if m.Count == 0 || seconds < m.Min {
		m.Min = seconds
	}
	if seconds > m.Max {
		m.Max = seconds
	}
	m.Count++
	m.Value += seconds
	m.Timestamp = time.Now()
}

func (mc *MetricsCollector) entry(name string, kind MetricType, labels map[string]string) *Metric {
	key := name + labelString(labels)
	m, ok := mc.metrics[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		m = &Metric{Name: name, Type: kind, Labels: copied}
		mc.metrics[key] = m
	}
	return m
}

// Value 返回计数器或仪表的当前值
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	if m, ok := mc.metrics[name+labelString(labels)]; ok {
		return m.Value
	}
	return 0
}

// GetAllMetrics 获取所有指标副本，按名称和标签排序
func (mc *MetricsCollector) GetAllMetrics() []Metric {
	mc.metricsLock.RLock()
	keys := make([]string, 0, len(mc.metrics))
	for key := range mc.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]Metric, 0, len(keys))
	for _, key := range keys {
		result = append(result, *mc.metrics[key])
	}
	mc.metricsLock.RUnlock()
	return result
}

// ExportPrometheus 导出Prometheus文本格式
func (mc *MetricsCollector) ExportPrometheus() string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, m := range mc.GetAllMetrics() {
		if !seen[m.Name] {
			seen[m.Name] = true
			fmt.Fprintf(&b, "# TYPE %s %s\n", m.Name, m.Type)
		}
		labels := labelString(m.Labels)
		if m.Type == MetricTypeSummary {
			fmt.Fprintf(&b, "%s_sum%s %g\n", m.Name, labels, m.Value)
			fmt.Fprintf(&b, "%s_count%s %d\n", m.Name, labels, m.Count)
			continue
		}
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, labels, m.Value)
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":       m.Alloc,
			"sys":         m.Sys,
			"heap_alloc":  m.HeapAlloc,
			"heap_inuse":  m.HeapInuse,
			"gc_count":    m.NumGC,
			"gc_pause_ns": m.PauseTotalNs,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// labelString {a="1",b="2"}，标签按键排序
func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
