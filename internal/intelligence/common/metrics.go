package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// IntelligenceMetrics is the telemetry surface of the prediction layer.
// Preprocessing, scoring and the fingerprint cache all report through it so
// the backend (Prometheus, in-memory, noop) can be swapped freely.
type IntelligenceMetrics interface {
	// RecordInference records one end-to-end pair prediction.
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordBatchProcessing records one processed corpus chunk.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a cache hit or miss for the named cache.
	RecordCacheAccess(ctx context.Context, hit bool, cacheName string)

	// RecordCacheEviction records a bulk clear of the named cache.
	RecordCacheEviction(ctx context.Context, cacheName string, entries int)

	// RecordRiskAssessment records a translated prediction by severity tier.
	RecordRiskAssessment(ctx context.Context, severity string, durationMs float64)

	// RecordModelLoad records an artifact or model load.
	RecordModelLoad(ctx context.Context, modelName, version string, durationMs float64, success bool)

	// GetInferenceLatencyHistogram returns the latency histogram for SLO monitoring.
	GetInferenceLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// InferenceMetricParams carries the data for a single prediction.
type InferenceMetricParams struct {
	ModelName    string  `json:"model_name"`
	ModelVersion string  `json:"model_version"`
	InputMode    string  `json:"input_mode"`
	DurationMs   float64 `json:"duration_ms"`
	Success      bool    `json:"success"`
	Cached       bool    `json:"cached"`
}

// BatchMetricParams carries the counters of one preprocessing chunk.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalRows         int     `json:"total_rows"`
	EncodedRows       int     `json:"encoded_rows"`
	UnknownDrugRows   int     `json:"unknown_drug_rows"`
	InvalidStructures int     `json:"invalid_structures"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
}

// IntelligenceStats is a point-in-time snapshot of prediction-layer metrics.
type IntelligenceStats struct {
	TotalInferences       int64            `json:"total_inferences"`
	SuccessfulInferences  int64            `json:"successful_inferences"`
	FailedInferences      int64            `json:"failed_inferences"`
	AvgInferenceLatencyMs float64          `json:"avg_inference_latency_ms"`
	P50LatencyMs          float64          `json:"p50_latency_ms"`
	P95LatencyMs          float64          `json:"p95_latency_ms"`
	P99LatencyMs          float64          `json:"p99_latency_ms"`
	CacheHitRate          float64          `json:"cache_hit_rate"`
	CacheEvictions        int64            `json:"cache_evictions"`
	EncodedRows           int64            `json:"encoded_rows"`
	RiskCounts            map[string]int64 `json:"risk_counts"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "ddi_intelligence_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// PrometheusIntelligenceMetrics records into Prometheus collectors and keeps
// a small in-process mirror for GetCurrentStats.
type PrometheusIntelligenceMetrics struct {
	inferenceLatency        *prometheus.HistogramVec
	inferenceTotal          *prometheus.CounterVec
	batchProcessingDuration *prometheus.HistogramVec
	batchRowsTotal          *prometheus.CounterVec
	cacheAccessTotal        *prometheus.CounterVec
	cacheEvictedEntries     *prometheus.CounterVec
	riskAssessmentTotal     *prometheus.CounterVec
	riskAssessmentDuration  *prometheus.HistogramVec
	modelLoadDuration       *prometheus.HistogramVec

	latencyHist *latencyHistogram
	totalInf    atomic.Int64
	successInf  atomic.Int64
	failedInf   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	evictions   atomic.Int64
	encodedRows atomic.Int64
	riskCounts  sync.Map // severity -> *atomic.Int64
}

// NewPrometheusIntelligenceMetrics creates a Prometheus-backed collector and
// registers all metrics with the supplied Registerer.
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer) (*PrometheusIntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PrometheusIntelligenceMetrics{
		latencyHist: newLatencyHistogram(),
	}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "inference_duration_milliseconds",
		Help:    "Histogram of pair prediction latency in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "model_version", "input_mode"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "inference_total",
		Help: "Total number of pair predictions.",
	}, []string{"model_name", "input_mode", "status"})

	m.batchProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "batch_processing_duration_milliseconds",
		Help:    "Histogram of corpus chunk processing duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "batch_rows_total",
		Help: "Total number of corpus rows by outcome.",
	}, []string{"batch_name", "outcome"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "cache_access_total",
		Help: "Total number of cache accesses.",
	}, []string{"cache", "result"})

	m.cacheEvictedEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "cache_evicted_entries_total",
		Help: "Total number of entries dropped by bulk cache clears.",
	}, []string{"cache"})

	m.riskAssessmentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "risk_assessment_total",
		Help: "Total number of risk assessments by severity.",
	}, []string{"severity"})

	m.riskAssessmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "risk_assessment_duration_milliseconds",
		Help:    "Histogram of risk translation duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"severity"})

	m.modelLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "model_load_duration_milliseconds",
		Help:    "Histogram of artifact and model load duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"model_name", "version", "status"})

	collectors := []prometheus.Collector{
		m.inferenceLatency,
		m.inferenceTotal,
		m.batchProcessingDuration,
		m.batchRowsTotal,
		m.cacheAccessTotal,
		m.cacheEvictedEntries,
		m.riskAssessmentTotal,
		m.riskAssessmentDuration,
		m.modelLoadDuration,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *PrometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceLatency.WithLabelValues(p.ModelName, p.ModelVersion, p.InputMode).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, p.InputMode, statusLabel(p.Success)).Inc()

	m.latencyHist.Observe(p.DurationMs)
	m.totalInf.Add(1)
	if p.Success {
		m.successInf.Add(1)
	} else {
		m.failedInf.Add(1)
	}
}

func (m *PrometheusIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchProcessingDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchRowsTotal.WithLabelValues(p.BatchName, "encoded").Add(float64(p.EncodedRows))
	m.batchRowsTotal.WithLabelValues(p.BatchName, "unknown_drug").Add(float64(p.UnknownDrugRows))
	m.batchRowsTotal.WithLabelValues(p.BatchName, "invalid_structure").Add(float64(p.InvalidStructures))
	m.encodedRows.Add(int64(p.EncodedRows))
}

func (m *PrometheusIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, cacheName string) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(cacheName, result).Inc()
}

func (m *PrometheusIntelligenceMetrics) RecordCacheEviction(_ context.Context, cacheName string, entries int) {
	m.evictions.Add(1)
	m.cacheEvictedEntries.WithLabelValues(cacheName).Add(float64(entries))
}

func (m *PrometheusIntelligenceMetrics) RecordRiskAssessment(_ context.Context, severity string, durationMs float64) {
	m.riskAssessmentTotal.WithLabelValues(severity).Inc()
	m.riskAssessmentDuration.WithLabelValues(severity).Observe(durationMs)
	v, _ := m.riskCounts.LoadOrStore(severity, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *PrometheusIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	m.modelLoadDuration.WithLabelValues(modelName, version, statusLabel(success)).Observe(durationMs)
}

func (m *PrometheusIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *PrometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	total := m.totalInf.Load()

	var avgLatency float64
	if total > 0 {
		avgLatency = m.latencyHist.Sum() / float64(total)
	}

	risk := make(map[string]int64)
	m.riskCounts.Range(func(key, value any) bool {
		risk[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  m.successInf.Load(),
		FailedInferences:      m.failedInf.Load(),
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		CacheEvictions:        m.evictions.Load(),
		EncodedRows:           m.encodedRows.Load(),
		RiskCounts:            risk,
	}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

// NoopIntelligenceMetrics discards everything.
type NoopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a no-op metrics implementation.
func NewNoopIntelligenceMetrics() *NoopIntelligenceMetrics {
	return &NoopIntelligenceMetrics{}
}

func (n *NoopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams)       {}
func (n *NoopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams)      {}
func (n *NoopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)                {}
func (n *NoopIntelligenceMetrics) RecordCacheEviction(context.Context, string, int)               {}
func (n *NoopIntelligenceMetrics) RecordRiskAssessment(context.Context, string, float64)          {}
func (n *NoopIntelligenceMetrics) RecordModelLoad(context.Context, string, string, float64, bool) {}

func (n *NoopIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *NoopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{RiskCounts: map[string]int64{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

// InMemoryIntelligenceMetrics keeps every event in memory. Intended for tests.
type InMemoryIntelligenceMetrics struct {
	mu sync.Mutex

	inferences  []*InferenceMetricParams
	batches     []*BatchMetricParams
	cacheHits   int64
	cacheMisses int64
	evictions   map[string]int
	clears      int64
	riskCounts  map[string]int64
	modelLoads  []ModelLoadRecord
	latencyHist *latencyHistogram
}

// ModelLoadRecord is one RecordModelLoad call captured in memory.
type ModelLoadRecord struct {
	ModelName  string
	Version    string
	DurationMs float64
	Success    bool
	Timestamp  time.Time
}

// NewInMemoryIntelligenceMetrics returns an in-memory metrics implementation.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{
		evictions:   make(map[string]int),
		riskCounts:  make(map[string]int64),
		latencyHist: newLatencyHistogram(),
	}
}

func (m *InMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.inferences = append(m.inferences, &cp)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.batches = append(m.batches, &cp)
}

func (m *InMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *InMemoryIntelligenceMetrics) RecordCacheEviction(_ context.Context, cacheName string, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions[cacheName] += entries
	m.clears++
}

func (m *InMemoryIntelligenceMetrics) RecordRiskAssessment(_ context.Context, severity string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskCounts[severity]++
}

func (m *InMemoryIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelLoads = append(m.modelLoads, ModelLoadRecord{
		ModelName:  modelName,
		Version:    version,
		DurationMs: durationMs,
		Success:    success,
		Timestamp:  time.Now(),
	})
}

func (m *InMemoryIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(len(m.inferences))
	var success, failed int64
	var sumLatency float64
	for _, inf := range m.inferences {
		if inf.Success {
			success++
		} else {
			failed++
		}
		sumLatency += inf.DurationMs
	}

	var avgLatency float64
	if total > 0 {
		avgLatency = sumLatency / float64(total)
	}

	var encoded int64
	for _, b := range m.batches {
		encoded += int64(b.EncodedRows)
	}

	risk := make(map[string]int64, len(m.riskCounts))
	for k, v := range m.riskCounts {
		risk[k] = v
	}

	return &IntelligenceStats{
		TotalInferences:       total,
		SuccessfulInferences:  success,
		FailedInferences:      failed,
		AvgInferenceLatencyMs: avgLatency,
		P50LatencyMs:          m.latencyHist.Percentile(50),
		P95LatencyMs:          m.latencyHist.Percentile(95),
		P99LatencyMs:          m.latencyHist.Percentile(99),
		CacheHitRate:          hitRate(m.cacheHits, m.cacheMisses),
		CacheEvictions:        m.clears,
		EncodedRows:           encoded,
		RiskCounts:            risk,
	}
}

// Inferences returns a copy of all recorded inference params.
func (m *InMemoryIntelligenceMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InferenceMetricParams, len(m.inferences))
	for i, p := range m.inferences {
		out[i] = *p
	}
	return out
}

// Batches returns a copy of all recorded batch params.
func (m *InMemoryIntelligenceMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchMetricParams, len(m.batches))
	for i, p := range m.batches {
		out[i] = *p
	}
	return out
}

// CacheHits returns the number of cache hits recorded.
func (m *InMemoryIntelligenceMetrics) CacheHits() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits
}

// CacheMisses returns the number of cache misses recorded.
func (m *InMemoryIntelligenceMetrics) CacheMisses() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheMisses
}

// EvictedEntries returns the total entries dropped from the named cache.
func (m *InMemoryIntelligenceMetrics) EvictedEntries(cacheName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions[cacheName]
}

// RiskCounts returns a copy of the per-severity counts.
func (m *InMemoryIntelligenceMetrics) RiskCounts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.riskCounts))
	for k, v := range m.riskCounts {
		out[k] = v
	}
	return out
}

// ModelLoads returns a copy of all model load records.
func (m *InMemoryIntelligenceMetrics) ModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelLoadRecord, len(m.modelLoads))
	copy(out, m.modelLoads)
	return out
}

// ---------------------------------------------------------------------------
// latencyHistogram: in-memory, thread-safe, percentile-capable
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{
		samples: make([]float64, 0, 256),
	}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile returns the value at percentile p (0-100) using linear
// interpolation between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}

	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

var (
	_ IntelligenceMetrics = (*PrometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*NoopIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*InMemoryIntelligenceMetrics)(nil)
	_ LatencyHistogram    = (*latencyHistogram)(nil)
)
