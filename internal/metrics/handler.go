package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the live metrics endpoint.
type Summary struct {
	Mode   string        `json:"mode"`
	HTTP   httpInfo      `json:"http"`
	Chat   chatInfo      `json:"chat"`
	Ledger ledgerInfo    `json:"ledger"`
	Usage  collectorInfo `json:"usage"`
	DB     dbInfo        `json:"db"`
	Server serverInfo    `json:"server"`
}

type httpInfo struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
}

type chatInfo struct {
	TotalSagas          float64 `json:"totalSagas"`
	Answered            float64 `json:"answered"`
	Degraded            float64 `json:"degraded"`
	PaymentRequired     float64 `json:"paymentRequired"`
	Compensations       float64 `json:"compensations"`
	FailedCompensations float64 `json:"failedCompensations"`
	P95Generation       float64 `json:"p95Generation"`
	P95Retrieval        float64 `json:"p95Retrieval"`
}

type ledgerInfo struct {
	TotalOperations float64 `json:"totalOperations"`
	Errors          float64 `json:"errors"`
}

type collectorInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Records      float64 `json:"records"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	summary := Summary{
		Mode: "live",
		HTTP: httpInfo{
			TotalRequests: sumCounter(fam["tollchat_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["tollchat_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["tollchat_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["tollchat_http_request_duration_seconds"], 0.95),
		},
		Chat: chatInfo{
			TotalSagas:          sumCounter(fam["tollchat_chat_requests_total"]),
			Answered:            counterWithLabel(fam["tollchat_chat_requests_total"], "outcome", OutcomeAnswered),
			Degraded:            counterWithLabel(fam["tollchat_chat_requests_total"], "outcome", OutcomeDegraded),
			PaymentRequired:     counterWithLabel(fam["tollchat_chat_requests_total"], "outcome", OutcomePaymentRequired),
			Compensations:       sumCounter(fam["tollchat_compensations_total"]),
			FailedCompensations: counterWithLabel(fam["tollchat_compensations_total"], "result", "failed"),
			P95Generation:       histogramPercentile(fam["tollchat_generation_duration_seconds"], 0.95),
			P95Retrieval:        histogramPercentile(fam["tollchat_retrieval_duration_seconds"], 0.95),
		},
		Ledger: ledgerInfo{
			TotalOperations: sumCounter(fam["tollchat_ledger_operations_total"]),
			Errors:          counterWithLabel(fam["tollchat_ledger_operations_total"], "result", "error"),
		},
		Usage: collectorInfo{
			BufferSize:   gaugeValue(fam["tollchat_usage_buffer_size"]),
			TotalFlushes: sumCounter(fam["tollchat_usage_flushes_total"]),
			FlushErrors:  counterWithLabel(fam["tollchat_usage_flushes_total"], "status", "error"),
			Records:      counterValue(fam["tollchat_usage_records_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["tollchat_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["tollchat_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["tollchat_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["tollchat_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["tollchat_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
