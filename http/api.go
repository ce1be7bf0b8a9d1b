package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"salescast/ml"
	"salescast/monitoring"
)

// 错误码
const (
	codeInvalidInput     = "INVALID_INPUT"
	codeUnknownCategory  = "UNKNOWN_CATEGORY"
	codeModelUnavailable = "MODEL_UNAVAILABLE"
	codePredictionFailed = "PREDICTION_FAILED"
	codeUnauthorized     = "UNAUTHORIZED"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeInternal         = "INTERNAL"
)

// app 持有所有处理器共享的依赖
type app struct {
	deps    Dependencies
	pages   *pageRenderer
	logger  *zap.Logger
	metrics *monitoring.MetricsCollector
}

// errorResponse 失败响应
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
}

// modelInfo /api/model 响应
type modelInfo struct {
	Ready              bool                `json:"ready"`
	Reason             string              `json:"reason,omitempty"`
	Model              *ml.ModelMetadata   `json:"model,omitempty"`
	Schema             ml.FeatureSchema    `json:"schema"`
	RequestFields      []string            `json:"request_fields"`
	ReferenceYear      int                 `json:"reference_year"`
	EncoderFingerprint string              `json:"encoder_fingerprint"`
	Categories         map[string][]string `json:"categories"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady 未加载模型时返回 503
func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, reason := a.deps.Predictor.Ready()
	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": reason})
		return
	}
	if a.deps.Predictions != nil {
		if err := a.deps.Predictions.Ping(r.Context()); err != nil {
			a.logger.Warn("database ping failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": "database unavailable"})
			return
		}
	}
	meta, _ := a.deps.Predictor.Metadata()
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ready",
		"model_type": string(meta.ModelType),
		"schema":     meta.SchemaVersion,
	})
}

// handleModelInfo 返回模型元数据与各类别字段的可选值
func (a *app) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	enc := a.deps.Predictor.Encoder()
	snapshot := enc.Snapshot()
	info := modelInfo{
		Schema:             snapshot.Schema,
		RequestFields:      ml.RequestFields(snapshot.Schema.Variant),
		ReferenceYear:      snapshot.ReferenceYear,
		EncoderFingerprint: enc.Fingerprint(),
		Categories:         snapshot.Categories,
	}
	info.Ready, info.Reason = a.deps.Predictor.Ready()
	if meta, ok := a.deps.Predictor.Metadata(); ok {
		info.Model = &meta
	}
	respondJSON(w, http.StatusOK, info)
}

// handleMetrics 返回指标；format=prometheus 时输出文本格式
func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.deps.Hub != nil {
		a.metrics.SetGauge("ws_clients", float64(a.deps.Hub.ClientCount()), nil)
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "prometheus") {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(a.metrics.ExportPrometheus()))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": a.metrics.GetUptime().Seconds(),
		"system":         a.metrics.GetSystemStats(),
		"metrics":        a.metrics.GetAllMetrics(),
	})
}

// wantsJSON API 路径或明确要求 JSON 的请求按 JSON 返回错误
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/predict" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}
