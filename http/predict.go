package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"salescast/auth"
	"salescast/db"
	"salescast/ml"
	"salescast/monitoring"
)

// handlePredict POST /predict
func (a *app) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user := auth.UserFrom(r.Context())
	if a.deps.AuthEnabled && !user.IsAuthenticated() {
		a.writePredictError(w, r, http.StatusUnauthorized, errorResponse{Error: "login required", Code: codeUnauthorized})
		return
	}

	payload, err := decodePredictPayload(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		a.writePredictError(w, r, status, errorResponse{Error: err.Error(), Code: codeInvalidInput})
		return
	}

	variant := a.deps.Predictor.Encoder().Schema().Variant
	req, err := ml.ParseRequest(variant, payload)
	if err != nil {
		a.predictFailed(w, r, err)
		return
	}
	vector, result, err := a.deps.Predictor.PredictRequest(r.Context(), req)
	if err != nil {
		a.predictFailed(w, r, err)
		return
	}

	a.metrics.IncrCounter("predictions_total", 1, map[string]string{"outcome": "success"})
	a.metrics.ObserveDuration("prediction_seconds", time.Since(start), nil)
	a.recordPrediction(r.Context(), user, vector.Schema, requestFeatures(req), result.PredictedSales)

	respondJSON(w, http.StatusOK, result)
}

// decodePredictPayload 接受 JSON 对象或表单编码的请求体
func decodePredictPayload(r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("malformed form body: %w", err)
		}
		payload := make(map[string]any, len(r.PostForm))
		for key, values := range r.PostForm {
			if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
				payload[key] = values[0]
			}
		}
		return payload, nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if payload == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return payload, nil
}

// predictFailed 按错误类别映射状态码
func (a *app) predictFailed(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid     *ml.InvalidInputError
		unknown     *ml.UnknownCategoryError
		unavailable *ml.ModelUnavailableError
	)
	switch {
	case errors.As(err, &invalid):
		a.writePredictError(w, r, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidInput, Field: invalid.Field})
	case errors.As(err, &unknown):
		a.writePredictError(w, r, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: codeUnknownCategory, Field: unknown.Field})
	case errors.As(err, &unavailable):
		a.writePredictError(w, r, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: codeModelUnavailable})
	default:
		a.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		a.writePredictError(w, r, http.StatusInternalServerError, errorResponse{Error: "prediction failed", Code: codePredictionFailed})
	}
}

func (a *app) writePredictError(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.Success = false
	a.metrics.IncrCounter("predictions_total", 1, map[string]string{"outcome": strings.ToLower(resp.Code)})
	if status < http.StatusInternalServerError {
		a.logger.Debug("prediction rejected",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("code", resp.Code),
			zap.String("field", resp.Field),
			zap.String("error", resp.Error),
		)
	}
	respondJSON(w, status, resp)
}

// recordPrediction 写入预测日志并推送给 websocket 订阅者，失败只记日志
func (a *app) recordPrediction(ctx context.Context, user auth.Authenticatable, schema string, features map[string]any, sales float64) {
	if a.deps.Predictions != nil {
		encoded, err := json.Marshal(features)
		if err == nil {
			rec := &db.PredictionRecord{
				UserID:         sql.NullInt64{Int64: user.ID(), Valid: user.IsAuthenticated()},
				SchemaVersion:  schema,
				Features:       encoded,
				PredictedSales: sales,
			}
			err = a.deps.Predictions.SavePrediction(ctx, rec)
		}
		if err != nil {
			a.logger.Warn("failed to store prediction", zap.String("request_id", GetRequestID(ctx)), zap.Error(err))
		}
	}
	if a.deps.Hub != nil {
		err := a.deps.Hub.PublishPrediction(monitoring.PredictionEvent{
			SchemaVersion:  schema,
			Features:       features,
			PredictedSales: sales,
			Authenticated:  user.IsAuthenticated(),
		})
		if err != nil {
			a.logger.Warn("failed to publish prediction", zap.Error(err))
		}
	}
}

// requestFeatures 请求中实际提供的字段，用于日志与推送
func requestFeatures(req ml.PredictionRequest) map[string]any {
	features := map[string]any{
		ml.FieldItemWeight:         req.ItemWeight,
		ml.FieldItemVisibility:     req.ItemVisibility,
		ml.FieldItemType:           req.ItemType,
		ml.FieldOutletSize:         req.OutletSize,
		ml.FieldOutletLocationType: req.OutletLocationType,
		ml.FieldOutletType:         req.OutletType,
	}
	if req.ItemFatContent != "" {
		features[ml.FieldItemFatContent] = req.ItemFatContent
	}
	if req.Rating != nil {
		features[ml.FieldRating] = *req.Rating
	}
	if req.OutletEstablishmentYear != nil {
		features[ml.FieldOutletEstablishmentYear] = *req.OutletEstablishmentYear
	}
	return features
}
