package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/malaria-detect/internal/classifier"
	"github.com/example/malaria-detect/internal/logging"
	"github.com/example/malaria-detect/internal/mlerr"
	"github.com/example/malaria-detect/internal/preprocess"
)

// ErrUnknownModel is returned when a prediction names a model that was not loaded.
var ErrUnknownModel = errors.New("unknown model")

// Reducer projects feature vectors into the space the classifiers were fitted in.
type Reducer interface {
	Transform(x []float64) ([]float64, error)
	Components() int
}

// Result is the outcome of one prediction as returned to clients.
type Result struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Strategy string `json:"confidence_strategy"`
}

// PredictionUseCase runs uploads through normalization, feature extraction,
// reduction and classification. Everything it holds is read-only after
// construction apart from metrics, so a single instance serves all requests.
type PredictionUseCase struct {
	reducer  Reducer
	models   map[string]*classifier.Adapter
	cache    Cache
	cacheTTL time.Duration
	metrics  *Metrics
	logger   *zap.Logger
	retry    retryPolicy
}

// NewPredictionUseCase constructs a use case over the given models, keyed by
// route name. cache may be nil to disable result caching.
func NewPredictionUseCase(reducer Reducer, models map[string]*classifier.Adapter, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *PredictionUseCase {
	keys := make([]string, 0, len(models))
	for key := range models {
		keys = append(keys, key)
	}
	return &PredictionUseCase{
		reducer:  reducer,
		models:   models,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  NewMetrics(keys),
		logger:   logger.Named("prediction_usecase"),
		retry:    retryPolicy{attempts: 3, backoff: 50 * time.Millisecond, maxBackoff: time.Second},
	}
}

// HasModel reports whether key names a loaded model.
func (uc *PredictionUseCase) HasModel(key string) bool {
	_, ok := uc.models[key]
	return ok
}

// Models lists the loaded models ordered by key.
func (uc *PredictionUseCase) Models() []ModelInfo {
	infos := make([]ModelInfo, 0, len(uc.models))
	for key, adapter := range uc.models {
		infos = append(infos, ModelInfo{Key: key, Name: adapter.Name(), Strategy: adapter.Strategy().String()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Predict classifies one uploaded image with the model registered under key.
func (uc *PredictionUseCase) Predict(ctx context.Context, requestID, key string, imageBytes []byte) (*Result, error) {
	adapter, ok := uc.models[key]
	if !ok {
		return nil, logging.NewOperationError("usecase.predict", requestID, fmt.Errorf("%w %q", ErrUnknownModel, key))
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(zap.String("model", key))
	start := time.Now()

	cacheKey := PredictionKey(key, imageBytes)
	if cached, ok := uc.lookup(ctx, requestID, cacheKey); ok {
		uc.metrics.Observe(key, cached.Class, time.Since(start))
		opLogger.Debug("served cached prediction", zap.String("class", cached.Class))
		return cached, nil
	}

	result, op, err := uc.run(adapter, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError(op, requestID, err)
		uc.metrics.Fail(key, mlerr.Kind(err))
		opLogger.Error("prediction failed", zap.Error(wrapped), zap.String("kind", mlerr.Kind(err)))
		return nil, wrapped
	}

	latency := time.Since(start)
	uc.metrics.Observe(key, result.Class, latency)
	opLogger.Info("prediction complete",
		zap.String("class", result.Class),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("latency", latency),
	)

	uc.store(ctx, requestID, cacheKey, result)
	return result, nil
}

// run executes the pipeline and returns the name of the failing step on error.
func (uc *PredictionUseCase) run(adapter *classifier.Adapter, imageBytes []byte) (*Result, string, error) {
	normalized, err := preprocess.Normalize(imageBytes)
	if err != nil {
		return nil, "preprocess.normalize", err
	}
	features, err := preprocess.ToFeatureVector(normalized)
	if err != nil {
		return nil, "preprocess.features", err
	}
	reduced, err := uc.reducer.Transform(features)
	if err != nil {
		return nil, "reducer.transform", err
	}
	pred, err := adapter.Classify(reduced)
	if err != nil {
		return nil, "classifier.classify", err
	}
	return &Result{Class: string(pred.Label), Confidence: pred.Confidence, Model: pred.Model}, "", nil
}

func (uc *PredictionUseCase) lookup(ctx context.Context, requestID, cacheKey string) (*Result, bool) {
	if uc.cache == nil {
		return nil, false
	}
	opLogger := logging.WithOperation(uc.logger, "cache.get.prediction", requestID)

	var raw string
	attempts, err := uc.retry.do(ctx, func() (err error) {
		raw, err = uc.cache.Get(ctx, cacheKey)
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false
	case err != nil:
		opLogger.Warn("failed to read cache", zap.Error(err), zap.Int("attempts", attempts))
		return nil, false
	}

	var cached Result
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		opLogger.Warn("failed to decode cached prediction", zap.Error(err))
		return nil, false
	}
	return &cached, true
}

func (uc *PredictionUseCase) store(ctx context.Context, requestID, cacheKey string, result *Result) {
	if uc.cache == nil {
		return
	}
	opLogger := logging.WithOperation(uc.logger, "cache.set.prediction", requestID)

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Warn("failed to serialize prediction", zap.Error(err))
		return
	}
	attempts, err := uc.retry.do(ctx, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	})
	if err != nil {
		opLogger.Warn("failed to cache prediction", zap.Error(err), zap.Int("attempts", attempts))
		return
	}
	if attempts > 1 {
		opLogger.Info("cached prediction after retry", zap.Int("attempts", attempts))
	}
}
