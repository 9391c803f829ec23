package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/catdog-api/internal/imageprocessor"
	"github.com/example/catdog-api/internal/kserve"
	"github.com/example/catdog-api/internal/logging"
	"github.com/example/catdog-api/internal/prediction"
	"github.com/example/catdog-api/internal/repository"
)

const auditTimeout = 2 * time.Second

// InferenceClient performs one call against the model backend.
type InferenceClient interface {
	Infer(ctx context.Context, in kserve.Input) (*kserve.InferResponse, error)
}

// ReadinessProbe reports whether a dependency can serve traffic.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// AuditRepository defines the persistence operations needed by the use case.
type AuditRepository interface {
	SaveLog(ctx context.Context, log *repository.InferenceLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Outcome is a successful prediction.
type Outcome struct {
	RequestID string
	Metadata  imageprocessor.Metadata
	Result    *prediction.Result
}

// Options tunes the use case. Zero values are valid.
type Options struct {
	// Timeout bounds the backend call. Zero leaves it to the caller's context.
	Timeout time.Duration
	// Audit receives one row per request. Nil disables auditing and metrics.
	Audit AuditRepository
	// Probes are consulted by Ready in order.
	Probes []ReadinessProbe
}

// InferenceUseCase runs the decode, transform, normalize, infer and
// translate stages for one upload.
type InferenceUseCase struct {
	pipeline   *imageprocessor.Pipeline
	client     InferenceClient
	translator *prediction.Translator
	audit      AuditRepository
	probes     []ReadinessProbe
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewInferenceUseCase constructs a new use case instance.
func NewInferenceUseCase(pipeline *imageprocessor.Pipeline, client InferenceClient, translator *prediction.Translator, opts Options, logger *zap.Logger) *InferenceUseCase {
	return &InferenceUseCase{
		pipeline:   pipeline,
		client:     client,
		translator: translator,
		audit:      opts.Audit,
		probes:     opts.Probes,
		timeout:    opts.Timeout,
		logger:     logger.Named("inference_usecase"),
		now:        time.Now,
	}
}

// HandleInferRequest turns uploaded image bytes into a prediction. It stops
// at the first failing stage and returns that stage's typed error wrapped in
// a logging.OperationError.
func (uc *InferenceUseCase) HandleInferRequest(ctx context.Context, image []byte) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.handle_infer", requestID)
	started := uc.now()

	outcome := &Outcome{RequestID: requestID}
	err := uc.run(ctx, image, outcome)

	latency := uc.now().Sub(started)
	if err != nil {
		opLogger.Error("inference request failed",
			zap.Error(err),
			zap.String("kind", string(Classify(err))),
			zap.Duration("latency", latency))
	} else {
		opLogger.Info("inference request completed",
			zap.String("format", outcome.Metadata.Format),
			zap.Int("width", outcome.Metadata.Width),
			zap.Int("height", outcome.Metadata.Height),
			zap.Float64(outcome.Result.Label, outcome.Result.Percentage),
			zap.Duration("latency", latency))
	}
	uc.record(ctx, opLogger, outcome, err, latency)

	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (uc *InferenceUseCase) run(ctx context.Context, image []byte, outcome *Outcome) error {
	requestID := outcome.RequestID
	if len(image) == 0 {
		return logging.NewOperationError(logging.OpDecode, requestID, ErrNoImage)
	}

	decoded, err := uc.pipeline.Decode(image)
	if err != nil {
		return logging.NewOperationError(logging.OpDecode, requestID, err)
	}
	outcome.Metadata = decoded.Metadata

	buf, err := uc.pipeline.Transform(decoded)
	if err != nil {
		return logging.NewOperationError(logging.OpTransform, requestID, err)
	}
	tensor, err := uc.pipeline.Normalize(buf)
	if err != nil {
		return logging.NewOperationError(logging.OpNormalize, requestID, err)
	}

	callCtx := ctx
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}
	resp, err := uc.client.Infer(callCtx, kserve.Input{Shape: tensor.Shape(), Data: tensor.Data})
	if err != nil {
		return logging.NewOperationError(logging.OpInfer, requestID, err)
	}

	result, err := uc.translator.Translate(resp)
	if err != nil {
		return logging.NewOperationError(logging.OpTranslate, requestID, err)
	}
	outcome.Result = result
	return nil
}

func (uc *InferenceUseCase) record(ctx context.Context, opLogger *zap.Logger, outcome *Outcome, runErr error, latency time.Duration) {
	if uc.audit == nil {
		return
	}
	log := &repository.InferenceLog{
		RequestID: outcome.RequestID,
		Format:    outcome.Metadata.Format,
		Width:     outcome.Metadata.Width,
		Height:    outcome.Metadata.Height,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.now().UTC(),
	}
	switch {
	case runErr == nil:
		log.Status = repository.StatusSucceeded
		log.Label = outcome.Result.Label
		pct := outcome.Result.Percentage
		log.Percentage = &pct
	default:
		kind := Classify(runErr)
		log.Status = repository.StatusFailed
		if kind.IsClientError() {
			log.Status = repository.StatusRejected
		}
		log.ErrorKind = string(kind)
		log.Details = runErr.Error()
	}

	// The audit write must not be lost because the client went away.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := uc.audit.SaveLog(auditCtx, log); err != nil {
		opLogger.Warn("failed to persist inference log",
			zap.Error(logging.NewOperationError("usecase.save_log", outcome.RequestID, err)))
	}
}

// Ready runs every configured probe and joins all failures into one error.
func (uc *InferenceUseCase) Ready(ctx context.Context) error {
	var errs []error
	for _, probe := range uc.probes {
		if err := probe.Ready(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TargetLabel is the class whose probability is reported.
func (uc *InferenceUseCase) TargetLabel() string {
	return uc.translator.Label()
}
