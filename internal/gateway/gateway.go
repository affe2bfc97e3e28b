// Package gateway is the single entry point route handlers use to reach the
// upstream provider. Each operation builds a request, runs it under the
// capability's retry policy and turns the reply into domain values.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storygate/internal/credentials"
	"storygate/internal/metrics"
	"storygate/internal/models"
	"storygate/internal/providers"
	"storygate/internal/retry"
	"storygate/internal/upstream"
	"storygate/internal/util"
)

// Recorder persists one ledger row per operation.
type Recorder interface {
	InsertCallLog(ctx context.Context, l models.CallLog) error
}

// Slots bounds concurrent use of a capability.
type Slots interface {
	Acquire(ctx context.Context, key string, limit int) (bool, error)
	Release(ctx context.Context, key string)
}

// Notifier publishes job lifecycle events.
type Notifier interface {
	Fire(ctx context.Context, eventType string, data interface{})
}

type Options struct {
	Pool             *credentials.Pool
	Client           *providers.Client
	Models           upstream.Models
	Media            upstream.MediaResolver
	Recorder         Recorder
	Slots            Slots
	Notifier         Notifier
	VideoConcurrency int
	Timeout          time.Duration
	PollInterval     time.Duration
	MaxPolls         int
	Log              *zap.Logger
}

type Gateway struct {
	builder  *upstream.Builder
	retry    *retry.Controller
	client   *providers.Client
	media    upstream.MediaResolver
	recorder Recorder
	slots    Slots
	notifier Notifier
	tracer   trace.Tracer
	log      *zap.Logger

	videoConcurrency int
	timeout          time.Duration
	pollInterval     time.Duration
	maxPolls         int
	// pollSleep is swapped in tests.
	pollSleep func(ctx context.Context, d time.Duration) error
}

func New(o Options) *Gateway {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	if o.Timeout <= 0 {
		o.Timeout = 180 * time.Second
	}
	return &Gateway{
		builder:          upstream.NewBuilder(o.Models),
		retry:            retry.NewController(o.Pool, log),
		client:           o.Client,
		media:            o.Media,
		recorder:         o.Recorder,
		slots:            o.Slots,
		notifier:         o.Notifier,
		tracer:           otel.Tracer("storygate/gateway"),
		log:              log,
		videoConcurrency: o.VideoConcurrency,
		timeout:          o.Timeout,
		pollInterval:     o.PollInterval,
		maxPolls:         o.MaxPolls,
	}
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// op tracks one gateway operation for the ledger, metrics and tracing.
type op struct {
	g        *Gateway
	span     trace.Span
	start    time.Time
	req      upstream.Request
	stats    retry.Stats
	tokens   int
	ttft     time.Duration
	degraded bool
}

func (g *Gateway) begin(ctx context.Context, name string, req upstream.Request) (context.Context, *op) {
	ctx, span := g.tracer.Start(ctx, "gateway."+name, trace.WithAttributes(
		attribute.String("capability", string(req.Capability)),
		attribute.String("model", req.Model),
		attribute.String("tier", string(req.Tier)),
	))
	return ctx, &op{g: g, span: span, start: time.Now(), req: req}
}

func (o *op) finish(ctx context.Context, err error) {
	latency := time.Since(o.start)
	capability := string(o.req.Capability)
	status := "ok"
	if err != nil {
		status = upstream.KindName(err)
	}
	metrics.RequestsTotal.WithLabelValues(capability, status).Inc()
	metrics.LatencyMS.WithLabelValues(capability).Observe(float64(latency.Milliseconds()))
	if o.ttft > 0 {
		metrics.TTFTMS.WithLabelValues(capability).Observe(float64(o.ttft.Milliseconds()))
	}

	o.span.SetAttributes(
		attribute.Int("attempts", o.stats.Attempts),
		attribute.Int("rotations", o.stats.Rotations),
		attribute.Bool("degraded", o.degraded),
	)
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, status)
	}
	o.span.End()

	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(ctx)),
		zap.String("capability", capability),
		zap.String("model", o.req.Model),
		zap.Duration("latency", latency),
		zap.Int("attempts", o.stats.Attempts),
		zap.Int("credential_index", o.stats.Credential.Index),
	}
	if err != nil {
		o.g.log.Warn("gateway call failed", append(fields, zap.Error(err))...)
	} else {
		o.g.log.Info("gateway call", fields...)
	}

	if o.g.recorder == nil {
		return
	}
	cost := 0.0
	if err == nil {
		cost = EstimateCostCNY(o.req.Capability, o.req.Model, o.tokens)
	}
	entry := models.CallLog{
		RequestID:       RequestIDFrom(ctx),
		Capability:      capability,
		Model:           o.req.Model,
		LatencyMS:       latency.Milliseconds(),
		TTFTMS:          o.ttft.Milliseconds(),
		Attempts:        o.stats.Attempts,
		Rotations:       o.stats.Rotations,
		CredentialIndex: o.stats.Credential.Index,
		Tokens:          o.tokens,
		CostCNY:         cost,
		PromptHash:      util.PromptHash(o.req.PromptText()),
		Degraded:        o.degraded,
		ErrorKind:       upstream.KindName(err),
		CreatedAt:       time.Now().UTC(),
	}
	// Ledger writes survive caller cancellation and never fail the operation.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := o.g.recorder.InsertCallLog(rctx, entry); rerr != nil {
		o.g.log.Warn("call log insert failed", zap.Error(rerr))
	}
}

// call runs req under its retry policy. read consumes a successful reply; the
// response body is closed on every path. timeout bounds each attempt when
// positive.
func call[T any](ctx context.Context, g *Gateway, o *op, timeout time.Duration, read func(ctx context.Context, resp *http.Response) (T, error)) (T, error) {
	req := o.req
	attempt := func(ctx context.Context, cred credentials.Credential) retry.Outcome[T] {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		resp, err := g.client.Send(ctx, req, cred)
		if err != nil {
			return retry.Fail[T](err)
		}
		kind, err := providers.Classify(resp)
		switch kind {
		case retry.Retryable:
			return retry.Retry[T](err)
		case retry.Fatal:
			return retry.Fail[T](err)
		}
		v, err := read(ctx, resp)
		resp.Body.Close()
		if err != nil {
			return retry.Fail[T](err)
		}
		return retry.Ok(v)
	}
	v, stats, err := retry.Execute(ctx, g.retry, req.Capability, req.Tier, retry.For(req.Capability), attempt)
	o.stats = stats
	return v, err
}

func readBody(_ context.Context, resp *http.Response) ([]byte, error) {
	return providers.ReadJSON(resp)
}

func totalTokens(body []byte) int {
	return int(gjson.GetBytes(body, "usage.total_tokens").Int())
}
