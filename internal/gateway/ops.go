package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"storygate/internal/jobs"
	"storygate/internal/metrics"
	"storygate/internal/models"
	"storygate/internal/normalize"
	"storygate/internal/providers"
	"storygate/internal/stream"
	"storygate/internal/upstream"
)

type TextParams struct {
	System      string
	Prompt      string
	Messages    []models.Message
	Model       string
	Temperature float64
	MaxTokens   int
}

func (p TextParams) messages() []models.Message {
	if len(p.Messages) > 0 {
		return p.Messages
	}
	var msgs []models.Message
	if p.System != "" {
		msgs = append(msgs, models.TextMessage("system", p.System))
	}
	return append(msgs, models.TextMessage("user", p.Prompt))
}

func (p TextParams) params() upstream.Params {
	return upstream.Params{
		Model:       p.Model,
		Messages:    p.messages(),
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
}

type Text struct {
	Text   string `json:"text"`
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

type ImageParams struct {
	Prompt string
	Size   string
	Model  string
}

type VideoParams struct {
	ImageURLs []string
	Prompt    string
	Quality   string
	Size      string
	FPS       int
	Model     string
}

type MediaParams struct {
	URL       string
	Prompt    string
	Model     string
	MaxTokens int
	Fallback  normalize.Fallback
}

type Analysis struct {
	Text   string           `json:"text"`
	Result normalize.Result `json:"result"`
	Model  string           `json:"model"`
}

type SearchParams struct {
	Query     string
	Prompt    string
	Model     string
	MaxTokens int
	Fallback  normalize.Fallback
}

type SearchResult struct {
	Query  string           `json:"query"`
	Text   string           `json:"text"`
	Result normalize.Result `json:"result"`
}

func (g *Gateway) GenerateText(ctx context.Context, p TextParams) (Text, error) {
	req := g.builder.Build(upstream.CapabilityChat, p.params())
	ctx, o := g.begin(ctx, "generate_text", req)
	out, err := g.chat(ctx, o)
	o.finish(ctx, err)
	return out, err
}

// GenerateStructured asks for JSON output with thinking disabled and always
// returns a Result; parse failures degrade instead of erroring.
func (g *Gateway) GenerateStructured(ctx context.Context, p TextParams, fb normalize.Fallback) (normalize.Result, error) {
	params := p.params()
	params.DisableThinking = true
	req := g.builder.Build(upstream.CapabilityChat, params)
	ctx, o := g.begin(ctx, "generate_structured", req)
	out, err := g.chat(ctx, o)
	if err != nil {
		o.finish(ctx, err)
		return normalize.Result{}, err
	}
	res := g.normalize(o, out.Text, fb)
	o.finish(ctx, nil)
	return res, nil
}

// StreamText relays tokens to send as they arrive.
func (g *Gateway) StreamText(ctx context.Context, p TextParams, send stream.Sender) error {
	params := p.params()
	params.Stream = true
	req := g.builder.Build(upstream.CapabilityChat, params)
	ctx, o := g.begin(ctx, "stream_text", req)
	st, err := call(ctx, g, o, 0, func(ctx context.Context, resp *http.Response) (stream.Stats, error) {
		return stream.Relay(ctx, resp.Body, send, g.log)
	})
	o.ttft = st.TTFT
	o.tokens = st.Tokens
	o.finish(ctx, err)
	return err
}

func (g *Gateway) GenerateImage(ctx context.Context, p ImageParams) (string, error) {
	req := g.builder.Build(upstream.CapabilityImage, upstream.Params{Model: p.Model, Prompt: p.Prompt, Size: p.Size})
	ctx, o := g.begin(ctx, "generate_image", req)
	url, err := call(ctx, g, o, g.timeout, func(ctx context.Context, resp *http.Response) (string, error) {
		body, err := readBody(ctx, resp)
		if err != nil {
			return "", err
		}
		url := gjson.GetBytes(body, "data.0.url").String()
		if url == "" {
			return "", fmt.Errorf("image: %w", upstream.ErrEmptyResult)
		}
		return url, nil
	})
	o.finish(ctx, err)
	return url, err
}

// GenerateVideo submits a video job, waits for it and fires a webhook with the
// outcome. A job abandoned by the poller keeps running upstream.
func (g *Gateway) GenerateVideo(ctx context.Context, p VideoParams) (jobs.Job, error) {
	seeds := make([]string, 0, len(p.ImageURLs))
	for _, u := range p.ImageURLs {
		resolved, err := g.media.Resolve(u, upstream.CapabilityVideo)
		if err != nil {
			return jobs.Job{}, err
		}
		seeds = append(seeds, resolved)
	}
	req := g.builder.Build(upstream.CapabilityVideo, upstream.Params{
		Model:     p.Model,
		Prompt:    p.Prompt,
		ImageURLs: seeds,
		Quality:   p.Quality,
		Size:      p.Size,
		FPS:       p.FPS,
	})
	ctx, o := g.begin(ctx, "generate_video", req)

	release, err := g.acquire(ctx, string(upstream.CapabilityVideo), g.videoConcurrency)
	if err != nil {
		o.finish(ctx, err)
		return jobs.Job{}, err
	}
	defer release()

	id, err := call(ctx, g, o, g.timeout, func(ctx context.Context, resp *http.Response) (string, error) {
		body, err := readBody(ctx, resp)
		if err != nil {
			return "", err
		}
		return jobs.SubmissionID(body)
	})
	if err != nil {
		o.finish(ctx, err)
		return jobs.Job{}, err
	}
	g.log.Info("video job submitted", zap.String("job_id", id))

	cred := o.stats.Credential
	poller := jobs.NewPoller(jobs.SourceFunc(func(ctx context.Context, jobID string) ([]byte, error) {
		pctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		resp, err := g.client.Get(pctx, upstream.PathAsyncResult+jobID, cred)
		if err != nil {
			return nil, err
		}
		if _, err := providers.Classify(resp); err != nil {
			return nil, err
		}
		return providers.ReadJSON(resp)
	}), g.log)
	if g.pollInterval > 0 {
		poller.Interval = g.pollInterval
	}
	if g.maxPolls > 0 {
		poller.MaxPolls = g.maxPolls
	}
	if g.pollSleep != nil {
		poller.Sleep = g.pollSleep
	}

	job, err := poller.Await(ctx, id)
	g.notify(ctx, job, err)
	o.finish(ctx, err)
	return job, err
}

func (g *Gateway) AnalyzeImage(ctx context.Context, p MediaParams) (Analysis, error) {
	return g.analyze(ctx, upstream.CapabilityVisionImage, "analyze_image", p)
}

func (g *Gateway) AnalyzeVideo(ctx context.Context, p MediaParams) (Analysis, error) {
	return g.analyze(ctx, upstream.CapabilityVisionVideo, "analyze_video", p)
}

func (g *Gateway) analyze(ctx context.Context, c upstream.Capability, name string, p MediaParams) (Analysis, error) {
	ref, err := g.media.Resolve(p.URL, c)
	if err != nil {
		return Analysis{}, err
	}
	req := g.builder.Build(c, upstream.Params{Model: p.Model, MediaURL: ref, Prompt: p.Prompt, MaxTokens: p.MaxTokens})
	ctx, o := g.begin(ctx, name, req)
	out, err := g.chat(ctx, o)
	if err != nil {
		o.finish(ctx, err)
		return Analysis{}, err
	}
	res := g.normalize(o, out.Text, p.Fallback)
	o.finish(ctx, nil)
	return Analysis{Text: out.Text, Result: res, Model: out.Model}, nil
}

func (g *Gateway) WebSearch(ctx context.Context, p SearchParams) (SearchResult, error) {
	params := upstream.Params{Model: p.Model, Query: p.Query, MaxTokens: p.MaxTokens}
	if p.Prompt != "" {
		params.Messages = []models.Message{models.TextMessage("user", p.Prompt)}
	}
	req := g.builder.Build(upstream.CapabilitySearch, params)
	ctx, o := g.begin(ctx, "web_search", req)
	out, err := g.chat(ctx, o)
	if err != nil {
		o.finish(ctx, err)
		return SearchResult{}, err
	}
	res := g.normalize(o, out.Text, p.Fallback)
	o.finish(ctx, nil)
	return SearchResult{Query: p.Query, Text: out.Text, Result: res}, nil
}

func (g *Gateway) chat(ctx context.Context, o *op) (Text, error) {
	out, err := call(ctx, g, o, g.timeout, func(ctx context.Context, resp *http.Response) (Text, error) {
		body, err := readBody(ctx, resp)
		if err != nil {
			return Text{}, err
		}
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			model = o.req.Model
		}
		return Text{Text: normalize.ExtractText(body), Model: model, Tokens: totalTokens(body)}, nil
	})
	o.tokens = out.Tokens
	return out, err
}

func (g *Gateway) normalize(o *op, text string, fb normalize.Fallback) normalize.Result {
	res := normalize.Normalize(text, fb)
	if !res.Parsed {
		o.degraded = true
		metrics.DegradedParses.WithLabelValues(string(o.req.Capability)).Inc()
		g.log.Warn("structured output degraded",
			zap.String("capability", string(o.req.Capability)),
			zap.String("reason", res.Reason),
			zap.String("preview", preview(text, 200)))
	}
	return res
}

func (g *Gateway) acquire(ctx context.Context, key string, limit int) (func(), error) {
	if g.slots == nil || limit <= 0 {
		return func() {}, nil
	}
	ok, err := g.slots.Acquire(ctx, key, limit)
	if err != nil {
		g.log.Warn("concurrency limiter unavailable", zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%s concurrency limit %d reached: %w", key, limit, upstream.ErrRateLimited)
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		g.slots.Release(rctx, key)
	}, nil
}

func (g *Gateway) notify(ctx context.Context, job jobs.Job, err error) {
	if g.notifier == nil {
		return
	}
	event := "video.succeeded"
	switch {
	case err == nil:
	case errors.Is(err, upstream.ErrTimeout):
		event = "video.timed_out"
	default:
		event = "video.failed"
	}
	data := map[string]interface{}{
		"request_id": RequestIDFrom(ctx),
		"job":        job,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	g.notifier.Fire(context.WithoutCancel(ctx), event, data)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "..."
}
