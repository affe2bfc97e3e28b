// Package jobs follows long-running upstream jobs (video synthesis) from
// submission to a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"storygate/internal/metrics"
	"storygate/internal/upstream"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

type Job struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	CoverURL  string `json:"cover_url,omitempty"`
	Error     string `json:"error,omitempty"`
	Polls     int    `json:"polls"`
}

// Source fetches the raw status document for a job.
type Source interface {
	Status(ctx context.Context, jobID string) ([]byte, error)
}

type SourceFunc func(ctx context.Context, jobID string) ([]byte, error)

func (f SourceFunc) Status(ctx context.Context, jobID string) ([]byte, error) { return f(ctx, jobID) }

const (
	DefaultInterval = 3 * time.Second
	DefaultMaxPolls = 120
)

type Poller struct {
	Source   Source
	Interval time.Duration
	MaxPolls int
	Sleep    func(ctx context.Context, d time.Duration) error
	Log      *zap.Logger
}

func NewPoller(src Source, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{Source: src, Interval: DefaultInterval, MaxPolls: DefaultMaxPolls, Log: log}
}

// SubmissionID reads the job id from a submission reply.
func SubmissionID(body []byte) (string, error) {
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		id = gjson.GetBytes(body, "task_id").String()
	}
	if id == "" {
		return "", fmt.Errorf("%w: submission reply carries no job id", upstream.ErrEmptyResult)
	}
	return id, nil
}

// Await polls jobID until it succeeds, fails, or MaxPolls polls pass without a
// terminal state. The first poll is immediate; Interval separates the rest.
func (p *Poller) Await(ctx context.Context, jobID string) (Job, error) {
	interval, maxPolls := p.Interval, p.MaxPolls
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	job := Job{ID: jobID, Status: StatusPending}

	for poll := 1; poll <= maxPolls; poll++ {
		if poll > 1 {
			if err := sleep(ctx, interval); err != nil {
				return job, err
			}
		}
		job.Polls = poll
		body, err := p.Source.Status(ctx, jobID)
		if err != nil {
			if fatal(err) || poll == maxPolls || ctx.Err() != nil {
				return job, err
			}
			log.Warn("job poll failed, will retry", zap.String("job_id", jobID), zap.Int("poll", poll), zap.Error(err))
			continue
		}
		parse(body, &job)
		metrics.JobPolls.WithLabelValues(string(job.Status)).Inc()

		switch job.Status {
		case StatusSuccess:
			if job.ResultURL == "" {
				return job, fmt.Errorf("job %s: %w", jobID, upstream.ErrEmptyResult)
			}
			log.Info("job succeeded", zap.String("job_id", jobID), zap.Int("polls", poll))
			return job, nil
		case StatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "job failed without detail"
			}
			return job, fmt.Errorf("job %s: %w: %s", jobID, upstream.ErrUpstreamFailure, msg)
		}
	}
	return job, fmt.Errorf("job %s after %d polls: %w", jobID, maxPolls, upstream.ErrTimeout)
}

func fatal(err error) bool {
	return errors.Is(err, upstream.ErrUnauthorized) || errors.Is(err, upstream.ErrForbidden) || errors.Is(err, upstream.ErrInvalidRequest)
}

func parse(body []byte, job *Job) {
	doc := gjson.ParseBytes(body)
	switch strings.ToUpper(doc.Get("task_status").String()) {
	case "SUCCESS", "SUCCEEDED":
		job.Status = StatusSuccess
	case "FAIL", "FAILED":
		job.Status = StatusFailed
	case "PROCESSING", "RUNNING":
		job.Status = StatusRunning
	default:
		job.Status = StatusPending
	}
	job.ResultURL = doc.Get("video_result.0.url").String()
	job.CoverURL = doc.Get("video_result.0.cover_image_url").String()
	job.Error = doc.Get("error.message").String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
