package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/siteaudit/internal/features"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/scan"
	"github.com/raysh454/siteaudit/internal/store"
)

var (
	ErrJobsClosed = errors.New("job runner closed")
	ErrJobUnknown = errors.New("job not found")
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

// JobEvent is pushed to a job's Events channel.
type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status model.TaskStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`

	// For progress
	Step    string `json:"step,omitempty"`
	Message string `json:"message,omitempty"`

	// For results
	AuditID string `json:"audit_id,omitempty"`
	Score   *int   `json:"score,omitempty"`
}

// Job is the in-memory view of a persisted scan task.
type Job struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id,omitempty"`
	URL       string           `json:"url"`
	Status    model.TaskStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	AuditID   string           `json:"audit_id,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitzero"`
	Events    chan JobEvent    `json:"-"`
}

// TaskStore is the persistence the job runner needs.
type TaskStore interface {
	CreateTask(ctx context.Context, userID, url string) (*model.ScanTask, error)
	TransitionTask(ctx context.Context, id string, to model.TaskStatus, errMsg, auditID string) error
	AppendAudit(ctx context.Context, a *model.AuditRecord) error
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Gate resolves a plan to its features.
type Gate interface {
	Allowed(plan string) model.FeatureSet
}

type JobMetrics interface {
	TaskFinished(status model.TaskStatus)
}

type nopJobMetrics struct{}

func (nopJobMetrics) TaskFinished(model.TaskStatus) {}

// Jobs runs queued scans in the background. Each Submit persists a pending
// task, then a goroutine moves it to running and finally completed or failed.
type Jobs struct {
	cfg     JobsConfig
	runner  scan.Runner
	store   TaskStore
	gate    Gate
	metrics JobMetrics
	logger  logging.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
	closed     bool
}

func NewJobs(cfg JobsConfig, runner scan.Runner, st TaskStore, gate Gate, metrics JobMetrics, logger logging.Logger) *Jobs {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if metrics == nil {
		metrics = nopJobMetrics{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Jobs{
		cfg:        cfg,
		runner:     runner,
		store:      st,
		gate:       gate,
		metrics:    metrics,
		logger:     logger.With(logging.F("component", "jobs")),
		root:       root,
		cancel:     cancel,
		jobs:       make(map[string]*Job),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

// Submit persists a pending task for url and starts it. The job outlives ctx;
// use Cancel to stop it.
func (j *Jobs) Submit(ctx context.Context, userID, url string) (*Job, error) {
	if err := model.ValidateTargetURL(url); err != nil {
		return nil, err
	}

	j.jobsMu.Lock()
	closed := j.closed
	j.jobsMu.Unlock()
	if closed {
		return nil, ErrJobsClosed
	}

	task, err := j.store.CreateTask(ctx, userID, url)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	job := &Job{
		ID:        task.ID,
		UserID:    userID,
		URL:       url,
		Status:    model.TaskPending,
		StartedAt: task.CreatedAt,
		Events:    make(chan JobEvent, 64),
	}
	jobCtx, cancel := context.WithCancel(j.root)

	j.jobsMu.Lock()
	if j.closed {
		j.jobsMu.Unlock()
		cancel()
		j.finishTask(task.ID, model.TaskFailed, ErrJobsClosed.Error(), "")
		return nil, ErrJobsClosed
	}
	j.jobs[job.ID] = job
	j.jobCancels[job.ID] = cancel
	j.wg.Add(1)
	j.jobsMu.Unlock()

	j.emitJobEvent(job.ID, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: model.TaskPending})
	j.logger.Info("task queued", logging.F("task_id", job.ID), logging.F("url", url))

	snapshot := *job
	go j.run(jobCtx, job.ID)
	return &snapshot, nil
}

func (j *Jobs) run(ctx context.Context, id string) {
	defer j.wg.Done()

	job := j.lookup(id)
	log := j.logger.With(logging.F("task_id", id), logging.F("url", job.URL))

	status, errMsg, auditID := j.execute(ctx, log, job)
	j.finishTask(id, status, errMsg, auditID)

	j.jobsMu.Lock()
	job.Status = status
	job.Error = errMsg
	job.AuditID = auditID
	job.EndedAt = time.Now().UTC()
	delete(j.jobCancels, id)
	j.jobsMu.Unlock()

	j.emitJobEvent(id, JobEvent{JobID: id, Type: JobEventResult, Status: status, Error: errMsg, AuditID: auditID})
	close(job.Events)
	j.metrics.TaskFinished(status)

	if j.cfg.Retention > 0 {
		time.AfterFunc(j.cfg.Retention, func() { j.forget(id) })
	}
}

func (j *Jobs) execute(ctx context.Context, log logging.Logger, job *Job) (model.TaskStatus, string, string) {
	if err := j.store.TransitionTask(ctx, job.ID, model.TaskRunning, "", ""); err != nil {
		// Recovery may have failed the task between create and start.
		log.Warn("task could not start", logging.Err(err))
		return model.TaskFailed, err.Error(), ""
	}
	j.setStatus(job.ID, model.TaskRunning)
	j.emitJobEvent(job.ID, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: model.TaskRunning})

	plan := features.PlanFree
	if job.UserID != "" {
		if u, err := j.store.GetUser(ctx, job.UserID); err == nil {
			plan = u.Plan
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Warn("owner lookup failed, using free plan", logging.Err(err))
		}
	}
	req := model.ScanRequest{URL: job.URL, Language: j.cfg.Language, Allowed: j.gate.Allowed(plan)}

	var terminal *model.Event
	for ev := range j.runner.Run(ctx, req) {
		if terminal != nil {
			continue
		}
		switch ev.Type {
		case model.EventLog:
			j.emitJobEvent(job.ID, JobEvent{JobID: job.ID, Type: JobEventProgress, Step: ev.Step, Message: ev.Message})
		case model.EventComplete, model.EventError:
			t := ev
			terminal = &t
		}
	}

	switch {
	case ctx.Err() != nil && (terminal == nil || terminal.Type != model.EventComplete):
		log.Info("task canceled")
		return model.TaskFailed, "canceled", ""
	case terminal == nil:
		return model.TaskFailed, "scan ended without a result", ""
	case terminal.Type == model.EventError:
		log.Warn("scan failed", logging.F("error", terminal.Message))
		return model.TaskFailed, terminal.Message, ""
	case terminal.Result == nil:
		return model.TaskFailed, "scan completed without a result", ""
	}

	res := terminal.Result
	summary, err := json.Marshal(res)
	if err != nil {
		return model.TaskFailed, fmt.Sprintf("encode result: %v", err), ""
	}
	audit := &model.AuditRecord{
		ID:      uuid.NewString(),
		UserID:  job.UserID,
		URL:     job.URL,
		Score:   res.GlobalScore,
		Summary: summary,
		Source:  model.SourceTask,
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := j.store.AppendAudit(saveCtx, audit); err != nil {
		log.Error("saving audit failed", logging.Err(err))
		return model.TaskFailed, fmt.Sprintf("save audit: %v", err), ""
	}
	score := res.GlobalScore
	j.emitJobEvent(job.ID, JobEvent{JobID: job.ID, Type: JobEventProgress, Step: scan.StepFinalize, Message: "Audit saved.", AuditID: audit.ID, Score: &score})
	log.Info("task completed", logging.F("audit_id", audit.ID), logging.F("score", score))
	return model.TaskCompleted, "", audit.ID
}

// finishTask writes the terminal status outside the job's context so a
// canceled job still leaves a terminal row.
func (j *Jobs) finishTask(id string, status model.TaskStatus, errMsg, auditID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := j.store.TransitionTask(ctx, id, status, errMsg, auditID)
	if err != nil && !errors.Is(err, store.ErrTaskTerminal) {
		j.logger.Error("persisting task status failed", logging.F("task_id", id), logging.F("status", status), logging.Err(err))
	}
}

func (j *Jobs) lookup(id string) *Job {
	j.jobsMu.Lock()
	defer j.jobsMu.Unlock()
	return j.jobs[id]
}

func (j *Jobs) setStatus(id string, status model.TaskStatus) {
	j.jobsMu.Lock()
	defer j.jobsMu.Unlock()
	if job, ok := j.jobs[id]; ok {
		job.Status = status
	}
}

func (j *Jobs) forget(id string) {
	j.jobsMu.Lock()
	defer j.jobsMu.Unlock()
	delete(j.jobs, id)
}

func (j *Jobs) emitJobEvent(jobID string, ev JobEvent) {
	j.jobsMu.Lock()
	job, ok := j.jobs[jobID]
	j.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

// Get returns a snapshot of the job, or nil when unknown or expired.
func (j *Jobs) Get(id string) *Job {
	j.jobsMu.Lock()
	defer j.jobsMu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// List returns snapshots of every retained job.
func (j *Jobs) List() []Job {
	j.jobsMu.Lock()
	defer j.jobsMu.Unlock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	return out
}

// Cancel stops a running job. The task is persisted as failed.
func (j *Jobs) Cancel(id string) error {
	j.jobsMu.Lock()
	cancel, ok := j.jobCancels[id]
	j.jobsMu.Unlock()
	if !ok {
		return ErrJobUnknown
	}
	cancel()
	return nil
}

// Close cancels all running jobs and waits for them to persist.
func (j *Jobs) Close() {
	j.jobsMu.Lock()
	j.closed = true
	j.jobsMu.Unlock()
	j.cancel()
	j.wg.Wait()
}
