package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/queue"
)

const (
	// maxStderrBytes caps the amount of stderr kept from an engine run.
	maxStderrBytes = 64 * 1024

	defaultTimeout      = 10 * time.Minute
	defaultPollInterval = time.Second
	defaultGracePeriod  = 5 * time.Second
)

// JobQueue is the consumer side of queue.Queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, status queue.Status, lastError *string) error
}

// UpdateFinisher closes the update a job belongs to.
type UpdateFinisher interface {
	Finish(ctx context.Context, id string, status execute.UpdateStatus) error
}

// Config controls how jobs are run.
type Config struct {
	// Command is the engine command and its arguments.
	Command      []string
	Timeout      time.Duration
	PollInterval time.Duration
	// GracePeriod is the wait between SIGTERM and SIGKILL on timeout.
	GracePeriod time.Duration
}

// Executor dequeues jobs and runs them through the engine command.
type Executor struct {
	cfg     Config
	queue   JobQueue
	updates UpdateFinisher
	logger  *slog.Logger
}

func New(cfg Config, q JobQueue, updates UpdateFinisher) (*Executor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("executor command is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Executor{
		cfg:     cfg,
		queue:   q,
		updates: updates,
		logger:  log.WithComponent("executor"),
	}, nil
}

// Start runs the execution loop until ctx is cancelled. A job already
// running when ctx is cancelled is finished first.
func (e *Executor) Start(ctx context.Context) error {
	e.logger.Info("executor started", "command", e.cfg.Command[0], "timeout", e.cfg.Timeout)
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Drain everything queued before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := e.ProcessNext(ctx)
				if err != nil {
					e.logger.Error("failed to process job", "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// ProcessNext runs the oldest queued job, reporting false when the queue is empty.
func (e *Executor) ProcessNext(ctx context.Context) (bool, error) {
	job, err := e.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}

	e.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (e *Executor) execute(ctx context.Context, job *queue.Job) {
	jobLogger := log.WithResource(job.TargetKind, job.TargetID).With(
		"component", "executor",
		"job_id", job.ID,
		"update_id", job.UpdateID,
		"operation", job.Operation,
	)
	jobLogger.Info("executing job")

	req := &Request{
		Protocol:    ProtocolVersion,
		JobID:       job.ID,
		UpdateID:    job.UpdateID,
		Operation:   job.Operation,
		Target:      Target{Kind: job.TargetKind, ID: job.TargetID},
		Params:      job.Payload,
		SubmittedBy: job.SubmittedBy,
		DeadlineAt:  time.Now().Add(e.cfg.Timeout).UTC(),
	}

	resp, stderr, err := e.spawn(req, jobLogger)
	if stderr != "" {
		jobLogger.Debug("engine stderr", "stderr", stderr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.fail(ctx, job, fmt.Sprintf("engine timed out after %v", e.cfg.Timeout), jobLogger)
	case err != nil:
		e.fail(ctx, job, fmt.Sprintf("engine run failed: %v", err), jobLogger)
	default:
		for _, entry := range resp.Logs {
			jobLogger.Info("engine log", "level", entry.Level, "message", entry.Message)
		}
		if resp.Status == "error" {
			e.fail(ctx, job, resp.Error, jobLogger)
			return
		}
		jobLogger.Info("job completed successfully")
		e.complete(ctx, job, queue.StatusSucceeded, nil, execute.UpdateStatusComplete)
	}
}

func (e *Executor) fail(ctx context.Context, job *queue.Job, msg string, logger *slog.Logger) {
	logger.Warn("job failed", "error", msg)
	e.complete(ctx, job, queue.StatusFailed, &msg, execute.UpdateStatusFailed)
}

func (e *Executor) complete(ctx context.Context, job *queue.Job, status queue.Status, lastError *string, updateStatus execute.UpdateStatus) {
	if err := e.queue.Complete(ctx, job.ID, status, lastError); err != nil {
		e.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
	if err := e.updates.Finish(ctx, job.UpdateID, updateStatus); err != nil {
		e.logger.Error("failed to finish update", "update_id", job.UpdateID, "error", err)
	}
}

// spawn runs the engine command with req on stdin and decodes its response.
// On timeout it returns context.DeadlineExceeded.
func (e *Executor) spawn(req *Request, logger *slog.Logger) (*Response, string, error) {
	timeoutTimer := time.NewTimer(e.cfg.Timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is SIGTERM first, then SIGKILL.
	cmd := exec.Command(e.cfg.Command[0], e.cfg.Command[1:]...)
	// Orphaned children may hold stdout open after the engine is killed.
	cmd.WaitDelay = e.cfg.GracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("engine timed out, sending SIGTERM")
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(e.cfg.GracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("engine exited after SIGTERM")
		case <-grace.C:
			logger.Warn("engine did not exit after SIGTERM, sending SIGKILL")
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
		}
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())

		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("engine exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := DecodeResponse(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode engine response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
