// Package attestation runs the external proof backend and turns its output
// into a typed verdict.
package attestation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"humanitylink/internal/platform/metrics"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/requestcontext"
)

const (
	// DefaultTimeout is the hard wall-clock budget for one backend run.
	DefaultTimeout = 30 * time.Second

	// maxOutput bounds the output kept in RawOutput. Verdict scanning sees
	// the whole stream.
	maxOutput = 64 << 10

	// waitDelay is how long Wait keeps copying output after the process is killed.
	waitDelay = 2 * time.Second
)

var tracer trace.Tracer = otel.Tracer("humanitylink/attestation")

// Config describes how to start the proof backend. The three circuit inputs
// are appended to Args in the order subject, reference, threshold, each
// followed by ValueSuffix.
type Config struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	ValueSuffix string
	Timeout     time.Duration
}

// Invoker issues bounded boundary calls to the proof backend.
type Invoker struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Invoker)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// NewInvoker constructs an Invoker. A zero timeout means DefaultTimeout.
func NewInvoker(cfg Config, opts ...Option) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	i := &Invoker{cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke validates req, runs the backend once and parses its verdict.
// It never retries.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, i.fail(KindInvalidInput, "attestation input out of range", "", err)
	}

	ctx, span := tracer.Start(ctx, "attestation.invoke", trace.WithAttributes(
		attribute.Int("attestation.reference", req.Reference),
		attribute.Int("attestation.threshold", req.Threshold),
		attribute.String("attestation.contract", OutputContractVersion),
	))
	defer span.End()

	start := time.Now()
	result, err := i.run(ctx, req)
	elapsed := time.Since(start)

	outcome := string(KindOf(err))
	if err == nil {
		outcome = strconv.FormatBool(result.Verdict)
		span.SetAttributes(attribute.Bool("attestation.verdict", result.Verdict))
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	i.metrics.ObserveAttestation(outcome, elapsed)

	logAttrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		i.logger.WarnContext(ctx, "attestation failed", append(logAttrs, "error", err)...)
		return nil, err
	}
	i.logger.InfoContext(ctx, "attestation completed", logAttrs...)
	return result, nil
}

func (i *Invoker) run(ctx context.Context, req Request) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, i.cfg.Command, i.args(req)...)
	cmd.Dir = i.cfg.Dir
	if len(i.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), i.cfg.Env...)
	}
	out := &outputCapture{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	killProcessGroupOnCancel(cmd)

	if err := ctx.Err(); err != nil {
		return nil, i.fail(KindBackendExecution, "proof backend invocation cancelled", "", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, i.fail(KindBackendUnavailable, "proof backend could not be started", "", err)
	}

	// Wait always reaps the child, including after a timeout kill.
	waitErr := cmd.Wait()
	output := out.String()

	if waitErr != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, i.fail(KindTimeout,
				fmt.Sprintf("proof backend exceeded its %s budget", i.cfg.Timeout), output, runCtx.Err())
		case ctx.Err() != nil:
			return nil, i.fail(KindBackendExecution, "proof backend invocation cancelled", output, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, i.fail(KindBackendExecution,
				fmt.Sprintf("proof backend exited with status %d", exitErr.ExitCode()), output, waitErr)
		}
		return nil, i.fail(KindBackendExecution, "proof backend did not complete", output, waitErr)
	}

	verdict, err := out.Verdict()
	if err != nil {
		return nil, i.fail(KindBackendExecution, "proof backend output violated its contract", output, err)
	}

	return &Result{Verdict: verdict, Reference: req.Reference, RawOutput: output}, nil
}

func (i *Invoker) args(req Request) []string {
	args := make([]string, 0, len(i.cfg.Args)+3)
	args = append(args, i.cfg.Args...)
	for _, v := range []int{req.Subject, req.Reference, req.Threshold} {
		args = append(args, strconv.Itoa(v)+i.cfg.ValueSuffix)
	}
	return args
}

// fail builds the coded error returned to callers. The InvocationError stays
// reachable through errors.As, and a contract violation keeps its ParseError.
func (i *Invoker) fail(kind Kind, message, output string, cause error) error {
	ie := &InvocationError{Kind: kind, Message: message, Output: output, Underlying: cause}
	return dErrors.Wrap(ie, codeFor(kind, cause), message)
}

func codeFor(kind Kind, cause error) dErrors.Code {
	switch kind {
	case KindInvalidInput:
		return dErrors.CodeInvalidInput
	case KindTimeout:
		return dErrors.CodeTimeout
	case KindBackendUnavailable:
		return dErrors.CodeBackendUnavailable
	}
	var pe *ParseError
	if errors.As(cause, &pe) {
		return dErrors.CodeContractViolation
	}
	return dErrors.CodeBackendFailure
}

// outputCapture keeps the first limit bytes written and scans every byte
// for the verdict line.
type outputCapture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	scanner verdictScanner
}

func (c *outputCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	c.scanner.Write(p)
	return len(p), nil
}

func (c *outputCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *outputCapture) Verdict() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanner.Verdict()
}
