package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrv/messengerq/internal/classify"
)

const defaultChatURLFormat = "https://www.facebook.com/messages/t/%s"

// RunnerConfig contains per-phase timeouts for one send
type RunnerConfig struct {
	ChatURLFormat string
	PageLoadWait  time.Duration
	SendWait      time.Duration
}

// Runner drives a single recipient send through the page automation
// backend and resolves it to exactly one classified result. Timeouts,
// backend errors and panics all collapse into the error taxonomy; nothing
// escapes to the engine loop as an unhandled fault.
type Runner struct {
	page   PageAutomation
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a runner around a page automation backend
func NewRunner(page PageAutomation, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.ChatURLFormat == "" {
		cfg.ChatURLFormat = defaultChatURLFormat
	}
	if cfg.PageLoadWait <= 0 {
		cfg.PageLoadWait = 20 * time.Second
	}
	if cfg.SendWait <= 0 {
		cfg.SendWait = 30 * time.Second
	}
	return &Runner{page: page, cfg: cfg, logger: logger}
}

// Send performs navigate + compose for one normalized recipient key
func (r *Runner) Send(ctx context.Context, key, message string) classify.Result {
	url := fmt.Sprintf(r.cfg.ChatURLFormat, key)
	r.logger.Debug("navigating to conversation", "key", key, "url", url)

	loaded, err := r.navigate(ctx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return classify.Result{
				Disposition: classify.Retryable,
				Code:        classify.CodeNavTimeout,
				Message:     "chat page failed to load in time",
			}
		}
		return workerException(err)
	}
	if !loaded {
		return classify.Result{
			Disposition: classify.Retryable,
			Code:        classify.CodeNavTimeout,
			Message:     "chat page failed to load",
		}
	}

	r.logger.Debug("page loaded, composing", "key", key)

	outcome, err := r.compose(ctx, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return classify.Result{
				Disposition: classify.Retryable,
				Code:        classify.CodeSendTimeout,
				Message:     "message send timed out",
			}
		}
		return workerException(err)
	}

	if outcome.Success {
		return classify.Result{
			Disposition:  classify.Success,
			EvidencePath: outcome.EvidencePath,
		}
	}
	res := classify.Reason(outcome.Reason)
	res.EvidencePath = outcome.EvidencePath
	return res
}

// navigate runs the page load with its own deadline. The backend call runs
// in a goroutine so a backend that ignores ctx still cannot wedge the
// engine; only the first resolution (result or timeout) is honored.
func (r *Runner) navigate(ctx context.Context, url string) (loaded bool, err error) {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.PageLoadWait)
	defer cancel()

	type navResult struct {
		loaded bool
		err    error
	}
	ch := make(chan navResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- navResult{err: fmt.Errorf("automation backend panic: %v", p)}
			}
		}()
		ok, err := r.page.Navigate(navCtx, url)
		ch <- navResult{loaded: ok, err: err}
	}()

	select {
	case res := <-ch:
		return res.loaded, res.err
	case <-navCtx.Done():
		return false, navCtx.Err()
	}
}

func (r *Runner) compose(ctx context.Context, message string) (SendOutcome, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendWait)
	defer cancel()

	type sendResult struct {
		outcome SendOutcome
		err     error
	}
	ch := make(chan sendResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- sendResult{err: fmt.Errorf("automation backend panic: %v", p)}
			}
		}()
		outcome, err := r.page.ComposeAndSend(sendCtx, message)
		ch <- sendResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-ch:
		return res.outcome, res.err
	case <-sendCtx.Done():
		return SendOutcome{}, sendCtx.Err()
	}
}

func workerException(err error) classify.Result {
	return classify.Result{
		Disposition: classify.Retryable,
		Code:        classify.CodeWorkerException,
		Message:     err.Error(),
	}
}
