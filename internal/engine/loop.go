package engine

import (
	"context"
	"time"

	"github.com/mkrv/messengerq/internal/classify"
	"github.com/mkrv/messengerq/internal/metrics"
	"github.com/mkrv/messengerq/internal/store"
)

// Run executes the engine's event loop until ctx is cancelled. All state
// transitions happen here; the public command methods only post messages
// into this loop.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.logger.Info("engine loop started", "profile_id", e.cfg.ProfileID)

	for {
		var tickC <-chan time.Time
		if e.ticker != nil {
			tickC = e.ticker.C
		}
		var sendC <-chan classify.Result
		if e.inflight != nil {
			sendC = e.inflight.done
		}

		select {
		case <-ctx.Done():
			e.cancelPending()
			e.discardInflight()
			e.setState(StateStopped)
			e.logger.Info("engine loop stopped")
			return nil
		case cmd := <-e.cmds:
			cmd.reply <- e.handleCommand(ctx, cmd)
		case <-tickC:
			e.handleTick(ctx)
		case res := <-sendC:
			e.handleResult(res)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		if s := e.State(); s != StateIdle && s != StateStopped {
			return e.invalidTransition("start")
		}
		e.enterRunning(ctx)
		return nil

	case cmdPause:
		if e.State() != StateRunning {
			return e.invalidTransition("pause")
		}
		e.cancelPending()
		e.setState(StatePaused)
		return nil

	case cmdResume:
		if s := e.State(); s != StatePaused && s != StatePausedLimit {
			return e.invalidTransition("resume")
		}
		e.enterRunning(ctx)
		return nil

	case cmdStop:
		e.cancelPending()
		e.discardInflight()
		e.setState(StateStopped)
		return nil

	case cmdLoginOnly:
		if cmd.enabled {
			e.cancelPending()
			e.setState(StateLoginOnly)
			return nil
		}
		if e.State() != StateLoginOnly {
			return e.invalidTransition("leave login-only")
		}
		e.setState(StateIdle)
		return nil

	case cmdSwitchProfile:
		if _, err := e.store.GetProfile(cmd.profileID); err != nil {
			return err
		}
		e.cancelPending()
		e.discardInflight()
		e.mu.Lock()
		e.cfg.ProfileID = cmd.profileID
		e.mu.Unlock()
		e.logger.Info("engine switched profile", "profile_id", cmd.profileID)
		e.setState(StateIdle)
		return nil
	}
	return nil
}

// enterRunning is the shared start/resume path: recover stale leases,
// announce RUNNING, then process immediately.
func (e *Engine) enterRunning(ctx context.Context) {
	now := time.Now()
	recovered, err := e.store.RecoverStale(e.cfg.ProfileID, e.cfg.StaleAfter, now)
	if err != nil {
		e.logger.Error("stale recovery failed", "error", err)
	} else if recovered > 0 {
		e.logger.Warn("recovered stale in-progress recipients", "count", recovered)
		metrics.AddRecovered(recovered)
		e.notify(Notification{Kind: NotifyRecovered, State: StateRunning, Recovered: recovered})
	}
	e.setState(StateRunning)
	e.processNext(ctx)
}

// handleTick advances the countdown; when the deadline passes it runs the
// next iteration.
func (e *Engine) handleTick(ctx context.Context) {
	remaining := time.Until(e.fireAt)
	if remaining > 0 {
		secs := int(remaining.Round(time.Second) / time.Second)
		e.notify(Notification{Kind: NotifyCountdown, State: e.State(), Countdown: secs})
		return
	}
	e.cancelPending()
	if e.State() == StateRunning {
		e.processNext(ctx)
	}
}

// processNext runs one loop iteration: quota gate, lease, launch send.
func (e *Engine) processNext(ctx context.Context) {
	now := time.Now()

	qs, err := e.quota.Status(e.cfg.ProfileID, now)
	if err != nil {
		e.logger.Error("quota check failed", "error", err)
		e.setState(StateIdle)
		return
	}
	if qs.Remaining == 0 {
		e.logger.Info("daily quota exhausted", "limit", qs.Limit, "resets_in", qs.ResetsIn)
		e.setState(StatePausedLimit)
		e.notify(Notification{Kind: NotifyQuota, State: StatePausedLimit, Remaining: 0})
		return
	}

	rcpt, err := e.store.LeaseNext(e.cfg.ProfileID, now)
	if err != nil {
		e.logger.Error("lease failed", "error", err)
		e.setState(StateIdle)
		return
	}
	if rcpt == nil {
		// Nothing leasable right now. Recipients backing off become
		// eligible later, so keep running and poll; a truly drained
		// queue parks the engine in IDLE.
		counts, err := e.store.Counts(e.cfg.ProfileID)
		if err == nil && counts[store.StatusFailRetryable] > 0 {
			e.logger.Debug("all retryable recipients backing off, polling")
			e.scheduleNext(e.cfg.RetryPoll)
			return
		}
		e.logger.Info("recipient queue drained")
		e.setState(StateIdle)
		return
	}

	e.launchSend(ctx, rcpt)
}

// launchSend starts the asynchronous send for a leased recipient. A
// heartbeat goroutine marks the lease alive for the duration of the send.
func (e *Engine) launchSend(ctx context.Context, rcpt *store.Recipient) {
	sendCtx, cancel := context.WithCancel(ctx)
	fl := &inflightSend{
		recipient: rcpt,
		cancel:    cancel,
		done:      make(chan classify.Result, 1),
		startedAt: time.Now(),
	}
	e.inflight = fl

	message := e.messages.Pick()
	e.logger.Info("sending",
		"recipient_id", rcpt.ID,
		"key", rcpt.NormalizedKey,
		"attempt", rcpt.Attempts)
	e.notify(Notification{Kind: NotifySending, State: StateRunning, RecipientID: rcpt.ID, Key: rcpt.NormalizedKey})

	go e.heartbeatLoop(sendCtx, rcpt.ID)
	go func() {
		defer cancel()
		fl.done <- e.sender.Send(sendCtx, rcpt.NormalizedKey, message)
	}()
}

func (e *Engine) heartbeatLoop(ctx context.Context, recipientID string) {
	ticker := time.NewTicker(e.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.store.Heartbeat(recipientID, time.Now()); err != nil {
				e.logger.Warn("heartbeat failed", "recipient_id", recipientID, "error", err)
			}
		}
	}
}

// handleResult applies the completion policy for a finished send
func (e *Engine) handleResult(res classify.Result) {
	fl := e.inflight
	e.inflight = nil
	rcpt := fl.recipient
	now := time.Now()

	completion, terminal, success := e.completionFor(rcpt, res, now)

	if err := e.store.Complete(rcpt.ID, completion); err != nil {
		e.logger.Error("failed to persist send result", "recipient_id", rcpt.ID, "error", err)
	}
	if terminal {
		if err := e.quota.Record(e.cfg.ProfileID, now, success); err != nil {
			e.logger.Error("failed to record quota", "error", err)
		}
	}
	metrics.IncSendResult(string(completion.Status), completion.ErrorCode)
	metrics.ObserveSendDuration(now.Sub(fl.startedAt).Seconds())

	e.logger.Info("send resolved",
		"recipient_id", rcpt.ID,
		"key", rcpt.NormalizedKey,
		"status", completion.Status,
		"code", completion.ErrorCode,
		"attempt", rcpt.Attempts)
	e.notify(Notification{
		Kind:        NotifyResult,
		State:       e.State(),
		RecipientID: rcpt.ID,
		Key:         rcpt.NormalizedKey,
		Disposition: string(completion.Status),
		Code:        completion.ErrorCode,
	})

	if e.State() == StateRunning {
		e.scheduleNext(e.cfg.SendDelay)
	}
}

// completionFor maps a classified result onto the recipient's next stored
// state. Retryable failures escalate to permanent once the attempt budget
// is spent.
func (e *Engine) completionFor(rcpt *store.Recipient, res classify.Result, now time.Time) (store.Completion, bool, bool) {
	switch res.Disposition {
	case classify.Success:
		return store.Completion{
			Status:       store.StatusSuccess,
			EvidencePath: res.EvidencePath,
		}, true, true

	case classify.Permanent:
		return store.Completion{
			Status:       store.StatusFailPerm,
			ErrorCode:    string(res.Code),
			ErrorMsg:     res.Message,
			EvidencePath: res.EvidencePath,
		}, true, false

	default:
		if rcpt.Attempts >= e.cfg.RetryMaxAttempts {
			return store.Completion{
				Status:       store.StatusFailPerm,
				ErrorCode:    string(classify.CodeMaxAttempts),
				ErrorMsg:     "retry budget exhausted: " + res.Message,
				EvidencePath: res.EvidencePath,
			}, true, false
		}
		return store.Completion{
			Status:           store.StatusFailRetryable,
			ErrorCode:        string(res.Code),
			ErrorMsg:         res.Message,
			EvidencePath:     res.EvidencePath,
			NextAttemptAfter: now.Add(e.backoff(rcpt.Attempts)),
		}, false, false
	}
}

// scheduleNext arms the single pending timer. Any previous timer is
// cancelled first; two pending timers must never coexist.
func (e *Engine) scheduleNext(delay time.Duration) {
	e.cancelPending()
	e.fireAt = time.Now().Add(delay)
	e.ticker = time.NewTicker(e.tick)
	secs := int(delay.Round(time.Second) / time.Second)
	e.notify(Notification{Kind: NotifyCountdown, State: e.State(), Countdown: secs})
}

func (e *Engine) cancelPending() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	e.fireAt = time.Time{}
}

// discardInflight abandons the current send. The recipient's persisted
// IN_PROGRESS row is left for the next stale recovery pass; a soft stop
// does not invent an outcome for work whose true result is unknown.
func (e *Engine) discardInflight() {
	if e.inflight == nil {
		return
	}
	e.logger.Warn("abandoning in-flight send",
		"recipient_id", e.inflight.recipient.ID)
	e.inflight.cancel()
	e.inflight = nil
}
