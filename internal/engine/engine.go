// Package engine runs the outreach loop: one recipient at a time, leased
// from the store, sent through the page automation backend, completed with
// a classified outcome, then a scheduled delay before the next iteration.
// The engine is a single-goroutine state machine driven by a command
// channel; at most one timer and one in-flight send exist at any moment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkrv/messengerq/internal/classify"
	"github.com/mkrv/messengerq/internal/metrics"
	"github.com/mkrv/messengerq/internal/quota"
	"github.com/mkrv/messengerq/internal/store"
)

// State is the engine's lifecycle state
type State string

const (
	StateIdle        State = "IDLE"
	StateRunning     State = "RUNNING"
	StatePaused      State = "PAUSED"
	StatePausedLimit State = "PAUSED_LIMIT"
	StateStopped     State = "STOPPED"
	StateLoginOnly   State = "LOGIN_ONLY"
)

// AllStates lists every engine state, for display and metrics
var AllStates = []string{
	string(StateIdle),
	string(StateRunning),
	string(StatePaused),
	string(StatePausedLimit),
	string(StateStopped),
	string(StateLoginOnly),
}

// ErrNotRunning is returned when a command is issued after the engine's
// run loop has exited.
var ErrNotRunning = errors.New("engine is not running")

// Sender resolves one send attempt to a classified result
type Sender interface {
	Send(ctx context.Context, key, message string) classify.Result
}

// MessagePicker supplies the message text for a send
type MessagePicker interface {
	Pick() string
}

// NotificationKind tags engine notifications for consumers
type NotificationKind string

const (
	NotifyState     NotificationKind = "state"
	NotifyCountdown NotificationKind = "countdown"
	NotifySending   NotificationKind = "sending"
	NotifyResult    NotificationKind = "result"
	NotifyRecovered NotificationKind = "recovered"
	NotifyQuota     NotificationKind = "quota"
)

// Notification is an observable engine event for UI and API consumers.
// Delivery is best-effort: a slow consumer drops notifications rather than
// stalling the loop.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	State       State            `json:"state"`
	Countdown   int              `json:"countdown,omitempty"`
	RecipientID string           `json:"recipient_id,omitempty"`
	Key         string           `json:"key,omitempty"`
	Disposition string           `json:"disposition,omitempty"`
	Code        string           `json:"code,omitempty"`
	Recovered   int              `json:"recovered,omitempty"`
	Remaining   int              `json:"remaining,omitempty"`
}

// Config contains engine tuning
type Config struct {
	ProfileID        uint64
	RetryMaxAttempts int
	BaseBackoff      time.Duration
	BackoffCap       time.Duration
	SendDelay        time.Duration
	RetryPoll        time.Duration
	StaleAfter       time.Duration
	Heartbeat        time.Duration
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdLoginOnly
	cmdSwitchProfile
)

type command struct {
	kind      cmdKind
	profileID uint64
	enabled   bool
	reply     chan error
}

// Engine drives the outreach state machine
type Engine struct {
	store    *store.Store
	quota    *quota.Tracker
	sender   Sender
	messages MessagePicker
	cfg      Config
	logger   *slog.Logger

	cmds          chan command
	notifications chan Notification
	done          chan struct{}

	mu    sync.RWMutex
	state State

	// countdown granularity; overridden in tests
	tick time.Duration

	// loop-owned, never touched outside run()
	ticker   *time.Ticker
	fireAt   time.Time
	inflight *inflightSend
}

type inflightSend struct {
	recipient *store.Recipient
	cancel    context.CancelFunc
	done      chan classify.Result
	startedAt time.Time
}

// New creates an engine. Zero config fields get conservative defaults.
func New(s *store.Store, q *quota.Tracker, sender Sender, messages MessagePicker, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 120 * time.Second
	}
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 15 * time.Second
	}
	if cfg.RetryPoll <= 0 {
		cfg.RetryPoll = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}

	return &Engine{
		store:         s,
		quota:         q,
		sender:        sender,
		messages:      messages,
		cfg:           cfg,
		logger:        logger,
		cmds:          make(chan command),
		notifications: make(chan Notification, 64),
		done:          make(chan struct{}),
		state:         StateIdle,
		tick:          time.Second,
	}
}

// State returns the current engine state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ProfileID returns the profile the engine is currently bound to
func (e *Engine) ProfileID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.ProfileID
}

// Notifications returns the engine's event stream
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// Start begins processing. Valid from IDLE and STOPPED.
func (e *Engine) Start() error { return e.do(command{kind: cmdStart}) }

// Pause suspends processing after any in-flight send completes
func (e *Engine) Pause() error { return e.do(command{kind: cmdPause}) }

// Resume continues processing from PAUSED or PAUSED_LIMIT
func (e *Engine) Resume() error { return e.do(command{kind: cmdResume}) }

// Stop halts processing and abandons any in-flight send. The abandoned
// recipient stays IN_PROGRESS in the store until the next stale recovery.
func (e *Engine) Stop() error { return e.do(command{kind: cmdStop}) }

// SetLoginOnly toggles the login-only state, which suspends automation
// while the operator authenticates in the external browsing surface.
func (e *Engine) SetLoginOnly(enabled bool) error {
	return e.do(command{kind: cmdLoginOnly, enabled: enabled})
}

// SwitchProfile rebinds the engine to another profile. Any pending timer
// is cancelled and any in-flight send abandoned; the engine lands in IDLE.
func (e *Engine) SwitchProfile(profileID uint64) error {
	return e.do(command{kind: cmdSwitchProfile, profileID: profileID})
}

func (e *Engine) do(c command) error {
	c.reply = make(chan error, 1)
	select {
	case e.cmds <- c:
	case <-e.done:
		return ErrNotRunning
	}
	select {
	case err := <-c.reply:
		return err
	case <-e.done:
		return ErrNotRunning
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	metrics.SetEngineState(string(s), AllStates)
	e.notify(Notification{Kind: NotifyState, State: s})
}

func (e *Engine) notify(n Notification) {
	select {
	case e.notifications <- n:
	default:
		e.logger.Debug("notification dropped, consumer slow", "kind", n.Kind)
	}
}

// backoff computes the retry delay for a recipient with the given attempt
// count: base * 2^(attempts-1), capped.
func (e *Engine) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := uint(attempts - 1)
	if shift >= 32 {
		return e.cfg.BackoffCap
	}
	d := e.cfg.BaseBackoff << shift
	if d <= 0 || d > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return d
}

func (e *Engine) invalidTransition(op string) error {
	return fmt.Errorf("cannot %s from state %s", op, e.State())
}
