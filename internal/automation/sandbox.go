package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SandboxSend is one message captured by the sandbox backend
type SandboxSend struct {
	URL     string
	Message string
	SentAt  time.Time
}

// Sandbox is an in-process PageAutomation backend for dry runs and tests.
// It records every send for audit instead of touching a real browser, and
// can be scripted to fail: either a fixed reason for specific recipient
// keys, or random failures at a configured probability.
type Sandbox struct {
	mu       sync.Mutex
	logger   *slog.Logger
	sends    []SandboxSend
	scripted map[string]string // key fragment -> failure reason

	simulateErrors   bool
	errorProbability float64

	currentURL string
}

// NewSandbox creates a sandbox backend
func NewSandbox(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sandbox{
		logger:   logger,
		scripted: make(map[string]string),
	}
}

// ScriptFailure makes every send whose conversation URL contains fragment
// fail with the given reason.
func (s *Sandbox) ScriptFailure(fragment, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted[fragment] = reason
}

// SetErrorSimulation enables random send failures at the given probability
func (s *Sandbox) SetErrorSimulation(enabled bool, probability float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulateErrors = enabled
	s.errorProbability = probability
	s.logger.Info("sandbox error simulation updated",
		"enabled", enabled,
		"probability", probability)
}

// Navigate records the target conversation. The sandbox has no real page,
// so navigation always succeeds unless the context is already dead.
func (s *Sandbox) Navigate(ctx context.Context, url string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.currentURL = url
	s.mu.Unlock()
	s.logger.Debug("sandbox navigated", "url", url)
	return true, nil
}

// ComposeAndSend captures the message instead of delivering it
func (s *Sandbox) ComposeAndSend(ctx context.Context, message string) (SendOutcome, error) {
	if err := ctx.Err(); err != nil {
		return SendOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for fragment, reason := range s.scripted {
		if strings.Contains(s.currentURL, fragment) {
			s.logger.Info("sandbox scripted failure", "url", s.currentURL, "reason", reason)
			return SendOutcome{Reason: reason}, nil
		}
	}

	if s.simulateErrors && rand.Float64() < s.errorProbability {
		reason := simulatedReasons[rand.Intn(len(simulatedReasons))]
		s.logger.Info("sandbox simulated failure", "url", s.currentURL, "reason", reason)
		return SendOutcome{Reason: reason}, nil
	}

	s.sends = append(s.sends, SandboxSend{
		URL:     s.currentURL,
		Message: message,
		SentAt:  time.Now(),
	})
	s.logger.Info("sandbox captured message",
		"url", s.currentURL,
		"total_captured", len(s.sends))
	return SendOutcome{Success: true}, nil
}

// Sends returns a copy of all captured sends
func (s *Sandbox) Sends() []SandboxSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SandboxSend, len(s.sends))
	copy(out, s.sends)
	return out
}

// Reset clears captured sends and scripted failures
func (s *Sandbox) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = nil
	s.scripted = make(map[string]string)
	s.currentURL = ""
}

// Stats returns a short human-readable summary of sandbox activity
func (s *Sandbox) Stats() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("captured=%d scripted=%d simulate_errors=%t",
		len(s.sends), len(s.scripted), s.simulateErrors)
}

var simulatedReasons = []string{
	"navigation timeout while opening conversation",
	"session expired",
	"composer not found after retries",
	"unexpected dialog blocked the composer",
}
