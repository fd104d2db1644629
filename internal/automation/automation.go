// Package automation defines the page-automation boundary: the single
// opaque, possibly-flaky external capability that navigates to a recipient's
// conversation and composes a message. Everything behind the interface
// (browser, DOM scripting, popup handling) is a collaborator outside this
// repo; only the sandbox backend ships here.
package automation

import "context"

// SendOutcome is the raw result of a compose-and-send attempt. The backend
// must retry internally against transient UI-not-ready conditions before
// giving up, and its Reason must distinguish "never found an input surface"
// from "timed out waiting" — the classifier maps the former to a permanent
// failure and everything else to a retryable one.
type SendOutcome struct {
	Success      bool
	Reason       string
	EvidencePath string
}

// PageAutomation is the capability a browser bridge must provide
type PageAutomation interface {
	// Navigate loads the conversation URL. It returns false when the page
	// did not finish loading before ctx expired.
	Navigate(ctx context.Context, url string) (bool, error)

	// ComposeAndSend types the message into the conversation's composer and
	// submits it. It must resolve exactly once per call.
	ComposeAndSend(ctx context.Context, message string) (SendOutcome, error)
}
