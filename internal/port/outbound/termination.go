package outbound

import (
	"context"
	"time"
)

// TerminationNotice describes an impending host shutdown.
type TerminationNotice struct {
	Action   string
	Deadline time.Time
}

// TerminationNotifier watches the host environment for shutdown warnings,
// such as spot instance interruption notices.
type TerminationNotifier interface {
	// Watch returns a channel that receives at most one notice, then closes.
	// The poller stops when ctx is canceled.
	Watch(ctx context.Context) (<-chan TerminationNotice, error)
}

// Terminator shuts down or recycles the current host. Implementations are
// environment-specific; tests inject fakes.
type Terminator interface {
	Terminate(ctx context.Context, reason string) error
}
