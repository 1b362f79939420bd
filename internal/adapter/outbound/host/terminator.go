// Package host implements the terminator port against the local machine.
package host

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"filesearch/internal/application/common/slogger"
)

// ExitTerminator ends the process with a fixed exit code and relies on the
// process supervisor (systemd, the container runtime) to start a fresh one.
type ExitTerminator struct {
	Code int
}

func (t ExitTerminator) Terminate(ctx context.Context, reason string) error {
	slogger.Error(ctx, "Terminating process", slogger.Fields2(
		"reason", reason,
		"exit_code", t.Code,
	))
	os.Exit(t.Code)
	return nil
}

// RebootTerminator reboots the host. Used on dedicated worker machines where
// a wedged process usually means a wedged kernel mount or OOM churn.
type RebootTerminator struct{}

func (RebootTerminator) Terminate(ctx context.Context, reason string) error {
	slogger.Error(ctx, "Rebooting host", slogger.Fields{"reason": reason})

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "shutdown", "-r", "now")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reboot failed: %w: %s", err, stderr.String())
	}
	return nil
}
