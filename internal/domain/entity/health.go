package entity

import (
	"fmt"
	"strings"
	"time"
)

// CheckSeverity distinguishes checks that block startup from checks that
// only degrade functionality.
type CheckSeverity string

const (
	SeverityCritical CheckSeverity = "critical"
	SeverityWarning  CheckSeverity = "warning"
)

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message"`
	Severity CheckSeverity `json:"severity"`
	Duration time.Duration `json:"duration"`
}

func (r CheckResult) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s [%s] %s: %s", status, strings.ToUpper(string(r.Severity)), r.Name, r.Message)
}

// HealthStatus is an ephemeral, process-local snapshot of dependency checks.
// It is computed before the worker starts serving and periodically by the
// supervisor; it is never persisted beyond the current process.
type HealthStatus struct {
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy reports whether no critical check failed. Warning failures degrade
// functionality but do not block startup.
func (h HealthStatus) Healthy() bool {
	return h.CriticalFailures() == 0
}

// CriticalFailures counts failed critical checks.
func (h HealthStatus) CriticalFailures() int {
	n := 0
	for _, c := range h.Checks {
		if !c.Passed && c.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Warnings counts failed warning checks.
func (h HealthStatus) Warnings() int {
	n := 0
	for _, c := range h.Checks {
		if !c.Passed && c.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// FailureSummary joins failed check names for diagnostics.
func (h HealthStatus) FailureSummary() string {
	var failed []string
	for _, c := range h.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return strings.Join(failed, ", ")
}
