// Package classify maintains the explicit transient/permanent error
// classification table used by the worker and the dead-letter reprocessor.
// Typed domain errors are checked first; message patterns are the fallback
// for errors that cross process boundaries as strings.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"filesearch/internal/domain/entity"
)

// Rule maps message substrings to a failure class. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Class    entity.FailureClass
	Patterns []string
}

// Classifier classifies errors into the failure taxonomy.
type Classifier struct {
	rules []Rule
}

// DefaultRules returns the built-in classification table. Callers can extend
// it with NewClassifier rather than editing call sites.
func DefaultRules() []Rule {
	return []Rule{
		{
			Class: entity.FailurePermanent,
			Patterns: []string{
				"unsupported",
				"invalid format",
				"corrupt",
				"malformed",
				"not found",
				"no such key",
				"nosuchkey",
				"does not exist",
				"access denied",
				"accessdenied",
				"permission",
				"dimensionality mismatch",
				"exceeds maximum size",
			},
		},
		{
			Class: entity.FailureTransient,
			Patterns: []string{
				"timeout",
				"timed out",
				"throttl",
				"rate limit",
				"too many requests",
				"connection refused",
				"connection reset",
				"connection lost",
				"temporarily unavailable",
				"service unavailable",
				"try again",
				"no route to host",
				"network is unreachable",
				"deadlock",
				"too many connections",
			},
		},
	}
}

// NewClassifier builds a classifier from the given rules. Nil rules means
// the default table.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify places an error in the failure taxonomy.
func (c *Classifier) Classify(err error) entity.FailureClass {
	if err == nil {
		return entity.FailureUnknown
	}

	// Typed errors take precedence over string matching.
	switch {
	case errors.Is(err, entity.ErrUnsupportedType),
		errors.Is(err, entity.ErrCorruptContent),
		errors.Is(err, entity.ErrObjectNotFound),
		errors.Is(err, entity.ErrDimensionMismatch),
		errors.Is(err, entity.ErrFileTooLarge):
		return entity.FailurePermanent
	case errors.Is(err, entity.ErrRateLimited),
		errors.Is(err, entity.ErrServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return entity.FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return entity.FailureTransient
	}

	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a bare error string, as carried on a
// FailureRecord that crossed the queue.
func (c *Classifier) ClassifyMessage(message string) entity.FailureClass {
	lower := strings.ToLower(message)
	for _, rule := range c.rules {
		for _, pattern := range rule.Patterns {
			if strings.Contains(lower, pattern) {
				return rule.Class
			}
		}
	}
	return entity.FailureUnknown
}

// IsRetryable adapts the classifier to the retry executor's checker
// interface: only transient errors are worth an in-process retry.
func (c *Classifier) IsRetryable(err error) bool {
	return c.Classify(err) == entity.FailureTransient
}
