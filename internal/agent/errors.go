package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrTransient marks connectivity/availability failures that the retry
// envelope may retry. Backends wrap such failures:
//
//	fmt.Errorf("%w: %v", agent.ErrTransient, err)
var ErrTransient = errors.New("transient backend failure")

// TurnsExceededError reports that a role ran past its interaction-turn
// ceiling. Fatal for the attempt: retrying would burn the same turns again.
type TurnsExceededError struct {
	Role     Role
	MaxTurns int
}

func (e *TurnsExceededError) Error() string {
	return fmt.Sprintf("role %s exceeded max turns (%d)", e.Role, e.MaxTurns)
}

// Class is the retry-relevant classification of an invocation error.
type Class string

const (
	ClassTransient Class = "transient"
	ClassFatal     Class = "fatal"
)

// Classify determines whether an invocation error may be retried.
// Turn-ceiling breaches and anything unrecognized are fatal; only errors the
// backend explicitly marked transient, plus raw timeout/connectivity errors,
// are retried.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var turns *TurnsExceededError
	if errors.As(err, &turns) {
		return ClassFatal
	}
	if errors.Is(err, ErrTransient) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassFatal
}

// transientStatusFragments appear in HTTP-level error strings from
// OpenAI-compatible backends for availability problems worth retrying.
var transientStatusFragments = []string{
	"status code: 429",
	"status code: 500",
	"status code: 502",
	"status code: 503",
	"status code: 504",
	"connection refused",
	"connection reset",
	"timeout",
	"temporarily unavailable",
}

// wrapBackendError marks availability-class backend errors transient and
// leaves everything else (auth failures, bad requests) fatal.
func wrapBackendError(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) == ClassTransient {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientStatusFragments {
		if strings.Contains(msg, fragment) {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}
