package redisconn

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/go-redis/redis/v8"
)

// ErrInterrupted is returned when a command was cancelled rather than having
// failed; callers treat it like an interruption, not a transport fault.
var ErrInterrupted = errors.New("redis operation interrupted")

// Outcome is the handling category for a failed command or subscribe.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomeFatal
	OutcomeInterrupted
)

// Classify sorts a failure into the three handling categories: interruption
// (surface as cancellation, never retry), fatal (rethrow unchanged), or
// retryable (reconnect-or-wait, then retry). Both the command executor and
// the subscribe loops route their failures through this one taxonomy.
func Classify(err error) Outcome {
	switch {
	case isInterrupt(err):
		return OutcomeInterrupted
	case isShutdown(err) || isTimeout(err):
		return OutcomeFatal
	case isTransport(err):
		return OutcomeRetry
	default:
		// Non-transport errors (codec bugs, bad arguments) are never
		// something a reconnect can fix.
		return OutcomeFatal
	}
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}

func isShutdown(err error) bool {
	return errors.Is(err, redis.ErrClosed)
}

// Timeouts are fatal, not retried; retrying would mask a truly unresponsive
// backend behind the retry loop's own latency.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransport(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	var re redis.Error
	if errors.As(err, &re) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// IsClusterDown reports whether err indicates the backing cluster is
// currently unreachable. Matching on the reply text is fragile but matches
// what the server actually sends; it is isolated here so a structured error
// code can replace it without touching the executor state machine.
func IsClusterDown(err error) bool {
	return err != nil && strings.Contains(err.Error(), "CLUSTERDOWN")
}
