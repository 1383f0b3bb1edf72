// Package permission guards every use of a folder handle with a
// query-then-request protocol. Authorization is never cached: the gate
// asks again before each use because a grant can lapse between uses.
package permission

import (
	"context"

	"go.uber.org/zap"

	"github.com/picbreeder/host/internal/logging"
)

// Decision is the authorization state of a target.
type Decision int

const (
	Prompt  Decision = iota // Not granted yet; the user may be asked
	Granted                 // Write access is available
	Denied                  // Refused; asking again will not help
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "prompt"
	}
}

// Authorizer queries and requests write access to a target.
type Authorizer interface {
	// Query reports the current state without user interaction.
	Query(ctx context.Context, target string) (Decision, error)

	// Request asks for access, possibly interactively, and reports the
	// resulting state. It may block until the user answers.
	Request(ctx context.Context, target string) (Decision, error)
}

// Gate runs the check-then-use protocol for one Authorizer.
type Gate struct {
	auth   Authorizer
	logger *zap.Logger
}

// NewGate wraps auth.
func NewGate(auth Authorizer, logger *zap.Logger) *Gate {
	return &Gate{auth: auth, logger: logging.OrNop(logger).Named("permission")}
}

// Authorize returns true only when target is writable right now. A target
// that is not already granted is requested once; anything short of a grant
// (including errors) is reported as false so callers skip the operation.
func (g *Gate) Authorize(ctx context.Context, target string) bool {
	decision, err := g.auth.Query(ctx, target)
	if err != nil {
		g.logger.Debug("permission query failed", zap.String("target", target), zap.Error(err))
		return false
	}
	if decision == Granted {
		return true
	}
	if decision == Denied {
		g.logger.Debug("permission denied", zap.String("target", target))
		return false
	}

	decision, err = g.auth.Request(ctx, target)
	if err != nil {
		g.logger.Debug("permission request failed", zap.String("target", target), zap.Error(err))
		return false
	}
	if decision != Granted {
		g.logger.Debug("permission not granted", zap.String("target", target), zap.Stringer("decision", decision))
		return false
	}
	return true
}
