package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreditLedger is the external quota store. CheckBalance may return an
// error wrapping ErrUnknownCaller for callers without an account; Execute
// reads that as a zero balance.
type CreditLedger interface {
	CheckBalance(ctx context.Context, callerID string) (int64, error)
	// Deduct must be idempotent on invocationID.
	Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error
}

// ObservabilityLogger receives one record per Execute call. Failures are
// reported on the secondary channel and never reach the caller.
type ObservabilityLogger interface {
	Record(ctx context.Context, rec InvocationRecord) error
}

// RoleResolver maps a caller to a permission level.
type RoleResolver interface {
	ResolveRole(ctx context.Context, callerID string) (PermissionLevel, error)
}

// Metrics observes dispatch outcomes and secondary-channel failures.
type Metrics interface {
	ObserveDispatch(tool, outcome string, duration time.Duration)
	IncSecondaryFailure(channel, tool string)
}

// Redactor masks secrets in argument summaries.
type Redactor interface {
	Redact(s string) string
}

// Secondary channel names.
const (
	ChannelDeduct = "deduct"
	ChannelRecord = "record"
)

// InvocationRecord is the audit entry for one Execute call.
type InvocationRecord struct {
	InvocationID   string    `json:"invocationId"`
	ToolName       string    `json:"toolName"`
	Version        string    `json:"version,omitempty"`
	MaskedCallerID string    `json:"maskedCallerId"`
	ArgsSummary    string    `json:"argsSummary"`
	Outcome        string    `json:"outcome"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	LatencyMs      *int64    `json:"latencyMs"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	ThreadID       string    `json:"threadId,omitempty"`
	Depth          int       `json:"depth"`
}

// ErrUnknownCaller is returned by StaticRoles for callers without a role
// when no default is set, and by credit ledgers for callers without an
// account.
var ErrUnknownCaller = errors.New("unknown caller")

// StaticRoles resolves roles from a fixed table.
type StaticRoles struct {
	Roles   map[string]PermissionLevel
	Default PermissionLevel
}

func (s StaticRoles) ResolveRole(_ context.Context, callerID string) (PermissionLevel, error) {
	if level, ok := s.Roles[callerID]; ok {
		return level, nil
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCaller, callerID)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDispatch(string, string, time.Duration) {}
func (nopMetrics) IncSecondaryFailure(string, string)            {}
