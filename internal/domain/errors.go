package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, usable on their own or through NewSubSystemError.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrLimitReached = fmt.Errorf("limit reached")
)

// Sentinel errors for the messaging core.
var (
	ErrConfiguration      = fmt.Errorf("missing required configuration")
	ErrGovernanceBlocked  = fmt.Errorf("blocked by governance")
	ErrDeliveryUnresolved = fmt.Errorf("delivery target not found")
	ErrProcessing         = fmt.Errorf("message handler failed")
	ErrMemoryPersist      = fmt.Errorf("memory persist failed")
	ErrUnauthorized       = fmt.Errorf("unauthorized action")
	ErrInboxClosed        = fmt.Errorf("inbox closed")
	ErrDisposed           = fmt.Errorf("agent disposed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrGatewayAuthFailed  = fmt.Errorf("gateway authentication failed")
	ErrRPCMethodNotFound  = fmt.Errorf("rpc method not found")
	ErrAuditWrite         = fmt.Errorf("audit write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Router.Publish")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "router", "agent"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether the caller may reasonably retry err.
// A governance block is transient: cooldowns expire and token windows reset.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrGovernanceBlocked)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfiguration      ErrorCode = "CONFIGURATION"
	CodeGovernanceBlocked  ErrorCode = "GOVERNANCE_BLOCKED"
	CodeDeliveryUnresolved ErrorCode = "DELIVERY_UNRESOLVED"
	CodeProcessing         ErrorCode = "PROCESSING"
	CodeMemoryPersist      ErrorCode = "MEMORY_PERSIST"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInboxClosed        ErrorCode = "INBOX_CLOSED"
	CodeDisposed           ErrorCode = "DISPOSED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodeGatewayAuth        ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeAuditWrite         ErrorCode = "AUDIT_WRITE"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound  ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate ErrorCode = "AGENT_DUPLICATE"
	CodeAliasDuplicate ErrorCode = "ALIAS_DUPLICATE"
	CodeTokenBudget    ErrorCode = "TOKEN_BUDGET"

	// Category fallbacks.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeLimitReached ErrorCode = "LIMIT_REACHED"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrInvalidInput: CodeInvalidInput,
	ErrLimitReached: CodeLimitReached,

	ErrConfiguration:      CodeConfiguration,
	ErrGovernanceBlocked:  CodeGovernanceBlocked,
	ErrDeliveryUnresolved: CodeDeliveryUnresolved,
	ErrProcessing:         CodeProcessing,
	ErrMemoryPersist:      CodeMemoryPersist,
	ErrUnauthorized:       CodeUnauthorized,
	ErrInboxClosed:        CodeInboxClosed,
	ErrDisposed:           CodeDisposed,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrEncryption:         CodeEncryption,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrAuditWrite:         CodeAuditWrite,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":    CodeAgentNotFound,
		"registry": CodeAgentNotFound,
	},
	ErrDuplicate: {
		"agent":    CodeAgentDuplicate,
		"registry": CodeAgentDuplicate,
		"alias":    CodeAliasDuplicate,
	},
	ErrLimitReached: {
		"governance": CodeTokenBudget,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Subsystem-tagged DomainErrors resolve to their specific code first.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
