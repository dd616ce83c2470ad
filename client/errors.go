package client

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrEmptyResultStream is returned when an execute stream finishes without
// delivering a single batch. A logically empty result must still arrive as
// at least one zero-row batch, so this always indicates a broken server.
var ErrEmptyResultStream = errors.New("execute stream produced no result batches")

// ErrRetryExhausted is returned when a retry loop runs out of attempts
// without having recorded an error to re-raise. The loop only exits through
// success or a recorded failure, so this should never be observed.
var ErrRetryExhausted = errors.New("retries exhausted without a recorded error")

// MalformedConnectionStringError reports a connection string that does not
// match lk://host[:port][/][;key=value]*.
type MalformedConnectionStringError struct {
	Detail string
}

func (e *MalformedConnectionStringError) Error() string {
	return "malformed connection string: " + e.Detail
}

// UnknownParameterError reports a lookup of a connection parameter that was
// not present in the connection string.
type UnknownParameterError struct {
	Key string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("unknown connection parameter %q", e.Key)
}

// ChannelConstructionError reports unusable TLS material or channel options.
// Connectivity problems are not raised here; the channel is lazy and
// transport failures surface on first use.
type ChannelConstructionError struct {
	Reason string
	Err    error
}

func (e *ChannelConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel construction: %s: %v", e.Reason, e.Err)
	}
	return "channel construction: " + e.Reason
}

func (e *ChannelConstructionError) Unwrap() error { return e.Err }

// InvalidExplainModeError reports an explain mode outside the closed set
// accepted by Analyze.
type InvalidExplainModeError struct {
	Mode string
}

func (e *InvalidExplainModeError) Error() string {
	return fmt.Sprintf("unknown explain mode %q, accepted modes are simple, extended, codegen, cost and formatted", e.Mode)
}

// SessionIdentityMismatchError reports a response that echoed a session id
// other than the one the request carried. This is fatal for the call and is
// never retried.
type SessionIdentityMismatchError struct {
	Expected string
	Received string
}

func (e *SessionIdentityMismatchError) Error() string {
	return fmt.Sprintf("received incorrect session identifier for request: %s != %s", e.Received, e.Expected)
}

// AnalysisError is the typed form of a server-side plan analysis failure.
type AnalysisError struct {
	Message string
	Plan    string
}

func (e *AnalysisError) Error() string { return "analysis error: " + e.Message }

// ParseError is the typed form of a server-side plan/text parse failure.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return "parse error: " + e.Message }

// TempObjectExistsError reports an attempt to register a temporary object
// under a name that is already taken in the session.
type TempObjectExistsError struct {
	Message string
	Plan    string
}

func (e *TempObjectExistsError) Error() string { return "temporary object already exists: " + e.Message }

// IllegalArgumentError is the typed form of a server-side argument
// validation failure.
type IllegalArgumentError struct {
	Message string
}

func (e *IllegalArgumentError) Error() string { return "illegal argument: " + e.Message }

// ServiceError wraps a transport status that carried no recognized reason
// code. Message is the raw status message; Reason is empty when the status
// carried no structured details at all.
type ServiceError struct {
	Code    codes.Code
	Reason  string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("service error (%s, reason %s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("service error (%s): %s", e.Code, e.Message)
}

// Reason codes the engine attaches as google.rpc ErrorInfo details.
const (
	reasonAnalysis         = "ANALYSIS_ERROR"
	reasonParse            = "PARSE_ERROR"
	reasonTempObjectExists = "TEMP_OBJECT_ALREADY_EXISTS"
	reasonIllegalArgument  = "ILLEGAL_ARGUMENT"
)

// reasonErrors maps known reason codes to their typed error constructors.
var reasonErrors = map[string]func(info *errdetails.ErrorInfo, st *status.Status) error{
	reasonAnalysis: func(info *errdetails.ErrorInfo, _ *status.Status) error {
		return &AnalysisError{Message: info.Metadata["message"], Plan: info.Metadata["plan"]}
	},
	reasonParse: func(info *errdetails.ErrorInfo, _ *status.Status) error {
		return &ParseError{Message: info.Metadata["message"]}
	},
	reasonTempObjectExists: func(info *errdetails.ErrorInfo, _ *status.Status) error {
		return &TempObjectExistsError{Message: info.Metadata["message"], Plan: info.Metadata["plan"]}
	},
	reasonIllegalArgument: func(info *errdetails.ErrorInfo, st *status.Status) error {
		message := info.Metadata["message"]
		if message == "" {
			message = st.Message()
		}
		return &IllegalArgumentError{Message: message}
	},
}

// translateStatusError converts a transport error into the client's typed
// taxonomy. Errors that are not gRPC statuses (including the client's own
// typed errors surfacing from inside a call) pass through unchanged. A
// status with a recognized ErrorInfo reason maps to its typed error; any
// other status becomes a ServiceError carrying the raw message and reason.
func translateStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok {
			continue
		}
		if build, known := reasonErrors[info.Reason]; known {
			return build(info, st)
		}
		return &ServiceError{Code: st.Code(), Reason: info.Reason, Message: st.Message()}
	}
	return &ServiceError{Code: st.Code(), Message: st.Message()}
}
