// Package status defines the closed set of outcome codes returned by every
// record operation, together with the error type that carries them.
//
// Codes are part of the client contract: callers branch on them, so values
// and symbolic names never change once published.
package status

import (
	"context"
	"errors"
	"fmt"
)

// Code is an operation outcome. OK is zero; client-side failures are
// negative; server-reported outcomes are positive.
type Code int

// Client-side codes.
const (
	OK             Code = 0
	ErrClient      Code = -1
	ErrParam       Code = -2
	ErrInvalidHost Code = -4
	ErrClientAbort Code = -5
	ErrAsyncConn   Code = -6
	ErrNoMoreConns Code = -7
	ErrInvalidNode Code = -8
	ErrTLS         Code = -9
	ErrConnection  Code = -10
)

// Per-record and server codes.
const (
	ErrServer              Code = 1
	ErrRecordNotFound      Code = 2
	ErrRecordGeneration    Code = 3
	ErrRequestInvalid      Code = 4
	ErrRecordExists        Code = 5
	ErrBinExists           Code = 6
	ErrClusterChange       Code = 7
	ErrServerFull          Code = 8
	ErrTimeout             Code = 9
	ErrNoXDR               Code = 10
	ErrCluster             Code = 11
	ErrBinIncompatibleType Code = 12
	ErrRecordTooBig        Code = 13
	ErrRecordBusy          Code = 14
	ErrScanAborted         Code = 15
	ErrUnsupportedFeature  Code = 16
	ErrBinNotFound         Code = 17
	ErrDeviceOverload      Code = 18
	ErrRecordKeyMismatch   Code = 19
	ErrNamespaceNotFound   Code = 20
	ErrBinName             Code = 21
	ErrFailForbidden       Code = 22
	ErrElementNotFound     Code = 23
	ErrElementExists       Code = 24
)

// Security codes.
const (
	ErrSecurityNotSupported       Code = 51
	ErrSecurityNotEnabled         Code = 52
	ErrSecuritySchemeNotSupported Code = 53
	ErrInvalidCommand             Code = 54
	ErrInvalidField               Code = 55
	ErrIllegalState               Code = 56
	ErrInvalidUser                Code = 60
	ErrUserAlreadyExists          Code = 61
	ErrInvalidPassword            Code = 62
	ErrExpiredPassword            Code = 63
	ErrForbiddenPassword          Code = 64
	ErrInvalidCredential          Code = 65
	ErrInvalidRole                Code = 70
	ErrRoleAlreadyExists          Code = 71
	ErrInvalidPrivilege           Code = 72
	ErrNotAuthenticated           Code = 80
	ErrRoleViolation              Code = 81
)

// UDF, batch, geo, index and query codes.
const (
	ErrUDF               Code = 100
	ErrLargeItemNotFound Code = 125
	ErrBatchDisabled     Code = 150
	ErrBatchMaxRequests  Code = 151
	ErrBatchQueuesFull   Code = 152
	ErrGeoInvalidGeoJSON Code = 160
	ErrIndexFound        Code = 200
	ErrIndexNotFound     Code = 201
	ErrIndexOOM          Code = 202
	ErrIndexNotReadable  Code = 203
	ErrIndex             Code = 204
	ErrIndexNameMaxLen   Code = 205
	ErrIndexMaxCount     Code = 206
	ErrQueryAborted      Code = 210
	ErrQueryQueueFull    Code = 211
	ErrQueryTimeout      Code = 212
	ErrQuery             Code = 213
	ErrUDFNotFound       Code = 1301
	ErrLuaFileNotFound   Code = 1302
)

var names = map[Code]string{
	OK:                            "AEROSPIKE_OK",
	ErrClient:                     "AEROSPIKE_ERR_CLIENT",
	ErrParam:                      "AEROSPIKE_ERR_PARAM",
	ErrInvalidHost:                "AEROSPIKE_ERR_INVALID_HOST",
	ErrClientAbort:                "AEROSPIKE_ERR_CLIENT_ABORT",
	ErrAsyncConn:                  "AEROSPIKE_ERR_ASYNC_CONNECTION",
	ErrNoMoreConns:                "AEROSPIKE_ERR_NO_MORE_CONNECTIONS",
	ErrInvalidNode:                "AEROSPIKE_ERR_INVALID_NODE",
	ErrTLS:                        "AEROSPIKE_ERR_TLS",
	ErrConnection:                 "AEROSPIKE_ERR_CONNECTION",
	ErrServer:                     "AEROSPIKE_ERR_SERVER",
	ErrRecordNotFound:             "AEROSPIKE_ERR_RECORD_NOT_FOUND",
	ErrRecordGeneration:           "AEROSPIKE_ERR_RECORD_GENERATION",
	ErrRequestInvalid:             "AEROSPIKE_ERR_REQUEST_INVALID",
	ErrRecordExists:               "AEROSPIKE_ERR_RECORD_EXISTS",
	ErrBinExists:                  "AEROSPIKE_ERR_BIN_EXISTS",
	ErrClusterChange:              "AEROSPIKE_ERR_CLUSTER_CHANGE",
	ErrServerFull:                 "AEROSPIKE_ERR_SERVER_FULL",
	ErrTimeout:                    "AEROSPIKE_ERR_TIMEOUT",
	ErrNoXDR:                      "AEROSPIKE_ERR_NO_XDR",
	ErrCluster:                    "AEROSPIKE_ERR_CLUSTER",
	ErrBinIncompatibleType:        "AEROSPIKE_ERR_BIN_INCOMPATIBLE_TYPE",
	ErrRecordTooBig:               "AEROSPIKE_ERR_RECORD_TOO_BIG",
	ErrRecordBusy:                 "AEROSPIKE_ERR_RECORD_BUSY",
	ErrScanAborted:                "AEROSPIKE_ERR_SCAN_ABORTED",
	ErrUnsupportedFeature:         "AEROSPIKE_ERR_UNSUPPORTED_FEATURE",
	ErrBinNotFound:                "AEROSPIKE_ERR_BIN_NOT_FOUND",
	ErrDeviceOverload:             "AEROSPIKE_ERR_DEVICE_OVERLOAD",
	ErrRecordKeyMismatch:          "AEROSPIKE_ERR_RECORD_KEY_MISMATCH",
	ErrNamespaceNotFound:          "AEROSPIKE_ERR_NAMESPACE_NOT_FOUND",
	ErrBinName:                    "AEROSPIKE_ERR_BIN_NAME",
	ErrFailForbidden:              "AEROSPIKE_ERR_FORBIDDEN",
	ErrElementNotFound:            "AEROSPIKE_ERR_FAIL_NOT_FOUND",
	ErrElementExists:              "AEROSPIKE_ERR_FAIL_ELEMENT_EXISTS",
	ErrSecurityNotSupported:       "AEROSPIKE_ERR_SECURITY_NOT_SUPPORTED",
	ErrSecurityNotEnabled:         "AEROSPIKE_ERR_SECURITY_NOT_ENABLED",
	ErrSecuritySchemeNotSupported: "AEROSPIKE_ERR_SECURITY_SCHEME_NOT_SUPPORTED",
	ErrInvalidCommand:             "AEROSPIKE_ERR_INVALID_COMMAND",
	ErrInvalidField:               "AEROSPIKE_ERR_INVALID_FIELD",
	ErrIllegalState:               "AEROSPIKE_ERR_ILLEGAL_STATE",
	ErrInvalidUser:                "AEROSPIKE_ERR_INVALID_USER",
	ErrUserAlreadyExists:          "AEROSPIKE_ERR_USER_ALREADY_EXISTS",
	ErrInvalidPassword:            "AEROSPIKE_ERR_INVALID_PASSWORD",
	ErrExpiredPassword:            "AEROSPIKE_ERR_EXPIRED_PASSWORD",
	ErrForbiddenPassword:          "AEROSPIKE_ERR_FORBIDDEN_PASSWORD",
	ErrInvalidCredential:          "AEROSPIKE_ERR_INVALID_CREDENTIAL",
	ErrInvalidRole:                "AEROSPIKE_ERR_INVALID_ROLE",
	ErrRoleAlreadyExists:          "AEROSPIKE_ERR_ROLE_ALREADY_EXISTS",
	ErrInvalidPrivilege:           "AEROSPIKE_ERR_INVALID_PRIVILEGE",
	ErrNotAuthenticated:           "AEROSPIKE_ERR_NOT_AUTHENTICATED",
	ErrRoleViolation:              "AEROSPIKE_ERR_ROLE_VIOLATION",
	ErrUDF:                        "AEROSPIKE_ERR_UDF",
	ErrLargeItemNotFound:          "AEROSPIKE_ERR_LARGE_ITEM_NOT_FOUND",
	ErrBatchDisabled:              "AEROSPIKE_ERR_BATCH_DISABLED",
	ErrBatchMaxRequests:           "AEROSPIKE_ERR_BATCH_MAX_REQUESTS_EXCEEDED",
	ErrBatchQueuesFull:            "AEROSPIKE_ERR_BATCH_QUEUES_FULL",
	ErrGeoInvalidGeoJSON:          "AEROSPIKE_ERR_GEO_INVALID_GEOJSON",
	ErrIndexFound:                 "AEROSPIKE_ERR_INDEX_FOUND",
	ErrIndexNotFound:              "AEROSPIKE_ERR_INDEX_NOT_FOUND",
	ErrIndexOOM:                   "AEROSPIKE_ERR_INDEX_OOM",
	ErrIndexNotReadable:           "AEROSPIKE_ERR_INDEX_NOT_READABLE",
	ErrIndex:                      "AEROSPIKE_ERR_INDEX",
	ErrIndexNameMaxLen:            "AEROSPIKE_ERR_INDEX_NAME_MAXLEN",
	ErrIndexMaxCount:              "AEROSPIKE_ERR_INDEX_MAXCOUNT",
	ErrQueryAborted:               "AEROSPIKE_ERR_QUERY_ABORTED",
	ErrQueryQueueFull:             "AEROSPIKE_ERR_QUERY_QUEUE_FULL",
	ErrQueryTimeout:               "AEROSPIKE_ERR_QUERY_TIMEOUT",
	ErrQuery:                      "AEROSPIKE_ERR_QUERY",
	ErrUDFNotFound:                "AEROSPIKE_ERR_UDF_NOT_FOUND",
	ErrLuaFileNotFound:            "AEROSPIKE_ERR_LUA_FILE_NOT_FOUND",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("AEROSPIKE_ERR_UNKNOWN(%d)", int(c))
}

// Known reports whether c belongs to the published code set.
func (c Code) Known() bool {
	_, ok := names[c]
	return ok
}

// Error implements error so a bare Code can be used as a sentinel with
// errors.Is, e.g. errors.Is(err, status.ErrRecordNotFound).
func (c Code) Error() string {
	return c.String()
}

// Class groups codes by how callers are expected to react to them.
type Class int

const (
	ClassOK Class = iota
	// ClassParam errors are detected locally before any network interaction.
	ClassParam
	// ClassOutcome codes are expected per-record results.
	ClassOutcome
	// ClassTransient errors may succeed on a fresh attempt.
	ClassTransient
	// ClassFatal errors are never retried.
	ClassFatal
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassParam:
		return "param"
	case ClassOutcome:
		return "outcome"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	}
	return "other"
}

// Class returns the error category of c.
func (c Code) Class() Class {
	switch {
	case c == OK:
		return ClassOK
	case c == ErrParam || c == ErrBinName || c == ErrInvalidHost:
		return ClassParam
	}

	switch c {
	case ErrRecordNotFound, ErrRecordGeneration, ErrRecordExists, ErrBinExists,
		ErrBinIncompatibleType, ErrBinNotFound, ErrElementNotFound, ErrElementExists,
		ErrRecordTooBig, ErrRecordKeyMismatch:
		return ClassOutcome
	case ErrTimeout, ErrConnection, ErrClusterChange, ErrDeviceOverload,
		ErrServerFull, ErrRecordBusy, ErrNoMoreConns, ErrAsyncConn:
		return ClassTransient
	case ErrUnsupportedFeature, ErrTLS, ErrFailForbidden, ErrNamespaceNotFound:
		return ClassFatal
	}

	if c >= ErrSecurityNotSupported && c <= ErrRoleViolation {
		return ClassFatal
	}
	return ClassOther
}

// Retryable reports whether an operation that failed with c may be attempted
// again under a retry policy.
func (c Code) Retryable() bool {
	return c.Class() == ClassTransient
}

// Error is the error returned by record operations. It always carries a Code.
type Error struct {
	Err     error
	Message string
	Node    string
	Code    Code
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that keeps err as its cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Node != "" {
		return fmt.Sprintf("%s [node %s]: %s", e.Code, e.Node, msg)
	}
	if msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error or a bare Code with the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// CodeOf extracts the outcome code of err. nil is OK, a context deadline is
// ErrTimeout, cancellation is ErrClientAbort and anything unrecognized is
// ErrClient.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}

	var code Code
	if errors.As(err, &code) {
		return code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrClientAbort
	}
	return ErrClient
}

// FromError converts any error into an *Error, preserving an existing one.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: CodeOf(err), Err: err}
}
