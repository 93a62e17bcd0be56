package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Family returns the prefix of the code ("STRUCT", "CFG", ...).
func (c ErrorCode) Family() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// Common Error Codes
const (
	ErrCodeInternal      ErrorCode = "COMMON_001"
	ErrCodeNotFound      ErrorCode = "COMMON_002"
	ErrCodeSerialization ErrorCode = "COMMON_003"
	ErrCodeCanceled      ErrorCode = "COMMON_004"
	CodeOK               ErrorCode = "OK"
	CodeUnknown          ErrorCode = ""
)

// Structure parsing codes. Every code in the STRUCT and LIST families is a
// parse error.
const (
	ErrCodeParseFailed       ErrorCode = "STRUCT_001"
	ErrCodeUnsupportedFormat ErrorCode = "STRUCT_002"
	ErrCodeEmptyStructure    ErrorCode = "STRUCT_003"
	ErrCodeListLineInvalid   ErrorCode = "LIST_001"
)

// Configuration codes. Every code in the CFG family is a configuration error.
const (
	ErrCodeInvalidParam      ErrorCode = "CFG_001"
	ErrCodeUnknownModel      ErrorCode = "CFG_002"
	ErrCodeDeviceUnavailable ErrorCode = "CFG_003"
	ErrCodeModelMismatch     ErrorCode = "CFG_004"
	ErrCodeGraphSpecMismatch ErrorCode = "CFG_005"
)

// Database codes.
const (
	ErrCodeDatabaseNotFound ErrorCode = "DB_001"
	ErrCodeDatabaseCorrupt  ErrorCode = "DB_002"
)

// Model loading codes.
const (
	ErrCodeCheckpointMissing ErrorCode = "MODEL_001"
	ErrCodeCheckpointCorrupt ErrorCode = "MODEL_002"
	ErrCodeInferenceFailed   ErrorCode = "MODEL_003"
)

// Domain segmentation codes.
const (
	ErrCodeSegmentationFailed ErrorCode = "DOM_001"
)

// Infrastructure codes.
const (
	ErrCodeStorage ErrorCode = "STORE_001"
	ErrCodeCache   ErrorCode = "CACHE_001"
)

// HTTP service codes.
const (
	ErrCodeBadRequest      ErrorCode = "HTTP_001"
	ErrCodeRequestTooLarge ErrorCode = "HTTP_002"
	ErrCodeRateLimited     ErrorCode = "HTTP_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes for the search
// service. Codes not listed map to 500.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:      http.StatusInternalServerError,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeSerialization: http.StatusInternalServerError,
	ErrCodeCanceled:      499,

	ErrCodeParseFailed:       http.StatusUnprocessableEntity,
	ErrCodeUnsupportedFormat: http.StatusBadRequest,
	ErrCodeEmptyStructure:    http.StatusUnprocessableEntity,
	ErrCodeListLineInvalid:   http.StatusBadRequest,

	ErrCodeInvalidParam:      http.StatusBadRequest,
	ErrCodeUnknownModel:      http.StatusBadRequest,
	ErrCodeDeviceUnavailable: http.StatusServiceUnavailable,
	ErrCodeModelMismatch:     http.StatusConflict,
	ErrCodeGraphSpecMismatch: http.StatusConflict,

	ErrCodeDatabaseNotFound: http.StatusNotFound,
	ErrCodeDatabaseCorrupt:  http.StatusInternalServerError,

	ErrCodeCheckpointMissing: http.StatusServiceUnavailable,
	ErrCodeCheckpointCorrupt: http.StatusServiceUnavailable,
	ErrCodeInferenceFailed:   http.StatusInternalServerError,

	ErrCodeSegmentationFailed: http.StatusInternalServerError,
	ErrCodeStorage:            http.StatusBadGateway,
	ErrCodeCache:              http.StatusInternalServerError,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
}

// HTTPStatus returns the HTTP status associated with code.
func HTTPStatus(code ErrorCode) int {
	if s, ok := ErrorCodeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
