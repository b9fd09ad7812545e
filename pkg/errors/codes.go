package errors

import "net/http"

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	HTTPStatus      int
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeEngineUnavailable: {
		Code:            CodeEngineUnavailable,
		Retryable:       true,
		HTTPStatus:      http.StatusServiceUnavailable,
		Description:     "Annotation engine returned an error or could not be reached",
		SuggestedAction: "Check the engine URL: penf-linker analyze --engine-url <url> -",
	},
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		HTTPStatus:      http.StatusGatewayTimeout,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Raise engine.timeout in the configuration file",
	},
	CodeCancelled: {
		Code:            CodeCancelled,
		Retryable:       false,
		HTTPStatus:      http.StatusServiceUnavailable,
		Description:     "Operation cancelled by shutdown or caller",
		SuggestedAction: "Launch the analysis again once the service is running",
	},
	CodePermissionDenied: {
		Code:            CodePermissionDenied,
		Retryable:       false,
		HTTPStatus:      http.StatusForbidden,
		Description:     "Principal lacks permission on the source document",
		SuggestedAction: "Grant write permission on the document to the principal",
	},
	CodeDocumentNotFound: {
		Code:            CodeDocumentNotFound,
		Retryable:       false,
		HTTPStatus:      http.StatusNotFound,
		Description:     "Document or entity does not exist or was deleted",
		SuggestedAction: "Verify the repository and document identifier",
	},
	CodeWriteConflict: {
		Code:            CodeWriteConflict,
		Retryable:       false,
		HTTPStatus:      http.StatusConflict,
		Description:     "A concurrent write modified the entity or relation",
		SuggestedAction: "Launch the analysis again for the document",
	},
	CodeMalformedAnnotation: {
		Code:            CodeMalformedAnnotation,
		Retryable:       false,
		HTTPStatus:      http.StatusBadGateway,
		Description:     "Engine response could not be decoded as a graph",
		SuggestedAction: "Check engine.accept matches the engine's output format",
	},
	CodeInvalidInput: {
		Code:            CodeInvalidInput,
		Retryable:       false,
		HTTPStatus:      http.StatusBadRequest,
		Description:     "Request failed validation",
		SuggestedAction: "Fix the request parameters",
	},
	CodeShuttingDown: {
		Code:            CodeShuttingDown,
		Retryable:       true,
		HTTPStatus:      http.StatusServiceUnavailable,
		Description:     "Service is shutting down or deactivated",
		SuggestedAction: "Retry against a running instance",
	},
	CodeProcessingError: {
		Code:            CodeProcessingError,
		Retryable:       false,
		HTTPStatus:      http.StatusInternalServerError,
		Description:     "Unclassified processing failure",
		SuggestedAction: "Inspect the service logs for the document key",
	},
}

// IsRetryable reports whether errors with this code are worth retrying.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the operator hint for a code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return ""
}

// GetDescription returns a human-readable description for a code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error code"
}

// HTTPStatus maps any error to the status code the HTTP API responds with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if info, ok := ErrorCodeRegistry[CodeOf(err)]; ok {
		return info.HTTPStatus
	}
	return http.StatusInternalServerError
}
