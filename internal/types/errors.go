package types

import "net/http"

// Error codes returned in ErrorBody.Code, one per failure class.
const (
	CodeBadRequest         = "REQUEST_400"
	CodeUnknownChannel     = "CHANNEL_404"
	CodeDoseRejected       = "DOSING_409"
	CodeInvalidTransition  = "STATE_409"
	CodeNotCalibrating     = "CALIBRATION_409"
	CodeInvalidCalibration = "CALIBRATION_400"
	CodeControllerStopped  = "CONTROL_503"
	CodeControllerTimeout  = "CONTROL_504"
	CodeInternal           = "INTERNAL_500"
)

var codeStatus = map[string]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnknownChannel:     http.StatusNotFound,
	CodeDoseRejected:       http.StatusConflict,
	CodeInvalidTransition:  http.StatusConflict,
	CodeNotCalibrating:     http.StatusConflict,
	CodeInvalidCalibration: http.StatusBadRequest,
	CodeControllerStopped:  http.StatusServiceUnavailable,
	CodeControllerTimeout:  http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status that goes with an error code. Unknown
// codes are internal errors.
func StatusFor(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse wraps a code, a human-readable message and optional
// details (usually the underlying error text).
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
