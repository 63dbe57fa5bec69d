package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
)

const (
	codeMissingDevice  = "MISSING_DEVICE_ID"
	codeDeviceNotFound = "DEVICE_NOT_FOUND"
	codeNoData         = "NO_DATA"
	codeInvalidDate    = "INVALID_DATE"
	codeInvalidRange   = "INVALID_RANGE"
	codeUpstreamStatus = "UPSTREAM_ERROR"
	codeUpstreamDown   = "UPSTREAM_UNAVAILABLE"
	codeTimeout        = "UPSTREAM_TIMEOUT"
	codeInternal       = "INTERNAL_ERROR"
)

// apiError is the JSON error body. Only error is always present.
type apiError struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Message     string   `json:"message,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	CanRetry    bool     `json:"canRetry,omitempty"`
	Details     string   `json:"details,omitempty"`
}

func writeAPIError(w http.ResponseWriter, body apiError, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeAPIError(w, apiError{Error: msg}, code)
}

func writeDeviceNotFound(w http.ResponseWriter, deviceID string) {
	writeAPIError(w, apiError{
		Error:    fmt.Sprintf("Không tìm thấy thiết bị \"%s\".", deviceID),
		Code:     codeDeviceNotFound,
		DeviceID: deviceID,
		Message:  "Hệ thống không thể kết nối đến server Lumentree hoặc Device ID không hợp lệ.",
		Suggestions: []string{
			"Kiểm tra lại Device ID (ví dụ: P250812032)",
			"Thử tải lại trang sau vài giây",
			"Server Lumentree có thể đang bảo trì",
		},
		CanRetry: true,
	}, http.StatusNotFound)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeAPIError(w, apiError{
		Error:   "Đã xảy ra lỗi khi xử lý yêu cầu. Vui lòng thử lại sau.",
		Code:    codeInternal,
		Details: err.Error(),
	}, http.StatusInternalServerError)
}

// writeUpstreamError maps a passthrough failure to a response: upstream
// statuses are forwarded, connect failures are 502 and timeouts 504.
func writeUpstreamError(w http.ResponseWriter, err error, what string) {
	var se *lumentree.StatusError
	switch {
	case errors.As(err, &se):
		writeAPIError(w, apiError{
			Error: "Failed to fetch " + what + " from Lumentree",
			Code:  codeUpstreamStatus,
		}, se.StatusCode)
	case errors.Is(err, lumentree.ErrTimeout):
		writeAPIError(w, apiError{
			Error: "Request to Lumentree API timed out",
			Code:  codeTimeout,
		}, http.StatusGatewayTimeout)
	case errors.Is(err, lumentree.ErrConnect):
		writeAPIError(w, apiError{
			Error:   "Failed to connect to Lumentree API",
			Code:    codeUpstreamDown,
			Details: err.Error(),
		}, http.StatusBadGateway)
	default:
		writeAPIError(w, apiError{
			Error:   "An error occurred while fetching " + what,
			Code:    codeInternal,
			Details: err.Error(),
		}, http.StatusInternalServerError)
	}
}
