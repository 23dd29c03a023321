package storageapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a failure reported by the Storage API, either as an HTTP error
// response or as an async job that finished in the error state.
type Error struct {
	StatusCode  int    `json:"-"`
	JobID       int64  `json:"-"`
	Code        string `json:"code"`
	Message     string `json:"error"`
	ExceptionID string `json:"exceptionId"`
}

func (e *Error) Error() string {
	if e.JobID != 0 {
		return fmt.Sprintf("storage job %d failed: %s", e.JobID, e.Message)
	}
	return fmt.Sprintf("Storage API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// stateCodeMarkers are fragments of backend error codes that describe the
// current state of a resource rather than a rejected request, for example
// storage.buckets.alreadyExists or storage.tables.notFound.
var stateCodeMarkers = []string{
	"alreadyexists",
	"notfound",
	"doesnotexist",
	"noprimarykey",
	"primarykeyexists",
}

// isStateCode reports whether a backend error code names an exists/absent state.
func isStateCode(code string) bool {
	code = strings.ToLower(code)
	for _, m := range stateCodeMarkers {
		if strings.Contains(code, m) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err describes a resource state conflict: the
// resource already exists, is already gone, or is already in the requested
// shape. Such failures can be skipped when replaying a batch.
//
// 404 and 409 always qualify. 400, 422 and failed jobs qualify only when the
// error code names such a state; validation rejections stay fatal. Transport
// errors, auth failures and server errors are never conflicts.
func IsConflict(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.JobID != 0 {
		return isStateCode(apiErr.Code)
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusConflict:
		return true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return isStateCode(apiErr.Code)
	default:
		return false
	}
}

// CheckError returns nil for 2xx responses and an *Error otherwise.
// The response body is consumed and closed in the error case.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := ReadBody(resp)

	apiErr := &Error{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		apiErr.Code = ""
		apiErr.ExceptionID = ""
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
