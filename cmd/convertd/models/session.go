package models

import (
	"time"

	"github.com/lyzr/convertd/common/sessionstore"
)

// UploadResponse is returned by POST /api/v1/files/upload
type UploadResponse struct {
	SessionID  string    `json:"session_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	FileType   string    `json:"file_type"`
	UploadTime time.Time `json:"upload_time"`
}

// StartRequest is the body of POST /api/v1/process/start
type StartRequest struct {
	SessionID string `json:"session_id"`
}

// StatusResponse is returned by the start and status endpoints
type StatusResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ConversionAuditResponse is one row of the admin conversion trail
type ConversionAuditResponse struct {
	SessionID  string    `json:"session_id"`
	Tool       string    `json:"tool"`
	Outcome    string    `json:"outcome"`
	Cause      string    `json:"cause,omitempty"`
	InputSize  int64     `json:"input_size"`
	OutputSize int64     `json:"output_size"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrorResponse is the generic error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewStatusResponse maps a session record onto the API shape
func NewStatusResponse(sess *sessionstore.Session, message string) StatusResponse {
	resp := StatusResponse{
		SessionID: sess.ID,
		State:     string(sess.State),
		Progress:  sess.Progress,
		Message:   message,
	}
	if sess.Error != nil {
		resp.Error = sess.Error.Message
		resp.ErrorCode = sess.Error.Code
	}
	return resp
}
