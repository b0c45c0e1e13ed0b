package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	// Authentication actions
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionLogout         AuditAction = "LOGOUT"
	AuditActionLoginFailed    AuditAction = "LOGIN_FAILED"
	AuditActionUserCreate     AuditAction = "USER_CREATE"
	AuditActionSessionExpired AuditAction = "SESSION_EXPIRED"

	// Quotation operations
	AuditActionQuotationCreate   AuditAction = "QUOTATION_CREATE"
	AuditActionQuotationUpdate   AuditAction = "QUOTATION_UPDATE"
	AuditActionQuotationDelete   AuditAction = "QUOTATION_DELETE"
	AuditActionQuotationRollback AuditAction = "QUOTATION_ROLLBACK"
	AuditActionQuotationExport   AuditAction = "QUOTATION_EXPORT"
	AuditActionTaskUpdate        AuditAction = "TASK_UPDATE"

	// Review operations
	AuditActionReviewCreate AuditAction = "REVIEW_CREATE"

	// WebSocket operations
	AuditActionWSConnect    AuditAction = "WS_CONNECT"
	AuditActionWSDisconnect AuditAction = "WS_DISCONNECT"

	// API operations
	AuditActionAPIRequest AuditAction = "API_REQUEST"
	AuditActionAPIError   AuditAction = "API_ERROR"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	Action      AuditAction
	UserID      string
	Email       string
	Resource    string
	ResourceID  string
	Details     map[string]interface{}
	ClientIP    string
	RequestID   string
	OperationID string
	Success     bool
	Error       string
	Duration    int64 // ms
	Method      string
	Path        string
	StatusCode  int
}

var auditLogger zerolog.Logger

// InitAudit initializes the audit logger
func InitAudit() {
	auditLogger = globalLogger.With().Str("log_type", "audit").Logger()
}

// Audit logs an audit event
func Audit(ctx context.Context, event AuditEvent) {
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}
	if event.OperationID == "" {
		event.OperationID = GetOperationID(ctx)
	}
	if event.UserID == "" {
		event.UserID = GetUserID(ctx)
	}
	if event.Email == "" {
		event.Email = GetEmail(ctx)
	}

	logEvent := auditLogger.Info()
	if !event.Success {
		logEvent = auditLogger.Warn()
	}

	logEvent.
		Str("action", string(event.Action)).
		Str("user_id", event.UserID).
		Str("email", event.Email).
		Str("resource", event.Resource).
		Str("resource_id", event.ResourceID).
		Str("client_ip", event.ClientIP).
		Str("request_id", event.RequestID).
		Bool("success", event.Success).
		Time("timestamp", time.Now().UTC())

	if event.OperationID != "" {
		logEvent.Str("operation_id", event.OperationID)
	}
	if event.Error != "" {
		logEvent.Str("error", event.Error)
	}
	if event.Duration > 0 {
		logEvent.Int64("duration_ms", event.Duration)
	}
	if event.Method != "" {
		logEvent.Str("method", event.Method)
	}
	if event.Path != "" {
		logEvent.Str("path", event.Path)
	}
	if event.StatusCode > 0 {
		logEvent.Int("status_code", event.StatusCode)
	}
	if len(event.Details) > 0 {
		logEvent.Interface("details", event.Details)
	}

	logEvent.Msg("Audit event")
}

// AuditQuotation registra uma operação sobre uma cotação
func AuditQuotation(ctx context.Context, action AuditAction, quotationID string, err error, details map[string]interface{}) {
	event := AuditEvent{
		Action:     action,
		Resource:   "quotation",
		ResourceID: quotationID,
		Success:    err == nil,
		Details:    details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	Audit(ctx, event)
}

// AuditRequest logs an API request audit event
func AuditRequest(ctx context.Context, method, path string, statusCode int, duration int64, userID, clientIP string) {
	success := statusCode < 400
	action := AuditActionAPIRequest
	if !success {
		action = AuditActionAPIError
	}

	Audit(ctx, AuditEvent{
		Action:     action,
		UserID:     userID,
		Resource:   "api",
		ResourceID: path,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Duration:   duration,
		ClientIP:   clientIP,
		Success:    success,
	})
}

// AuditWebSocket logs WebSocket connection events
func AuditWebSocket(ctx context.Context, action AuditAction, userID, clientIP string, details map[string]interface{}) {
	Audit(ctx, AuditEvent{
		Action:   action,
		UserID:   userID,
		Resource: "websocket",
		ClientIP: clientIP,
		Success:  true,
		Details:  details,
	})
}
