package domain

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	NotifyInfo            NotificationType = "info"
	NotifySuccess         NotificationType = "success"
	NotifyWarning         NotificationType = "warning"
	NotifyError           NotificationType = "error"
	NotifyNewRequest      NotificationType = "new_request"
	NotifyRequestApproved NotificationType = "request_approved"
	NotifyRequestRejected NotificationType = "request_rejected"
)

// Notification addresses a single user, or every admin when ReceiverID is nil.
type Notification struct {
	ID         string
	SenderID   *string
	ReceiverID *string // nil = broadcast to all admins
	Message    string
	Type       NotificationType
	IsRead     bool
	EventKey   string // unique; creation with a seen key is silently absorbed
	CreatedAt  time.Time
}

// SubmitEventKey identifies the submission of a request.
func SubmitEventKey(requestID string) string {
	return fmt.Sprintf("request:%s:submitted", requestID)
}

// TransitionEventKey identifies a request reaching a target status. It is
// deterministic so reprocessing the same transition never double-notifies.
func TransitionEventKey(requestID string, target RequestStatus) string {
	return fmt.Sprintf("request:%s:%s", requestID, target)
}

// DeleteEventKey identifies the administrative deletion of a request.
func DeleteEventKey(requestID string) string {
	return fmt.Sprintf("request:%s:deleted", requestID)
}
