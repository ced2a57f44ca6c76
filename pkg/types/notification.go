package types

// Signal is the status vocabulary carried on the notification channel. It is
// deliberately separate from Status: a signal tells a consumer what to do
// next, a Status records where a scene is in its lifecycle.
type Signal string

const (
	SignalReadyToRun Signal = "ready_to_run"
	SignalCompleted  Signal = "completed"
	SignalError      Signal = "error"
)

// DefaultChannel is the well-known channel shared by publishers and the
// render workers.
const DefaultChannel = "manim_code_notifications"

// Notification is published when a session changes hands.
type Notification struct {
	SessionID string `json:"sessionId"`
	Status    Signal `json:"status"`
}
