package model

// SessionStatus is the connection status of a messaging session.
type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionFailed       SessionStatus = "failed"
)

// FailureReason explains a failed connection attempt.
type FailureReason string

const (
	ReasonAuthRejected       FailureReason = "auth_rejected"
	ReasonNetworkUnreachable FailureReason = "network_unreachable"
	ReasonTLSHandshakeFailed FailureReason = "tls_handshake_failed"
	ReasonTimeout            FailureReason = "timeout"
)

// SessionState is a snapshot of the session connection. Reason is set only
// when Status is SessionFailed.
type SessionState struct {
	Status SessionStatus `json:"status"`
	Reason FailureReason `json:"reason,omitempty"`
}

func Disconnected() SessionState { return SessionState{Status: SessionDisconnected} }
func Connecting() SessionState   { return SessionState{Status: SessionConnecting} }
func Connected() SessionState    { return SessionState{Status: SessionConnected} }

func Failed(reason FailureReason) SessionState {
	return SessionState{Status: SessionFailed, Reason: reason}
}

// Terminal reports whether the session gave up for good (no retry).
func (s SessionState) Terminal() bool {
	return s.Status == SessionFailed && s.Reason == ReasonAuthRejected
}

func (s SessionState) String() string {
	if s.Status == SessionFailed {
		return "failed(" + string(s.Reason) + ")"
	}
	return string(s.Status)
}
