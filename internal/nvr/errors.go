package nvr

import "fmt"

// AuthError indicates rejected credentials or an expired session. It is
// fatal: the caller must re-login, never retry the failing call.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("nvr authentication failed: %s", e.Reason)
}

// ProtocolError is a non-200 response or a payload the client cannot make
// sense of. It carries the raw status and body tail for diagnosis and is
// never retried at this layer.
type ProtocolError struct {
	Call   string
	Status int
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("nvr %s failed: HTTP %d: %s", e.Call, e.Status, e.Body)
}

// CameraNotFoundError indicates the requested camera ID is not present in
// the server's camera list. This is a user input error, not retryable.
type CameraNotFoundError struct {
	CameraID int
}

func (e *CameraNotFoundError) Error() string {
	return fmt.Sprintf("camera %d not found on server", e.CameraID)
}
