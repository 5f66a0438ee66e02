package messaging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/Nourkes/iot-project/internal/model"
)

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("messaging: not connected")
	// ErrSessionClosed is returned once Disconnect has been called.
	ErrSessionClosed = errors.New("messaging: session closed")

	errWaitTimeout    = errors.New("messaging: operation timed out")
	errConnectionLost = errors.New("messaging: connection lost while restoring session")
)

// ConnectError is a failed connection attempt together with its category.
type ConnectError struct {
	Reason model.FailureReason
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed (%s): %v", e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func classifyConnectError(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	return &ConnectError{Reason: reasonFor(err), Err: err}
}

func reasonFor(err error) model.FailureReason {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return model.ReasonAuthRejected
	case isTLSError(err):
		return model.ReasonTLSHandshakeFailed
	case isTimeout(err):
		return model.ReasonTimeout
	}

	// paho flattens some dial errors into strings
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "bad user name or password"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "not authorised"):
		return model.ReasonAuthRejected
	case strings.Contains(msg, "x509"),
		strings.Contains(msg, "tls"),
		strings.Contains(msg, "certificate"):
		return model.ReasonTLSHandshakeFailed
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return model.ReasonTimeout
	}
	return model.ReasonNetworkUnreachable
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		recordHeader     tls.RecordHeaderError
		verification     *tls.CertificateVerificationError
		alert            tls.AlertError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &verification) ||
		errors.As(err, &alert)
}

func isTimeout(err error) bool {
	if errors.Is(err, errWaitTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
