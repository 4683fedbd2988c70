package relay

import (
	"crypto/subtle"
	"time"

	"github.com/jousa-sbrt/remote-bridge/errors"
	"github.com/jousa-sbrt/remote-bridge/protocol"
)

// Authenticator validates an inbound session's first message against
// role-specific shared secrets and assigns a role, or rejects the connection.
// One attempt per connection; there are no retries.
type Authenticator struct {
	producerToken string
	consumerToken string
	timeout       time.Duration
}

// NewAuthenticator creates an authenticator with the given shared secrets
// and first-message deadline.
func NewAuthenticator(producerToken, consumerToken string, timeout time.Duration) *Authenticator {
	return &Authenticator{
		producerToken: producerToken,
		consumerToken: consumerToken,
		timeout:       timeout,
	}
}

// Authenticate waits for the session's first message, decides its role, and
// sends the acknowledgement. On any failure the connection is closed with a
// code distinguishing the reason and an error is returned.
func (a *Authenticator) Authenticate(sess *Session) (string, error) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(a.timeout))

	raw, err := sess.ReadMessage()
	if err != nil {
		sess.CloseWithCode(protocol.CloseAuthFailed, "auth failed")
		return "", errors.WrapTransient(errors.ErrAuthTimeout, "Authenticator", "Authenticate", "read first message")
	}

	msg, err := protocol.Parse(raw)
	if err != nil {
		sess.CloseWithCode(protocol.CloseAuthFailed, "auth failed")
		return "", errors.WrapInvalid(errors.ErrAuthFailed, "Authenticator", "Authenticate", "parse first message")
	}

	if msg.Type != protocol.TypeAuth {
		sess.CloseWithCode(protocol.CloseAuthExpected, "auth message expected")
		return "", errors.WrapInvalid(errors.ErrAuthExpected, "Authenticator", "Authenticate", "check message type")
	}

	var expected string
	switch msg.Role {
	case protocol.RoleProducer:
		expected = a.producerToken
	case protocol.RoleConsumer:
		expected = a.consumerToken
	default:
		sess.CloseWithCode(protocol.CloseInvalidToken, "invalid token")
		return "", errors.WrapInvalid(errors.ErrUnknownRole, "Authenticator", "Authenticate", "check role")
	}

	if subtle.ConstantTimeCompare([]byte(msg.Token), []byte(expected)) != 1 {
		sess.CloseWithCode(protocol.CloseInvalidToken, "invalid token")
		return "", errors.WrapInvalid(errors.ErrInvalidToken, "Authenticator", "Authenticate", "compare token")
	}

	if err := sess.Send(protocol.AuthOK(msg.Role)); err != nil {
		sess.CloseWithCode(protocol.CloseAuthFailed, "auth failed")
		return "", errors.WrapTransient(err, "Authenticator", "Authenticate", "send auth_ok")
	}

	sess.role = msg.Role
	return msg.Role, nil
}
