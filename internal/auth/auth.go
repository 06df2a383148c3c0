// Package auth carries the opaque credential bundle handed to the transport
// and a minimal bearer validator for the local status surface.
//
// It intentionally avoids acquisition flows and storage policy.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrCredentialRequired = errors.New("auth: credential incomplete")
)

// Credential is produced by an external login flow. The transport forwards
// it without inspecting where it came from.
type Credential struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	DeviceUUID   string
}

func (c Credential) Validate() error {
	switch {
	case c.UserID == 0:
		return fmt.Errorf("%w: user id", ErrCredentialRequired)
	case strings.TrimSpace(c.AccessToken) == "":
		return fmt.Errorf("%w: access token", ErrCredentialRequired)
	case strings.TrimSpace(c.DeviceUUID) == "":
		return fmt.Errorf("%w: device uuid", ErrCredentialRequired)
	}
	return nil
}

// Redacted is safe to log.
func (c Credential) Redacted() string {
	tok := c.AccessToken
	if len(tok) > 6 {
		tok = tok[:6] + "..."
	}
	return fmt.Sprintf("user=%d token=%s device=%s", c.UserID, tok, c.DeviceUUID)
}

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a simple validator for a single shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}
