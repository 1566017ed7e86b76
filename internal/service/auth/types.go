package auth

import (
	internaljwt "omnidesk-backend/internal/jwt"
	"omnidesk-backend/internal/model"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type RegisterParams struct {
	OrgName    string
	Domain     string
	AdminName  string
	AdminEmail string
	Password   string
}

type LoginParams struct {
	OrgID    string
	Email    string
	Password string
}

type CreateAgentParams struct {
	Name     string
	Email    string
	Password string
}

type Identity struct {
	UserID string
	OrgID  string
	Email  string
}

type AuthResult struct {
	User         model.UserItem
	Organization model.OrganizationItem
	Tokens       internaljwt.TokenResponse
	Memberships  []Membership
}

type ProfileResult struct {
	User         model.UserItem
	Organization model.OrganizationItem
}

// Membership is one (user, organization) pair for an email address.
// The same address may be an agent in several organizations.
type Membership struct {
	User         model.UserItem
	Organization model.OrganizationItem
	IsDefault    bool
}
