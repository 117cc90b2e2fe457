package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeSigner      Code = 14

	// Route execution failures.
	CodeInvalidRoute               Code = 20
	CodeProviderHTTP               Code = 21
	CodeApprovalRejected           Code = 22
	CodeTransactionReverted        Code = 23
	CodeUnsupportedSignatureScheme Code = 24
	CodeTimeoutExhausted           Code = 25
	CodeStepAborted                Code = 26
)

var codeNames = map[Code]string{
	CodeInternal:                   "internal",
	CodeUsage:                      "usage",
	CodeAuth:                       "auth",
	CodeRateLimited:                "rate_limited",
	CodeUnavailable:                "unavailable",
	CodeUnsupported:                "unsupported",
	CodeSigner:                     "signer",
	CodeInvalidRoute:               "invalid_route",
	CodeProviderHTTP:               "provider_http",
	CodeApprovalRejected:           "approval_rejected",
	CodeTransactionReverted:        "transaction_reverted",
	CodeUnsupportedSignatureScheme: "unsupported_signature_scheme",
	CodeTimeoutExhausted:           "timeout_exhausted",
	CodeStepAborted:                "step_aborted",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error is a typed CLI error that carries a stable error code.
// HTTPStatus is set when the error originated from a provider response.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func HTTP(code Code, status int, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether any typed error in err's chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
