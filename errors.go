// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import "fmt"

// Code is the result status of an authentication attempt. Values below
// 0x10000 follow the numbering of the Linux-PAM result codes; the worker
// passes them through unchanged. Values from 0x10000 up are reserved for
// errors generated locally by the client.
type Code uint32

const (
	CodeSuccess          Code = 0  // Authentication succeeded
	CodeServiceErr       Code = 3  // Error in the service module
	CodeSystemErr        Code = 4  // System error
	CodeBufErr           Code = 5  // Memory buffer error
	CodePermDenied       Code = 6  // Permission denied
	CodeAuthErr          Code = 7  // Authentication failure
	CodeCredInsufficient Code = 8  // Insufficient credentials
	CodeAuthInfoUnavail  Code = 9  // Authentication information unavailable
	CodeUserUnknown      Code = 10 // Unknown user
	CodeMaxTries         Code = 11 // Too many attempts
	CodeAcctExpired      Code = 13 // Account expired or locked

	CodeSendToServer   Code = 0x10001 // Request could not be handed to the worker
	CodeRecvFromServer Code = 0x10002 // No response received from the worker
)

var codeNames = map[Code]string{
	CodeSuccess:          "SUCCESS",
	CodeServiceErr:       "SERVICE_ERR",
	CodeSystemErr:        "SYSTEM_ERR",
	CodeBufErr:           "BUF_ERR",
	CodePermDenied:       "PERM_DENIED",
	CodeAuthErr:          "AUTH_ERR",
	CodeCredInsufficient: "CRED_INSUFFICIENT",
	CodeAuthInfoUnavail:  "AUTHINFO_UNAVAIL",
	CodeUserUnknown:      "USER_UNKNOWN",
	CodeMaxTries:         "MAXTRIES",
	CodeAcctExpired:      "ACCT_EXPIRED",
	CodeSendToServer:     "ERR_SEND_TO_SERVER",
	CodeRecvFromServer:   "ERR_RECV_FROM_SERVER",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code %d", uint32(c))
}

// Local reports whether c is a transport error generated by the client
// rather than a result reported by the worker.
func (c Code) Local() bool { return c >= 0x10000 }

// AuthError is the concrete type of errors reported by [Auth.Authenticate]
// other than context errors. Errors reported by the worker's backend arrive
// with the code and message the backend chose.
type AuthError struct {
	Code    Code
	Message string
}

// Error satisfies the error interface.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// Is reports whether target is an *AuthError with the same code as e. This
// permits errors.Is(err, sandpam.ErrRecvFromServer) and similar checks.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

var (
	// ErrSendToServer is reported when a request cannot be delivered to the
	// pump because it has stopped or the handle is closed.
	ErrSendToServer = &AuthError{Code: CodeSendToServer}

	// ErrRecvFromServer is reported when the pump terminated before the
	// worker answered a request.
	ErrRecvFromServer = &AuthError{Code: CodeRecvFromServer}
)
