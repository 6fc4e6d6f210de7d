// Package errors provides structured error handling for Family Recipes services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeRequestInvalid Code = "REQUEST_INVALID"

	// Email/allowlist errors
	CodeEmailInvalid    Code = "EMAIL_INVALID"
	CodeEmailNotAllowed Code = "EMAIL_NOT_ALLOWED"
	CodeRoleInvalid     Code = "ROLE_INVALID"

	// Magic link errors
	CodeMagicLinkInvalid Code = "MAGIC_LINK_INVALID"
	CodeMagicLinkExpired Code = "MAGIC_LINK_EXPIRED"
	CodeMagicLinkUsed    Code = "MAGIC_LINK_USED"

	// Session errors
	CodeSessionInvalid  Code = "SESSION_INVALID"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Passkey errors
	CodeChallengeInvalid   Code = "CHALLENGE_INVALID"
	CodeChallengeExpired   Code = "CHALLENGE_EXPIRED"
	CodeCredentialExists   Code = "CREDENTIAL_EXISTS"
	CodeCredentialNotFound Code = "CREDENTIAL_NOT_FOUND"
	CodeCounterRegressed   Code = "COUNTER_REGRESSED"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// OAuth errors
	CodeClientInvalid              Code = "CLIENT_INVALID"
	CodeRedirectURIInvalid         Code = "REDIRECT_URI_INVALID"
	CodeResponseTypeUnsupported    Code = "RESPONSE_TYPE_UNSUPPORTED"
	CodeChallengeMethodUnsupported Code = "CODE_CHALLENGE_METHOD_UNSUPPORTED"
	CodeScopeInvalid               Code = "SCOPE_INVALID"
	CodeGrantInvalid               Code = "GRANT_INVALID"
	CodeGrantExpired               Code = "GRANT_EXPIRED"
	CodeGrantUsed                  Code = "GRANT_USED"
	CodePKCEMismatch               Code = "PKCE_MISMATCH"
	CodeAccessDenied               Code = "ACCESS_DENIED"

	// Bearer token errors
	CodeTokenInvalid      Code = "TOKEN_INVALID"
	CodeTokenExpired      Code = "TOKEN_EXPIRED"
	CodeScopeInsufficient Code = "SCOPE_INSUFFICIENT"

	// Authorization errors
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeInternal      Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeRequestInvalid,
		CodeEmailInvalid,
		CodeRoleInvalid,
		CodeRedirectURIInvalid,
		CodeResponseTypeUnsupported,
		CodeChallengeMethodUnsupported,
		CodeScopeInvalid:
		return http.StatusBadRequest

	// Unauthorized - authentication failures, replayed or expired proofs
	case CodeUnauthenticated,
		CodeSessionInvalid,
		CodeSessionExpired,
		CodeMagicLinkInvalid,
		CodeMagicLinkExpired,
		CodeMagicLinkUsed,
		CodeChallengeInvalid,
		CodeChallengeExpired,
		CodeCredentialNotFound,
		CodeCounterRegressed,
		CodeVerificationFailed,
		CodeClientInvalid,
		CodeGrantInvalid,
		CodeGrantExpired,
		CodeGrantUsed,
		CodePKCEMismatch,
		CodeTokenInvalid,
		CodeTokenExpired:
		return http.StatusUnauthorized

	// Forbidden - valid identity, insufficient rights
	case CodePermissionDenied,
		CodeEmailNotAllowed,
		CodeScopeInsufficient,
		CodeAccessDenied:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - duplicate records
	case CodeAlreadyExists,
		CodeCredentialExists:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
