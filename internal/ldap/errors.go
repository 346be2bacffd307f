package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ErrNotBound is returned by operations that need a bound session.
var ErrNotBound = errors.New("directory session is not bound")

// LDAPError carries the operation, category and server detail of a failure.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err as a failure of operation. It returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Message = resultCodeMessage(resultErr.ResultCode)
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultAuthMethodNotSupported,
		ldap.LDAPResultAuthUnknown:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultConfidentialityRequired:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject:
		return ErrorCategoryNotFound

	case ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError,
		ldap.LDAPResultParamError:
		return ErrorCategoryValidation

	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded,
		ldap.LDAPResultOperationsError:
		return ErrorCategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes errors that carry no result code.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "kerberos"),
		strings.Contains(errStr, "gssapi"),
		strings.Contains(errStr, "credentials"):
		return ErrorCategoryAuthentication
	default:
		return ErrorCategoryUnknown
	}
}

var resultCodeMessages = map[uint16]string{
	ldap.LDAPResultInvalidCredentials:          "Invalid credentials",
	ldap.LDAPResultInappropriateAuthentication: "Inappropriate authentication method",
	ldap.LDAPResultStrongAuthRequired:          "Strong authentication required",
	ldap.LDAPResultAuthMethodNotSupported:      "Authentication method not supported",
	ldap.LDAPResultInsufficientAccessRights:    "Insufficient access rights",
	ldap.LDAPResultUnwillingToPerform:          "Server is unwilling to perform the operation",
	ldap.LDAPResultConfidentialityRequired:     "Confidentiality required",
	ldap.LDAPResultNoSuchObject:                "Search base does not exist",
	ldap.LDAPResultInvalidDNSyntax:             "Invalid DN syntax",
	ldap.LDAPResultFilterError:                 "Invalid search filter",
	ldap.LDAPResultSizeLimitExceeded:           "Size limit exceeded",
	ldap.LDAPResultTimeLimitExceeded:           "Time limit exceeded",
	ldap.LDAPResultAdminLimitExceeded:          "Administrative limit exceeded",
	ldap.LDAPResultBusy:                        "Server is busy",
	ldap.LDAPResultUnavailable:                 "Server is unavailable",
	ldap.LDAPResultServerDown:                  "Server is down",
	ldap.ErrorNetwork:                          "Network error",
	ldap.LDAPResultConnectError:                "Connection error",
	ldap.LDAPResultTimeout:                     "Operation timed out",
}

// resultCodeMessage returns a human-readable message for an LDAP result code.
func resultCodeMessage(code uint16) string {
	if msg, ok := resultCodeMessages[code]; ok {
		return msg
	}
	if text, ok := ldap.LDAPResultCodeMap[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// GetErrorCategory returns the category of an error, looking through wrapping.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsConnectionError checks if an error indicates the server could not be reached.
func IsConnectionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConnection
}

// IsNotFoundError checks if an error indicates a missing search base.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}
