package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsync/internal/logging"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = logging.SubsystemLDAP

// LogOperation runs fn and logs its start, duration and outcome.
func LogOperation(ctx context.Context, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, Subsystem, "Starting operation", SanitizeFields(fields))

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(ctx, operation, err, fields)
	} else {
		tflog.SubsystemDebug(ctx, Subsystem, "Operation completed successfully", SanitizeFields(fields))
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	logged := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		logged[k] = v
	}

	logged["operation"] = operation
	logged["error"] = err.Error()
	logged["error_category"] = string(GetErrorCategory(err))

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		logged["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			logged["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}

	tflog.SubsystemError(ctx, Subsystem, "LDAP operation failed", SanitizeFields(logged))
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, Subsystem, "Connection event", SanitizeFields(fields))
	case "connection_failed", "authentication_failed", "connection_lost":
		tflog.SubsystemError(ctx, Subsystem, "Connection event", SanitizeFields(fields))
	default:
		tflog.SubsystemDebug(ctx, Subsystem, "Connection event", SanitizeFields(fields))
	}
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"secret":      true,
	"token":       true,
	"credential":  true,
	"credentials": true,
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range []string{"password=", "passwd=", "secret=", "token="} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
