package ldap

import (
	"errors"
	"maps"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-user-provider/internal/logging"
)

// LogLDAPError logs a failed directory operation with its result code and
// category. Bind and search failures are expected during normal operation so
// they are logged at debug.
func LogLDAPError(logger logging.Logger, operation string, err error, fields map[string]any) {
	out := make(map[string]any, len(fields)+5)
	maps.Copy(out, fields)

	out["operation"] = operation
	out["error"] = err.Error()
	out["category"] = string(GetErrorCategory(err))

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		out["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			out["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}

	logger.Debug("LDAP operation failed", logging.SanitizeFields(out))
}
