package logging

// ErrorKind normalizes error categories for logs/metrics.
// It maps HTTP status codes and presence of error to a short string label.
func ErrorKind(status int, hasErr bool) string {
	if hasErr && status == 0 {
		return "network_error"
	}
	switch {
	case status == 429:
		return "upstream_429"
	case status == 401:
		return "upstream_401"
	case status == 403:
		return "upstream_403"
	case status >= 500 && status < 600:
		return "upstream_5xx"
	case status >= 400 && status < 500:
		return "upstream_4xx"
	}
	if hasErr {
		return "error"
	}
	return "ok"
}

// KindForPoolKind maps a credential pool manager error kind (the string
// form of pool.Kind) onto the same short label buckets ErrorKind produces
// for HTTP statuses, so an admin mutation that fails against the pool logs
// under the same vocabulary as a relay call that fails against the
// upstream. Accepts a plain string rather than pool.Kind to avoid a
// logging -> pool import.
func KindForPoolKind(kind string) string {
	switch kind {
	case "rate_limited":
		return "upstream_429"
	case "credential_expired_or_invalid":
		return "upstream_401"
	case "permission_denied":
		return "upstream_403"
	case "upstream_unavailable", "still_expired_after_refresh":
		return "upstream_5xx"
	case "network_error":
		return "network_error"
	case "not_found", "invalid_request", "no_usable_credential", "all_disabled", "refresh_failed":
		return "upstream_4xx"
	case "":
		return "ok"
	default:
		return "error"
	}
}
