package admin

import (
	"strings"

	"github.com/kirogateway/kirogateway/internal/pool"
)

// Kind is the admin-facing error classification, distinct from pool.Kind:
// the admin layer only ever renders one of these four buckets.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindInvalidRequest Kind = "invalid_request"
	KindUpstreamError  Kind = "api_error"
	KindInternalError  Kind = "internal_error"
)

// HTTPStatus maps an admin Kind to the status code the handler writes.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return 404
	case KindInvalidRequest:
		return 400
	case KindUpstreamError:
		return 502
	default:
		return 500
	}
}

var upstreamPhrases = []string{
	"expired or invalid", "forbidden", "permission denied", "rate limited",
	"server error", "refresh failed", "timed out", "connection refused",
	"upstream unavailable", "network error",
}

// Classify maps an error returned by the Pool Manager to one of the four
// admin-facing kinds. Typed *pool.Error values are classified by their
// Kind field directly; anything else falls back to substring matching on
// the message, mirroring the source's message-inspection approach for
// errors that never carried a structured kind.
func Classify(err error) Kind {
	if err == nil {
		return KindInternalError
	}

	if pe, ok := pool.AsError(err); ok {
		switch pe.Kind {
		case pool.KindNotFound:
			return KindNotFound
		case pool.KindInvalidRequest:
			return KindInvalidRequest
		case pool.KindCredentialExpiredOrInvalid, pool.KindPermissionDenied, pool.KindRateLimited,
			pool.KindUpstreamUnavailable, pool.KindNetworkError, pool.KindRefreshFailed,
			pool.KindStillExpiredAfterRefresh, pool.KindNoUsableCredential, pool.KindAllDisabled:
			return KindUpstreamError
		default:
			return KindInternalError
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(err.Error(), "不存在") {
		return KindNotFound
	}
	for _, phrase := range upstreamPhrases {
		if strings.Contains(msg, phrase) {
			return KindUpstreamError
		}
	}
	return KindInternalError
}
