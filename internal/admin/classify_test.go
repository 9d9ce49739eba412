package admin

import (
	"errors"
	"testing"

	"github.com/kirogateway/kirogateway/internal/pool"
)

func TestClassifyTypedErrors(t *testing.T) {
	cases := []struct {
		kind pool.Kind
		want Kind
	}{
		{pool.KindNotFound, KindNotFound},
		{pool.KindInvalidRequest, KindInvalidRequest},
		{pool.KindRateLimited, KindUpstreamError},
		{pool.KindStoreError, KindInternalError},
	}
	for _, tc := range cases {
		err := &pool.Error{Kind: tc.kind, Message: "x"}
		if got := Classify(err); got != tc.want {
			t.Errorf("Classify(%s) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestClassifyFallsBackToMessageMatching(t *testing.T) {
	if got := Classify(errors.New("credential not found")); got != KindNotFound {
		t.Errorf("expected KindNotFound from message match, got %s", got)
	}
	if got := Classify(errors.New("upstream server error occurred")); got != KindUpstreamError {
		t.Errorf("expected KindUpstreamError from message match, got %s", got)
	}
	if got := Classify(errors.New("something unexpected happened")); got != KindInternalError {
		t.Errorf("expected KindInternalError as the default, got %s", got)
	}
}

func TestClassifyNilError(t *testing.T) {
	if got := Classify(nil); got != KindInternalError {
		t.Errorf("expected KindInternalError for nil, got %s", got)
	}
}
