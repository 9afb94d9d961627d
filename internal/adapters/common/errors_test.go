package common_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

type rawError struct {
	code int
	msg  string
}

func (e rawError) Error() string { return e.msg }

type rawTranslator struct{}

func (rawTranslator) StatusClass(err error) int {
	var raw rawError
	if errors.As(err, &raw) {
		return raw.code
	}
	return 0
}

func (rawTranslator) Description(err error) string {
	var raw rawError
	if errors.As(err, &raw) {
		return raw.msg
	}
	return ""
}

func TestTranslateNotFound(t *testing.T) {
	got := common.Translate("lms", rawTranslator{}, rawError{code: 404, msg: "course 42 missing"})
	if got.Kind != common.KindNotFound {
		t.Fatalf("expected NotFound, got %s", got.Kind)
	}
	if got.Code != http.StatusNotFound {
		t.Fatalf("expected code 404, got %d", got.Code)
	}
	if !errors.Is(got, common.ErrNotFound) {
		t.Fatalf("expected errors.Is NotFound")
	}
	if got.Source != "lms" {
		t.Fatalf("expected source lms, got %q", got.Source)
	}
}

func TestTranslateUnmappedPreservesMessage(t *testing.T) {
	got := common.Translate("lms", rawTranslator{}, rawError{code: 418, msg: "I'm a teapot: short and stout"})
	if got.Kind != common.KindServer {
		t.Fatalf("expected ServerError, got %s", got.Kind)
	}
	if got.Message != "I'm a teapot: short and stout" {
		t.Fatalf("expected raw message verbatim, got %q", got.Message)
	}
	if got.RawClass != 418 {
		t.Fatalf("expected raw class 418, got %d", got.RawClass)
	}
	if got.Code != http.StatusInternalServerError {
		t.Fatalf("expected code 500, got %d", got.Code)
	}
}

func TestTranslateClasses(t *testing.T) {
	cases := []struct {
		class int
		want  common.Kind
	}{
		{400, common.KindRequestInvalid},
		{422, common.KindRequestInvalid},
		{409, common.KindRequestInvalid},
		{500, common.KindSourceUnavailable},
		{503, common.KindSourceUnavailable},
		{401, common.KindServer},
		{0, common.KindServer},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.class), func(t *testing.T) {
			got := common.Translate("src", rawTranslator{}, rawError{code: tc.class, msg: "boom"})
			if got.Kind != tc.want {
				t.Fatalf("class %d: expected %s, got %s", tc.class, tc.want, got.Kind)
			}
		})
	}
}

func TestTranslatePassesCanonicalErrorsThrough(t *testing.T) {
	original := common.NotFound("keystore", "missing")
	wrapped := fmt.Errorf("lookup: %w", original)
	if got := common.Translate("other", rawTranslator{}, wrapped); got != original {
		t.Fatalf("expected canonical error to pass through unchanged, got %v", got)
	}
}

func TestTranslateContextCancellation(t *testing.T) {
	got := common.Translate("lms", rawTranslator{}, fmt.Errorf("do: %w", context.Canceled))
	if !errors.Is(got, common.ErrSourceUnavailable) {
		t.Fatalf("expected SourceUnavailable, got %v", got)
	}
	if !errors.Is(got, context.Canceled) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestPayload(t *testing.T) {
	p := common.NotFound("keystore", "course abc not found").Payload()
	if p.StatusCode != 404 || p.Error != "NotFound" || p.Message != "course abc not found" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestAsErrorWrapsUnknown(t *testing.T) {
	got := common.AsError(errors.New("kaboom"))
	if got.Kind != common.KindServer || got.Message != "kaboom" {
		t.Fatalf("unexpected canonical error %+v", got)
	}
	if common.AsError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestFatalAndRetryable(t *testing.T) {
	if !common.Configuration(errors.New("x")).Fatal() {
		t.Fatalf("configuration errors must be fatal")
	}
	if !common.Invariant(errors.New("x")).Fatal() {
		t.Fatalf("invariant errors must be fatal")
	}
	if !common.SourceUnavailable("s", errors.New("x")).Retryable() {
		t.Fatalf("source unavailable must be retryable")
	}
	if common.RequestInvalid(errors.New("x")).Retryable() {
		t.Fatalf("request invalid must not be retryable")
	}
}
