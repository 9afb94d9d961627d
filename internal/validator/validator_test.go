package validator_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/envelope"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/validator"
)

const courseDTO = `{"courseId":"0B8E1C52-8F7D-4A57-9A43-3F0E1A2B4C5D","externalSourceId":" LMS-42 ","traceId":"t-1"}`

var wantCourse = models.CourseRequest{
	RequestMeta:      models.RequestMeta{TraceID: "t-1"},
	CourseID:         "0b8e1c52-8f7d-4a57-9a43-3f0e1a2b4c5d",
	ExternalSourceID: "LMS-42",
}

func newCourseValidator() *validator.Validator[models.CourseRequest, *models.CourseRequest] {
	return validator.New[models.CourseRequest](zerolog.Nop())
}

func locate(t *testing.T, arg string) envelope.Located {
	t.Helper()
	loc, err := envelope.NewLocator(models.CourseProbeFields...)
	if err != nil {
		t.Fatalf("unexpected locator error: %v", err)
	}
	return loc.Locate([]byte(arg))
}

func TestValidateRoundTripForEveryShape(t *testing.T) {
	quoted, _ := json.Marshal(courseDTO)
	fixtures := map[string]string{
		"direct":             courseDTO,
		"callback":           `{"detail":{"responsePayload":` + courseDTO + `}}`,
		"queue batch":        `{"Records":[{"body":` + courseDTO + `}]}`,
		"queue batch string": `{"Records":[{"body":` + string(quoted) + `},{"body":"ignored"}]}`,
		"detail":             `{"detail":` + courseDTO + `}`,
	}

	v := newCourseValidator()
	for name, arg := range fixtures {
		t.Run(name, func(t *testing.T) {
			out, err := v.Validate(locate(t, arg))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.NoOp {
				t.Fatalf("did not expect no-op")
			}
			if out.Request != wantCourse {
				t.Fatalf("expected %+v, got %+v", wantCourse, out.Request)
			}
		})
	}
}

func TestValidateNullCallbackIsNoOp(t *testing.T) {
	out, err := newCourseValidator().Validate(locate(t, `{"detail":{"responsePayload":null}}`))
	if err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
	if !out.NoOp {
		t.Fatalf("expected NoOp outcome")
	}
}

func TestValidateNullStringBodyIsNoOp(t *testing.T) {
	out, err := newCourseValidator().Validate(locate(t, `{"Records":[{"body":"null"}]}`))
	if err != nil || !out.NoOp {
		t.Fatalf("expected no-op, got %+v %v", out, err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"undecodable string body": `{"Records":[{"body":"{not json"}]}`,
		"no identifiers":          `{"detail":{"traceId":"t-1"}}`,
		"bad uuid":                `{"courseId":"not-a-uuid"}`,
		"unknown field":           `{"courseId":"0b8e1c52-8f7d-4a57-9a43-3f0e1a2b4c5d","colour":"red"}`,
		"unmatched":               `{"hello":"world"}`,
		"not json":                `garbage`,
		"empty string body":       `{"Records":[{"body":""}]}`,
	}
	v := newCourseValidator()
	for name, arg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(locate(t, arg))
			if !errors.Is(err, common.ErrRequestInvalid) {
				t.Fatalf("expected RequestInvalid, got %v", err)
			}
		})
	}
}

func TestValidateLenientAcceptsUnknownFields(t *testing.T) {
	v := validator.New[models.CourseRequest](zerolog.Nop(), validator.WithUnknownFields())
	out, err := v.Validate(locate(t, `{"courseId":"0b8e1c52-8f7d-4a57-9a43-3f0e1a2b4c5d","colour":"red"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Request.CourseID != "0b8e1c52-8f7d-4a57-9a43-3f0e1a2b4c5d" {
		t.Fatalf("unexpected request %+v", out.Request)
	}
}

func TestValidateMemberEmailOnly(t *testing.T) {
	loc, _ := envelope.NewLocator(models.MemberProbeFields...)
	v := validator.New[models.MemberRequest](zerolog.Nop())
	out, err := v.Validate(loc.Locate([]byte(`{"email":"Ada@Example.com"}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Request.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", out.Request.Email)
	}
}
