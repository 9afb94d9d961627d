package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/envelope"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/repository"
	"github.com/example/sourcebridge/internal/validator"
	"github.com/example/sourcebridge/internal/worker"
)

type coursePipeline = worker.Pipeline[models.CourseRequest, *models.CourseRequest, models.CourseKind, models.Course]

func newCoursePipeline(t *testing.T, external repository.Finder[models.Course], opts ...worker.PipelineOption[models.Course]) *coursePipeline {
	t.Helper()
	locator, err := envelope.NewLocator(models.CourseProbeFields...)
	if err != nil {
		t.Fatalf("locator: %v", err)
	}
	repo, err := repository.New(models.CourseKinds, map[models.CourseKind]repository.Finder[models.Course]{
		models.CourseInternalID: func(context.Context, string) (models.Course, error) {
			return models.Course{}, common.NotFound("keystore", "no such course")
		},
		models.CourseExternalSourceID: external,
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	p, err := worker.NewPipeline[models.CourseRequest, *models.CourseRequest, models.CourseKind, models.Course](
		models.EntityCourse, locator, validator.New[models.CourseRequest](zerolog.Nop()), repo, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p
}

func algebra(_ context.Context, value string) (models.Course, error) {
	return models.Course{ExternalSourceID: value, Title: "Algebra"}, nil
}

func TestPipelineFindsAcrossShapes(t *testing.T) {
	p := newCoursePipeline(t, algebra)
	cases := map[string]struct {
		payload string
		shape   string
	}{
		"direct":   {`{"externalSourceId":"LMS-7","traceId":"t-9"}`, "direct"},
		"callback": {`{"detail":{"responsePayload":{"externalSourceId":"LMS-7","traceId":"t-9"}}}`, "callback"},
		"batch":    {`{"Records":[{"body":"{\"externalSourceId\":\"LMS-7\",\"traceId\":\"t-9\"}"}]}`, "queue_batch"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := p.Process(context.Background(), []byte(tc.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != models.OutcomeFound || res.LookupBy != "externalSourceId" || res.Key != "LMS-7" || res.TraceID != "t-9" {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Shape != tc.shape {
				t.Fatalf("expected shape %s, got %s", tc.shape, res.Shape)
			}
			var course models.Course
			if err := json.Unmarshal(res.Data, &course); err != nil || course.Title != "Algebra" {
				t.Fatalf("unexpected data %s: %v", res.Data, err)
			}
		})
	}
}

func TestPipelineNullPolicy(t *testing.T) {
	null := []byte(`{"detail":{"responsePayload":null}}`)

	res, err := newCoursePipeline(t, algebra).Process(context.Background(), null)
	if err != nil || res.Outcome != models.OutcomeNoOp {
		t.Fatalf("expected noop, got %+v %v", res, err)
	}

	_, err = newCoursePipeline(t, algebra, worker.WithNullPolicy[models.Course](worker.NullAsViolation)).Process(context.Background(), null)
	if !errors.Is(err, common.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestPipelineRejectsInvalidRequest(t *testing.T) {
	_, err := newCoursePipeline(t, algebra).Process(context.Background(), []byte(`{"courseId":"not-a-uuid"}`))
	if !errors.Is(err, common.ErrRequestInvalid) {
		t.Fatalf("expected RequestInvalid, got %v", err)
	}
}

func TestPipelinePassesNotFoundThrough(t *testing.T) {
	missing := func(context.Context, string) (models.Course, error) {
		return models.Course{}, common.NotFound("restapi", "course gone")
	}
	res, err := newCoursePipeline(t, missing).Process(context.Background(), []byte(`{"externalSourceId":"LMS-1"}`))
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if res.LookupBy != "externalSourceId" || res.Key != "LMS-1" {
		t.Fatalf("expected lookup details on failure, got %+v", res)
	}
}

func TestPipelineMirror(t *testing.T) {
	var mirrored int
	ok := worker.WithMirror(func(_ context.Context, c models.Course) (models.Course, error) {
		mirrored++
		c.ID = "3c9f3e0e-5a52-4b8e-8d4e-0f6f3b2b9a11"
		return c, nil
	})
	res, err := newCoursePipeline(t, algebra, ok).Process(context.Background(), []byte(`{"externalSourceId":"LMS-2"}`))
	if err != nil || mirrored != 1 {
		t.Fatalf("expected one mirror call, got %d %v", mirrored, err)
	}
	var course models.Course
	_ = json.Unmarshal(res.Data, &course)
	if course.ID == "" {
		t.Fatalf("expected mirrored id in data, got %s", res.Data)
	}

	failing := worker.WithMirror(func(_ context.Context, c models.Course) (models.Course, error) {
		return c, common.SourceUnavailable("keystore", errors.New("disk full"))
	})
	res, err = newCoursePipeline(t, algebra, failing).Process(context.Background(), []byte(`{"externalSourceId":"LMS-2"}`))
	if err != nil || res.Outcome != models.OutcomeFound {
		t.Fatalf("mirror failures must not fail the lookup, got %+v %v", res, err)
	}
}

func TestParseNullPolicy(t *testing.T) {
	for in, want := range map[string]worker.NullPolicy{"": worker.NullAsNoOp, "noop": worker.NullAsNoOp, "violation": worker.NullAsViolation} {
		got, err := worker.ParseNullPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseNullPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := worker.ParseNullPolicy("drop"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
