package catalog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/envelope"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/validator"
	"github.com/example/sourcebridge/internal/worker"
)

// PipelineConfig holds the call site policies of an entity pipeline.
type PipelineConfig struct {
	NullPolicy worker.NullPolicy
	// Mirror writes every entity found in an external source to the keystore.
	Mirror bool
	Logger zerolog.Logger
}

// Pipeline builds the record processor serving entity name.
func Pipeline(name string, b Backends, pc PipelineConfig) (worker.Processor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case models.EntityCourse:
		e, err := Courses(b)
		return pipeline[models.CourseRequest, *models.CourseRequest](e, err, models.CourseProbeFields, pc)
	case models.EntityGroup:
		e, err := Groups(b)
		return pipeline[models.GroupRequest, *models.GroupRequest](e, err, models.GroupProbeFields, pc)
	case models.EntityMember:
		e, err := Members(b)
		return pipeline[models.MemberRequest, *models.MemberRequest](e, err, models.MemberProbeFields, pc)
	case models.EntityCompetition:
		e, err := Competitions(b)
		return pipeline[models.CompetitionRequest, *models.CompetitionRequest](e, err, models.CompetitionProbeFields, pc)
	case models.EntityTrack:
		e, err := Tracks(b)
		return pipeline[models.TrackRequest, *models.TrackRequest](e, err, models.TrackProbeFields, pc)
	}
	return nil, common.Configuration(fmt.Errorf("catalog: unknown entity %q", name))
}

func pipeline[T worker.Request[K], PT validator.Request[T], K ~string, E any](e *Entity[K, E], err error, probes []string, pc PipelineConfig) (worker.Processor, error) {
	if err != nil {
		return nil, err
	}
	locator, err := envelope.NewLocator(probes...)
	if err != nil {
		return nil, common.Configuration(err)
	}
	opts := []worker.PipelineOption[E]{worker.WithNullPolicy[E](pc.NullPolicy)}
	if pc.Mirror {
		opts = append(opts, worker.WithMirror(e.Mirror))
	}
	p, err := worker.NewPipeline[T, PT, K, E](e.name, locator, validator.New[T, PT](pc.Logger), e.Repository, pc.Logger, opts...)
	if err != nil {
		return nil, common.Configuration(err)
	}
	return p, nil
}
