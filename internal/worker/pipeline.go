package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/envelope"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/repository"
	"github.com/example/sourcebridge/internal/validator"
)

// NullPolicy decides what an explicit null payload means at a call site.
type NullPolicy int

const (
	// NullAsNoOp treats null as "nothing to do" and succeeds without action.
	NullAsNoOp NullPolicy = iota
	// NullAsViolation treats null as a broken cross-service contract and
	// escalates it as a fatal invariant violation.
	NullAsViolation
)

// ParseNullPolicy maps "noop" and "violation" onto a NullPolicy.
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch s {
	case "", "noop":
		return NullAsNoOp, nil
	case "violation":
		return NullAsViolation, nil
	}
	return NullAsNoOp, fmt.Errorf("worker: unknown null payload policy %q", s)
}

func (p NullPolicy) String() string {
	if p == NullAsViolation {
		return "violation"
	}
	return "noop"
}

// Result describes a successfully processed record.
type Result struct {
	Outcome  string
	LookupBy string
	Key      string
	TraceID  string
	Shape    string
	Data     json.RawMessage
}

// Processor turns one record payload into a Result. Errors are canonical
// *common.Error values; their kind decides commit and DLQ handling.
type Processor interface {
	Process(ctx context.Context, payload []byte) (Result, error)
}

// Request is satisfied by canonical request values.
type Request[K ~string] interface {
	repository.Identifiable[K]
	Trace() string
}

// PipelineOption customises a Pipeline.
type PipelineOption[E any] func(*pipelineOptions[E])

type pipelineOptions[E any] struct {
	nullPolicy NullPolicy
	mirror     func(context.Context, E) (E, error)
}

// WithNullPolicy sets how explicit null payloads are handled.
func WithNullPolicy[E any](p NullPolicy) PipelineOption[E] {
	return func(o *pipelineOptions[E]) { o.nullPolicy = p }
}

// WithMirror writes every entity found into a secondary store.
func WithMirror[E any](mirror func(context.Context, E) (E, error)) PipelineOption[E] {
	return func(o *pipelineOptions[E]) { o.mirror = mirror }
}

// Pipeline runs locate, validate and dispatch for one entity type.
type Pipeline[T Request[K], PT validator.Request[T], K ~string, E any] struct {
	entity     string
	locator    *envelope.Locator
	validator  *validator.Validator[T, PT]
	repo       *repository.Repository[K, E]
	nullPolicy NullPolicy
	mirror     func(context.Context, E) (E, error)
	logger     zerolog.Logger
}

// NewPipeline wires the stages for entity.
func NewPipeline[T Request[K], PT validator.Request[T], K ~string, E any](
	entity string,
	locator *envelope.Locator,
	v *validator.Validator[T, PT],
	repo *repository.Repository[K, E],
	logger zerolog.Logger,
	opts ...PipelineOption[E],
) (*Pipeline[T, PT, K, E], error) {
	if entity == "" {
		return nil, errors.New("worker pipeline: entity must be provided")
	}
	if locator == nil {
		return nil, errors.New("worker pipeline: locator dependency is required")
	}
	if v == nil {
		return nil, errors.New("worker pipeline: validator dependency is required")
	}
	if repo == nil {
		return nil, errors.New("worker pipeline: repository dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	o := &pipelineOptions[E]{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Pipeline[T, PT, K, E]{
		entity:     entity,
		locator:    locator,
		validator:  v,
		repo:       repo,
		nullPolicy: o.nullPolicy,
		mirror:     o.mirror,
		logger:     logger.With().Str("component", "pipeline").Str("entity", entity).Logger(),
	}, nil
}

// Process implements Processor.
func (p *Pipeline[T, PT, K, E]) Process(ctx context.Context, payload []byte) (Result, error) {
	loc := p.locator.Locate(payload)
	res := Result{Shape: loc.Shape.String()}

	out, err := p.validator.Validate(loc)
	if err != nil {
		return res, err
	}
	if out.NoOp {
		if p.nullPolicy == NullAsViolation {
			return res, common.Invariant(fmt.Errorf("worker: %s request arrived with a null payload in a %s envelope", p.entity, loc.Shape))
		}
		res.Outcome = models.OutcomeNoOp
		return res, nil
	}

	res.TraceID = out.Request.Trace()
	entity, id, err := p.repo.FindFor(ctx, out.Request)
	res.LookupBy, res.Key = string(id.Kind), id.Value
	if err != nil {
		return res, err
	}

	if p.mirror != nil {
		saved, err := p.mirror(ctx, entity)
		if err != nil {
			p.logger.Warn().
				Str("lookup_by", res.LookupBy).
				Str("key", res.Key).
				Err(err).
				Msg("worker: keystore mirror failed; returning entity as found")
		} else {
			entity = saved
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return res, common.AsError(fmt.Errorf("worker: encode %s: %w", p.entity, err))
	}
	res.Outcome = models.OutcomeFound
	res.Data = data
	return res, nil
}
