// Package proxy unwraps fan-out messages and starts one workflow execution per
// message. Duplicate deliveries are absorbed by the idempotent start.
package proxy

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
	"github.com/example/sourcebridge/internal/util"
	"github.com/example/sourcebridge/internal/validator"
	"github.com/example/sourcebridge/internal/worker"
	"github.com/example/sourcebridge/internal/workflow"
)

// Entity names the proxy in result events and logs.
const Entity = "fanout"

// ProbeFields identify a direct fan-out message.
var ProbeFields = []string{"id"}

// Message is one fan-out request.
type Message struct {
	ID      string          `json:"id"`
	StackID string          `json:"stackId"`
	Prefix  string          `json:"prefix"`
	DTO     json.RawMessage `json:"dto"`
}

// Validate normalizes the message in place.
func (m *Message) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"id", &m.ID},
		{"stackId", &m.StackID},
		{"prefix", &m.Prefix},
	}
	for _, f := range fields {
		v, err := util.NormalizeExternalID(*f.value)
		if err != nil {
			return fmt.Errorf("fanout message: %s: %w", f.name, err)
		}
		if v == "" {
			return fmt.Errorf("fanout message: %s is required", f.name)
		}
		*f.value = v
	}
	if len(m.DTO) == 0 {
		m.DTO = json.RawMessage("null")
	}
	return nil
}

// Proxy implements worker.Processor for fan-out messages.
type Proxy struct {
	locator    *envelope.Locator
	validator  *validator.Validator[Message, *Message]
	starter    workflow.Starter
	names      workflow.NameTemplate
	nullPolicy worker.NullPolicy
	logger     zerolog.Logger
}

// Option customises a Proxy.
type Option func(*Proxy)

// WithNameTemplate overrides how the workflow is resolved from the routing
// context.
func WithNameTemplate(t workflow.NameTemplate) Option {
	return func(p *Proxy) { p.names = t }
}

// WithNullPolicy sets how an explicit null message is handled.
func WithNullPolicy(policy worker.NullPolicy) Option {
	return func(p *Proxy) { p.nullPolicy = policy }
}

// New constructs a Proxy starting executions through starter.
func New(starter workflow.Starter, logger zerolog.Logger, opts ...Option) (*Proxy, error) {
	if starter == nil {
		return nil, errors.New("proxy: starter dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	locator, err := envelope.NewLocator(ProbeFields...)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		locator:   locator,
		validator: validator.New[Message](logger),
		starter:   starter,
		logger:    logger.With().Str("component", "proxy").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Process implements worker.Processor.
func (p *Proxy) Process(ctx context.Context, payload []byte) (worker.Result, error) {
	loc := p.locator.Locate(payload)
	res := worker.Result{Shape: loc.Shape.String(), LookupBy: "executionId"}

	out, err := p.validator.Validate(loc)
	if err != nil {
		return res, err
	}
	if out.NoOp {
		if p.nullPolicy == worker.NullAsViolation {
			return res, common.Invariant(fmt.Errorf("proxy: fan-out message arrived with a null payload in a %s envelope", loc.Shape))
		}
		res.Outcome = models.OutcomeNoOp
		return res, nil
	}

	msg := out.Request
	res.Key = msg.ID
	input, err := json.Marshal(struct {
		Detail json.RawMessage `json:"detail"`
	}{Detail: msg.DTO})
	if err != nil {
		return res, common.RequestInvalid(fmt.Errorf("proxy: encode input: %w", err))
	}

	name := p.names.Resolve(msg.Prefix, msg.StackID)
	started, err := p.starter.Start(ctx, workflow.Execution{Name: msg.ID, Workflow: name, Input: input})
	if err != nil {
		return res, err
	}

	res.Outcome = models.OutcomeStarted
	if started.AlreadyRunning {
		res.Outcome = models.OutcomeAlreadyRunning
	}
	res.Data, _ = json.Marshal(map[string]string{
		"executionId": started.ExecutionID,
		"workflow":    name,
	})
	p.logger.Debug().
		Str("execution", msg.ID).
		Str("workflow", name).
		Str("outcome", res.Outcome).
		Str("prefix", msg.Prefix).
		Msg("proxy: message forwarded")
	return res, nil
}
