// Package factory builds the configured source clients. A source whose base
// URL is not configured is left nil; entities bound to it fail at startup.
package factory

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/adapters/graphql"
	"github.com/example/sourcebridge/internal/adapters/keystore"
	"github.com/example/sourcebridge/internal/adapters/odata"
	"github.com/example/sourcebridge/internal/adapters/restapi"
	"github.com/example/sourcebridge/internal/catalog"
	"github.com/example/sourcebridge/internal/config"
	"github.com/example/sourcebridge/internal/workflow"
)

// Hooks connect the clients to metrics. Both are optional.
type Hooks struct {
	TokenRefresh  func(source string) func()
	WorkflowStart func(outcome string)
}

func (h Hooks) tokenOptions(source string, cfg config.SourceConfig) []common.TokenCacheOption {
	opts := []common.TokenCacheOption{common.WithRefreshSkew(cfg.TokenRefreshSkew())}
	if h.TokenRefresh != nil {
		opts = append(opts, common.WithRefreshHook(h.TokenRefresh(source)))
	}
	return opts
}

// Backends opens the keystore and builds every configured API source. The
// returned close function releases the keystore.
func Backends(cfg *config.Config, logger zerolog.Logger, hooks Hooks) (catalog.Backends, func() error, error) {
	if cfg == nil {
		return catalog.Backends{}, nil, errors.New("factory: config is required")
	}

	store, err := keystore.Open(cfg.Keystore.Path, logger)
	if err != nil {
		return catalog.Backends{}, nil, fmt.Errorf("factory: keystore init: %w", err)
	}
	logger.Info().
		Str("backend", keystore.SourceName).
		Str("path", cfg.Keystore.Path).
		Msg("source initialised")

	b := catalog.Backends{Keystore: store, Logger: logger}
	fail := func(err error) (catalog.Backends, func() error, error) {
		_ = store.Close()
		return catalog.Backends{}, nil, err
	}

	if cfg.REST.Enabled() {
		b.REST, err = restapi.NewClient(restapi.Config{
			BaseURL:      cfg.REST.BaseURL,
			TokenURL:     cfg.REST.TokenURL,
			ClientID:     cfg.REST.ClientID,
			ClientSecret: cfg.REST.ClientSecret,
			Scopes:       cfg.REST.Scopes,
		}, logger,
			restapi.WithLimiter(common.NewLimiter(cfg.Sources.RateLimitRPS, cfg.Sources.RateLimitBurst)),
			restapi.WithTokenOptions(hooks.tokenOptions(restapi.SourceName, cfg.Sources)...),
		)
		if err != nil {
			return fail(fmt.Errorf("factory: restapi init: %w", err))
		}
		logger.Info().Str("backend", restapi.SourceName).Msg("source initialised")
	}

	if cfg.OData.Enabled() {
		b.OData, err = odata.NewClient(odata.Config{
			BaseURL:  cfg.OData.BaseURL,
			LoginURL: cfg.OData.LoginURL,
			Username: cfg.OData.Username,
			Password: cfg.OData.Password,
		}, logger,
			odata.WithLimiter(common.NewLimiter(cfg.Sources.RateLimitRPS, cfg.Sources.RateLimitBurst)),
			odata.WithTokenOptions(hooks.tokenOptions(odata.SourceName, cfg.Sources)...),
		)
		if err != nil {
			return fail(fmt.Errorf("factory: odata init: %w", err))
		}
		logger.Info().Str("backend", odata.SourceName).Msg("source initialised")
	}

	if cfg.GraphQL.Enabled() {
		b.GraphQL, err = graphql.NewClient(graphql.Config{
			Endpoint: cfg.GraphQL.Endpoint,
			APIKey:   cfg.GraphQL.APIKey,
		}, logger,
			graphql.WithLimiter(common.NewLimiter(cfg.Sources.RateLimitRPS, cfg.Sources.RateLimitBurst)),
		)
		if err != nil {
			return fail(fmt.Errorf("factory: graphql init: %w", err))
		}
		logger.Info().Str("backend", graphql.SourceName).Msg("source initialised")
	}

	return b, store.Close, nil
}

// Starter builds the workflow starter used by the fan-out proxy.
func Starter(cfg *config.Config, logger zerolog.Logger, hooks Hooks) (*workflow.HTTPStarter, error) {
	if cfg == nil {
		return nil, errors.New("factory: config is required")
	}
	opts := []workflow.Option{
		workflow.WithLimiter(common.NewLimiter(cfg.Sources.RateLimitRPS, cfg.Sources.RateLimitBurst)),
	}
	if hooks.WorkflowStart != nil {
		opts = append(opts, workflow.WithStartHook(hooks.WorkflowStart))
	}
	starter, err := workflow.NewHTTPStarter(workflow.Config{
		Endpoint: cfg.Workflow.Endpoint,
		APIToken: cfg.Workflow.APIToken,
	}, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("factory: workflow starter init: %w", err)
	}
	return starter, nil
}
