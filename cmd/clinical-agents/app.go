package main

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/joelkehle/clinical-agents/internal/clinical"
	"github.com/joelkehle/clinical-agents/internal/config"
	"github.com/joelkehle/clinical-agents/internal/logging"
	"github.com/joelkehle/clinical-agents/internal/sources"
)

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(rootFlags.configPath, rootFlags.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// buildPipeline wires the knowledge sources and the optional completion
// service. A missing API key is not an error; stages run degraded.
func buildPipeline(cfg config.Config, logger *zap.Logger) (*clinical.Pipeline, error) {
	srcCfg := func(baseURL, key string) sources.Config {
		return sources.Config{BaseURL: baseURL, APIKey: key, Timeout: cfg.Sources.Timeout, Logger: logger}
	}

	var completer clinical.Completer
	ac, err := clinical.NewAnthropicCompleter(clinical.CompletionConfig{
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
	})
	switch {
	case errors.Is(err, clinical.ErrCompletionUnconfigured):
		logger.Info("completion_disabled", zap.String("reason", "no API key"))
	case err != nil:
		return nil, fmt.Errorf("completion client: %w", err)
	default:
		completer = ac
	}

	p := clinical.NewDefaultPipeline(clinical.Deps{
		Literature: sources.NewPubMed(srcCfg(cfg.Sources.PubMedBaseURL, cfg.Sources.PubMedAPIKey)),
		Ontology:   sources.NewBioPortal(srcCfg(cfg.Sources.BioPortalURL, cfg.Sources.BioPortalAPIKey)),
		Formulary:  sources.NewRxNorm(srcCfg(cfg.Sources.RxNormBaseURL, "")),
		Refiner:    clinical.NewRefiner(completer, cfg.Completion.Timeout, logger),
	},
		clinical.WithLogger(logger),
		clinical.WithTracer(otel.Tracer("github.com/joelkehle/clinical-agents")),
	)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
