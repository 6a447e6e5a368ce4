package main

import (
	"context"
	"fmt"
	"log"

	"license-usage-analyzer/internal/aggregate"
	"license-usage-analyzer/internal/analysis"
	"license-usage-analyzer/internal/classifier"
	"license-usage-analyzer/internal/config"
	"license-usage-analyzer/internal/db"
	"license-usage-analyzer/internal/normalize"
	"license-usage-analyzer/internal/policy/engine"
	"license-usage-analyzer/internal/report/repository"
	"license-usage-analyzer/internal/telemetry"
	"license-usage-analyzer/internal/telemetry/loki"
	"license-usage-analyzer/internal/telemetry/otel"
	"license-usage-analyzer/internal/telemetry/producer"
)

const serviceName = "license-analyzer"

// logEvery is how often per-row progress is written to the standard logger.
const logEvery = 100

// app holds the wired dependencies of one analyzer invocation.
type app struct {
	cfg     *config.Config
	service *analysis.Service
	closers []func(context.Context)
}

// newApp wires telemetry, the anomaly policy, the optional report store and, when withClassifier is set,
// the classification dispatcher.
func newApp(ctx context.Context, cfg *config.Config, withClassifier bool) (*app, error) {
	a := &app{cfg: cfg}

	providers, err := otel.NewProviders(ctx, otel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, func(ctx context.Context) { _ = providers.Shutdown(ctx) })

	emitters := []telemetry.EventEmitter{telemetry.LogEmitter{Every: logEvery}}
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, otel.NewEventEmitter(providers.LoggerProvider))
	}
	// With Kafka configured the worker relays events to Loki; otherwise push directly.
	if cfg.LokiURL != "" && len(cfg.KafkaBrokersList()) == 0 {
		emitters = append(emitters, loki.NewClient(cfg.LokiURL, nil))
	}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		p, err := producer.NewKafkaProducer(brokers, cfg.ProgressKafkaTopic)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("kafka: %w", err)
		}
		if p != nil {
			emitters = append(emitters, p)
			a.closers = append(a.closers, func(context.Context) { _ = p.Close() })
		}
	}
	events := telemetry.NewAsyncEmitter(telemetry.Multi(emitters...), 0)
	// Registered after the producer so the queue drains before the writer closes.
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := events.Close(ctx); err != nil {
			log.Printf("analyzer: drain events: %v", err)
		}
	})

	policy, err := engine.LoadPolicyFile(cfg.LicensePolicyFile)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	rule, err := engine.NewOPAEvaluator(ctx, policy, 1)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("license policy: %w", err)
	}
	if err := rule.HealthCheck(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("license policy: %w", err)
	}

	var store analysis.RunStore
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { _ = conn.Close() })
		store = repository.NewPostgresRepository(conn)
	}

	var normalizer analysis.Normalizer
	if withClassifier {
		if cfg.ClassifierURL == "" {
			a.close(ctx)
			return nil, fmt.Errorf("config: CLASSIFIER_URL must be set")
		}
		d, err := normalize.NewDispatcher(newClassifier(cfg), normalize.Config{
			Concurrency:    cfg.NormalizeConcurrency,
			BatchSize:      cfg.NormalizeBatchSize,
			TracerProvider: providers.TracerProvider,
			MeterProvider:  providers.MeterProvider,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		normalizer = d
	}

	policyName, err := aggregate.ParseUnclassifiedPolicy(cfg.UnclassifiedPolicy)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.service = analysis.NewService(normalizer, analysis.Options{
		Rule:                rule,
		Unclassified:        policyName,
		Events:              events,
		Store:               store,
		SkipUnknownMachines: cfg.SkipUnknownMachines,
	})
	return a, nil
}

func newClassifier(cfg *config.Config) *classifier.HTTPClassifier {
	var creds classifier.Credentials
	switch {
	case cfg.ClassifierJWTSecret != "":
		creds = classifier.NewJWTSigner(cfg.ClassifierJWTSecret, cfg.ClassifierJWTIssuer, cfg.ClassifierJWTAudience, cfg.ClassifierModel, 0)
	case cfg.ClassifierAPIKey != "":
		creds = classifier.StaticKey(cfg.ClassifierAPIKey)
	}
	return classifier.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierModel, creds, cfg.ClassifierCallTimeout())
}

// close runs closers in reverse registration order.
func (a *app) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}
