package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents       metric.Int64Counter
	referralTransitions metric.Int64Counter
	riskDecisions       metric.Int64Counter
	transfers           metric.Int64Counter
	linkVisitsDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "referralledger"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("referralledger_webhook_events_total")
	if err != nil {
		return nil, err
	}
	referralTransitions, err := meter.Int64Counter("referralledger_referral_transitions_total")
	if err != nil {
		return nil, err
	}
	riskDecisions, err := meter.Int64Counter("referralledger_risk_decisions_total")
	if err != nil {
		return nil, err
	}
	transfers, err := meter.Int64Counter("referralledger_transfers_total")
	if err != nil {
		return nil, err
	}
	linkVisitsDenied, err := meter.Int64Counter("referralledger_link_visits_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:       webhookEvents,
		referralTransitions: referralTransitions,
		riskDecisions:       riskDecisions,
		transfers:           transfers,
		linkVisitsDenied:    linkVisitsDenied,
	}, nil
}

// RecordWebhookEvent counts ingested platform events by outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransition counts referral state changes.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	)
	m.referralTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRiskDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.riskDecisions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("decision", decision))...))
}

func (m *Metrics) RecordTransfer(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("result", result))...))
}

func (m *Metrics) RecordLinkVisitDenied(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.linkVisitsDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":   {},
	"event_type": {},
	"outcome":    {},
	"from":       {},
	"to":         {},
	"trigger":    {},
	"decision":   {},
	"result":     {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
