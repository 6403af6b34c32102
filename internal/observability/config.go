package observability

import (
	"strings"

	"github.com/predixa/entitlements/internal/config"
)

const (
	defaultServiceName   = "predixa-entitlements"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultOTLPProtocol  = "grpc"
	defaultSamplingRatio = 0.1
)

// Config is the normalized view of config.Config used by the logger, tracer
// and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	environment := firstNonEmpty(obs.DeploymentEnv, cfg.Environment)
	protocol := strings.ToLower(firstNonEmpty(obs.OTelProtocol, defaultOTLPProtocol))
	switch protocol {
	case "grpc", "http", "http/protobuf":
	default:
		protocol = defaultOTLPProtocol
	}

	ratio := obs.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	return Config{
		ServiceName:          firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:          environment,
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(obs.LogLevel, defaultLogLevel)),
		LogFormat:            strings.ToLower(firstNonEmpty(obs.LogFormat, defaultLogFormat)),
		OtelEnabled:          obs.OTelEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug enables development logging and stack traces.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
