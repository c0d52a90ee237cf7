// Package config loads runtime configuration from FERROFLUX_* environment
// variables and an optional config file via github.com/spf13/viper (spec
// SPEC_FULL.md A.2), grounded on the teacher pack's own viper-based CLI
// configuration (evalgo-org-eve/cli/root.go's env+file binding).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// PlatformPath is the directory of YAML graph definitions loaded by
	// LoadGraph/ReloadDefinitions (spec §6).
	PlatformPath string

	// GCGrace is the BlobStore garbage-collection grace period (spec §4.1).
	GCGrace time.Duration

	// GCInterval is how often the janitor runs a GC pass.
	GCInterval time.Duration

	// TickBackoffMin/Max bound the driving loop's sleep when no worker
	// reports progress in a tick (spec §4.3).
	TickBackoffMin time.Duration
	TickBackoffMax time.Duration

	// AgentConcurrency limits parallel agent_exec calls per node kind
	// (spec §4.5).
	AgentConcurrency map[string]int

	// WebhookQueueCapacity bounds the gateway's MPMC ingress channel
	// (spec §2 "Gateway").
	WebhookQueueCapacity int

	// EventBusQueueDepth bounds each event-bus subscriber's channel
	// (spec §4.10).
	EventBusQueueDepth int

	// APIKey is loaded from FERROFLUX_API_KEY. No binary or worker in this
	// module checks it: the API command channel accepts commands without
	// any key.
	APIKey string

	// AnthropicAPIKey authenticates llm_agent nodes' calls to the Anthropic
	// Messages API. Empty disables llm_agent dispatch (it fails closed with
	// ferrors.Internal).
	AnthropicAPIKey string

	// GatewayAddr is the listen address for cmd/ferroflux-gateway.
	GatewayAddr string
}

// Load reads configuration from the environment (FERROFLUX_* variables) and,
// if present, a config file named by FERROFLUX_CONFIG_FILE. Unset values
// fall back to the defaults below.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ferroflux")
	v.AutomaticEnv()

	v.SetDefault("platform_path", "./definitions")
	v.SetDefault("gc_grace", 10*time.Second)
	v.SetDefault("gc_interval", 5*time.Second)
	v.SetDefault("tick_backoff_min", time.Millisecond)
	v.SetDefault("tick_backoff_max", 20*time.Millisecond)
	v.SetDefault("webhook_queue_capacity", 1024)
	v.SetDefault("event_bus_queue_depth", 64)
	v.SetDefault("api_key", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("gateway_addr", ":8090")
	v.SetDefault("agent_concurrency_http", 8)
	v.SetDefault("agent_concurrency_llm", 2)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		PlatformPath:         v.GetString("platform_path"),
		GCGrace:              v.GetDuration("gc_grace"),
		GCInterval:           v.GetDuration("gc_interval"),
		TickBackoffMin:       v.GetDuration("tick_backoff_min"),
		TickBackoffMax:       v.GetDuration("tick_backoff_max"),
		WebhookQueueCapacity: v.GetInt("webhook_queue_capacity"),
		EventBusQueueDepth:   v.GetInt("event_bus_queue_depth"),
		APIKey:               v.GetString("api_key"),
		AnthropicAPIKey:      v.GetString("anthropic_api_key"),
		GatewayAddr:          v.GetString("gateway_addr"),
		AgentConcurrency: map[string]int{
			"http_agent": v.GetInt("agent_concurrency_http"),
			"llm_agent":  v.GetInt("agent_concurrency_llm"),
		},
	}, nil
}
