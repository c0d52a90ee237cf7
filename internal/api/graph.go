// Package api implements the bounded external command channel and the YAML
// graph-definition loader (spec §4.8, §6).
package api

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/nodes"
	"github.com/ferroflux/ferroflux/internal/secrets"
	"github.com/ferroflux/ferroflux/internal/stage"
	"github.com/ferroflux/ferroflux/internal/tools"
)

// NodeDocument is one YAML document describing a node's kind and
// configuration (spec §6 "Graph definition format").
type NodeDocument struct {
	ID                uuid.UUID         `yaml:"id"`
	Kind              string            `yaml:"kind"`
	OutputPort        string            `yaml:"output_port"`
	Script            string            `yaml:"script"`
	ResultKey         string            `yaml:"result_key"`
	WindowSize        int               `yaml:"window_size"`
	WindowTTL         time.Duration     `yaml:"window_ttl"`
	Reduction         string            `yaml:"reduction"`
	SplitPath         string            `yaml:"split_path"`
	CheckpointTimeout time.Duration     `yaml:"checkpoint_timeout"`
	ComputeTimeout    time.Duration     `yaml:"compute_timeout"`
	CronSpec          string            `yaml:"cron_spec"`
	LLMSystemPrompt   string            `yaml:"llm_system_prompt"`
	LLMModel          string            `yaml:"llm_model"`
	LLMMaxTokens      int               `yaml:"llm_max_tokens"`
	HTTP              HTTPDocument      `yaml:"http"`
	Edges             []EdgeDocument    `yaml:"edges"`

	// InputSchema is an optional JSON Schema describing this node's
	// configurable fields / accepted trigger payload (spec §6 "Graph
	// definition format"), validated at graph-load time and re-applied to
	// every Trigger/TriggerWorkflow input that targets this node.
	InputSchema map[string]any `yaml:"input_schema"`
}

// HTTPDocument mirrors stage.NodeSpec's configurable fields.
type HTTPDocument struct {
	Method          string                    `yaml:"method"`
	URL             string                    `yaml:"url"`
	Headers         map[string]string         `yaml:"headers"`
	Body            string                    `yaml:"body"`
	Secret          *SecretDocument           `yaml:"secret"`
	Auth            *AuthDocument             `yaml:"auth"`
	OutputTransform string                    `yaml:"output_transform"`
	Timeout         time.Duration             `yaml:"timeout"`
	ShadowMode      bool                      `yaml:"shadow_mode"`
	ShadowMasks     map[string]ShadowDocument `yaml:"shadow_masks"`
}

// SecretDocument mirrors secrets.Config.
type SecretDocument struct {
	LookupKey  string `yaml:"lookup_key"`
	HeaderName string `yaml:"header_name"`
	Template   string `yaml:"template"`
}

func (d SecretDocument) toConfig() secrets.Config {
	return secrets.Config{LookupKey: d.LookupKey, HeaderName: d.HeaderName, Template: d.Template}
}

// AuthDocument mirrors secrets.AuthConfig.
type AuthDocument struct {
	Kind           string         `yaml:"kind"`
	UsernameSecret SecretDocument `yaml:"username_secret"`
	PasswordSecret SecretDocument `yaml:"password_secret"`
	APIKeySecret   SecretDocument `yaml:"api_key_secret"`
	HeaderName     string         `yaml:"header_name"`
	TokenSecret    SecretDocument `yaml:"token_secret"`
}

func (d AuthDocument) toConfig() secrets.AuthConfig {
	return secrets.AuthConfig{
		Kind:           secrets.AuthKind(d.Kind),
		UsernameSecret: d.UsernameSecret.toConfig(),
		PasswordSecret: d.PasswordSecret.toConfig(),
		APIKeySecret:   d.APIKeySecret.toConfig(),
		HeaderName:     d.HeaderName,
		TokenSecret:    d.TokenSecret.toConfig(),
	}
}

// ShadowDocument mirrors tools.ShadowMock.
type ShadowDocument struct {
	ReturnValue any `yaml:"return_value"`
	DelayMs     int `yaml:"delay_ms"`
}

// EdgeDocument is one wire from this document's node to a downstream node.
type EdgeDocument struct {
	ToNode string `yaml:"to_node"`
	ToPort string `yaml:"to_port"`
	Label  string `yaml:"label"`
}

// Graph is the fully parsed result of loading every *.yaml document under a
// PlatformPath directory: one NodeDocument per node, keyed by its id.
type Graph struct {
	Nodes map[uuid.UUID]NodeDocument
}

// LoadGraphDir reads every .yaml/.yml file directly under dir and parses it
// into a NodeDocument, grounded on the teacher pack's own
// gopkg.in/yaml.v3-based config loading (r3e-network-service_layer's
// pkg/config.loadFromFile).
func LoadGraphDir(dir string) (*Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	g := &Graph{Nodes: make(map[uuid.UUID]NodeDocument)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var doc NodeDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.ID == uuid.Nil {
			doc.ID = uuid.New()
		}
		g.Nodes[doc.ID] = doc
	}
	return g, nil
}

// Definition converts a parsed YAML document into the internal definitions
// needed by the scheduler and node dispatcher, compiling InputSchema (if
// present) the way registry/service.go's validatePayloadJSONAgainstSchema
// compiles a toolset's schema: decode to any, AddResource, Compile.
func (doc NodeDocument) Definition() (nodes.Definition, error) {
	var schema *jsonschema.Schema
	if len(doc.InputSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		resourceURL := "ferroflux://node/" + doc.ID.String() + "/input_schema.json"
		if err := compiler.AddResource(resourceURL, doc.InputSchema); err != nil {
			return nodes.Definition{}, ferrors.Wrap(ferrors.GraphInvalid, err, "node %s: add input_schema resource", doc.ID)
		}
		s, err := compiler.Compile(resourceURL)
		if err != nil {
			return nodes.Definition{}, ferrors.Wrap(ferrors.GraphInvalid, err, "node %s: compile input_schema", doc.ID)
		}
		schema = s
	}

	var secretCfg *secrets.Config
	if doc.HTTP.Secret != nil {
		cfg := doc.HTTP.Secret.toConfig()
		secretCfg = &cfg
	}
	var authCfg *secrets.AuthConfig
	if doc.HTTP.Auth != nil {
		cfg := doc.HTTP.Auth.toConfig()
		authCfg = &cfg
	}
	var shadowMasks map[string]tools.ShadowMock
	if len(doc.HTTP.ShadowMasks) > 0 {
		shadowMasks = make(map[string]tools.ShadowMock, len(doc.HTTP.ShadowMasks))
		for toolID, mock := range doc.HTTP.ShadowMasks {
			shadowMasks[toolID] = tools.ShadowMock{ReturnValue: mock.ReturnValue, DelayMs: mock.DelayMs}
		}
	}

	return nodes.Definition{
		ID:                doc.ID,
		Kind:              doc.Kind,
		OutputPort:        doc.OutputPort,
		Script:            doc.Script,
		ResultKey:         doc.ResultKey,
		WindowSize:        doc.WindowSize,
		WindowTTL:         doc.WindowTTL,
		Reduction:         doc.Reduction,
		SplitPath:         doc.SplitPath,
		CheckpointTimeout: doc.CheckpointTimeout,
		ComputeTimeout:    doc.ComputeTimeout,
		LLMSystemPrompt:   doc.LLMSystemPrompt,
		LLMModel:          doc.LLMModel,
		LLMMaxTokens:      doc.LLMMaxTokens,
		CronSpec:          doc.CronSpec,
		InputSchema:       schema,
		HTTP: stage.NodeSpec{
			NodeID:          doc.ID,
			Kind:            doc.Kind,
			Method:          doc.HTTP.Method,
			URL:             doc.HTTP.URL,
			Headers:         doc.HTTP.Headers,
			Body:            doc.HTTP.Body,
			Secret:          secretCfg,
			Auth:            authCfg,
			ResultKey:       doc.ResultKey,
			OutputTransform: doc.HTTP.OutputTransform,
			Timeout:         doc.HTTP.Timeout,
			ShadowMode:      doc.HTTP.ShadowMode,
			ShadowMasks:     shadowMasks,
		},
	}, nil
}
