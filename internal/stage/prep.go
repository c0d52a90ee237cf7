package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/secrets"
	"github.com/ferroflux/ferroflux/internal/tools"
)

// NodeSpec is the static, per-node configuration the prep stage renders
// against a trace's flow bus and inbound payload.
type NodeSpec struct {
	NodeID          uuid.UUID
	Kind            string
	Method          string
	URL             string
	Headers         map[string]string
	Body            string
	Secret          *secrets.Config
	Auth            *secrets.AuthConfig
	ResultKey       string
	OutputTransform string
	Timeout         time.Duration
	ShadowMode      bool
	ShadowMasks     map[string]tools.ShadowMock
}

// Prep renders spec's templated fields against the trace's flow bus context
// and the inbound ticket payload, resolves secrets/auth, and spawns a
// ReadyToExecute staging entity (spec §4.5 step 1). It is pure and fast: no
// I/O beyond reading the environment for secret lookup.
func Prep(_ context.Context, pipeline *Pipeline, node ecs.Entity, spec NodeSpec, payload []byte, traceID uuid.UUID, bus *flowbus.State, lookupSecret func(string) (string, bool)) (ecs.Entity, error) {
	data := map[string]any{}
	for k, v := range bus.Context() {
		data[k] = v
	}
	var input any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &input)
	}
	data["input"] = input

	method, err := renderTemplate(spec.Method, data)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.GraphInvalid, err, "prep: method template")
	}
	if method == "" {
		method = "GET"
	}
	url, err := renderTemplate(spec.URL, data)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.GraphInvalid, err, "prep: url template")
	}
	body, err := renderTemplate(spec.Body, data)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.GraphInvalid, err, "prep: body template")
	}

	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		rendered, err := renderTemplate(v, data)
		if err != nil {
			return 0, ferrors.Wrap(ferrors.GraphInvalid, err, "prep: header %q template", k)
		}
		headers[k] = rendered
	}

	if spec.Secret != nil {
		name, value, err := spec.Secret.Resolve(lookupSecret)
		if err != nil {
			return 0, err
		}
		headers[name] = value
	}
	if spec.Auth != nil {
		name, value, err := spec.Auth.Resolve(lookupSecret)
		if err != nil {
			return 0, err
		}
		headers[name] = value
	}

	execCtx := ExecutionContext{
		NodeID:          spec.NodeID,
		TraceID:         traceID,
		Kind:            spec.Kind,
		Method:          method,
		URL:             url,
		Headers:         headers,
		Body:            body,
		ResultKey:       spec.ResultKey,
		OutputTransform: spec.OutputTransform,
		Shadow:          spec.ShadowMode,
		ShadowMasks:     spec.ShadowMasks,
		Timeout:         spec.Timeout,
	}
	return pipeline.SpawnReady(node, execCtx), nil
}

func renderTemplate(src string, data map[string]any) (string, error) {
	if src == "" {
		return "", nil
	}
	tmpl, err := template.New("field").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
