package stage

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/ticket"
)

// Post parses an ExecutionResult's raw body, applies the node's
// output_transform if configured, merges the result into the trace's flow
// bus, emits a fresh ticket into the node's outbox, and tears down the
// staging entity (spec §4.5 step 3, state PREPPED -> EXECUTED -> POSTED).
func Post(ctx context.Context, pipeline *Pipeline, store *blobstore.Store, queues *ticket.Queues, nodeEntity ecs.Entity, bus *flowbus.State, e ecs.Entity) error {
	result, ok := pipeline.Result(e)
	if !ok {
		return ferrors.New(ferrors.Internal, "post: no ExecutionResult for staging entity")
	}
	execCtx := result.Context
	defer pipeline.Finish(e)

	transformed := transform(result.RawBody, execCtx.OutputTransform)

	switch {
	case execCtx.ResultKey != "":
		bus.Set(execCtx.ResultKey, transformed)
	default:
		if obj, ok := transformed.(map[string]any); ok {
			bus.Merge(ctx, obj)
		}
	}

	outBytes, err := json.Marshal(transformed)
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, err, "post: marshal transformed output")
	}
	tk, err := store.Store(ctx, outBytes, map[string]string{"trace_id": execCtx.TraceID.String()})
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, err, "post: store output ticket")
	}

	outbox := queues.Outbox(nodeEntity)
	if outbox == nil {
		return ferrors.New(ferrors.NodeMissing, "post: node %s has no registered outbox", execCtx.NodeID)
	}
	outbox.Push(tk)
	return nil
}

// transform parses raw as JSON and, if path is set, evaluates it as a
// JMESPath-like gjson query against raw; otherwise the parsed JSON value is
// returned as-is.
func transform(raw, path string) any {
	if path != "" {
		res := gjson.Get(raw, path)
		var v any
		if err := json.Unmarshal([]byte(res.Raw), &v); err != nil {
			return res.Value()
		}
		return v
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
