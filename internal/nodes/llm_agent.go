package nodes

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/ferroflux/ferroflux/internal/scheduler"
)

// LLMClient is the subset of the Anthropic Messages API an llm_agent node
// needs, satisfied in cmd/ferroflux by the anthropicClient adapter around
// *sdk.MessageService, whose New takes extra variadic options (grounded on
// features/model/anthropic/client.go's own MessagesClient interface, pared
// down to the non-streaming call this node uses).
type LLMClient interface {
	New(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error)
}

const defaultLLMMaxTokens = 1024

// dispatchLLMAgent is a boundary-crossing node like http_agent, but talks to
// the configured Anthropic model instead of an HTTP endpoint. It runs its
// own goroutine (not the stage.Pipeline, which is HTTP-request shaped) and
// tracks in-flight state through Dispatcher.markInFlight/clearInFlight so
// HasInFlight still gates the scheduler correctly for staged nodes.
func (d *Dispatcher) dispatchLLMAgent(ctx context.Context, node ecs.Entity, def Definition, tk scheduler.TicketHandle) bool {
	_, body, traceID, ok := d.popPayload(ctx, tk)
	if !ok {
		return false
	}
	if d.llmClient == nil {
		d.failScript(ctx, def, traceID, body, ferrors.New(ferrors.Internal, "llm_agent: no LLM client configured"))
		return true
	}

	d.markInFlight(node)
	go d.runLLMAgent(node, def, traceID, body)
	return true
}

func (d *Dispatcher) runLLMAgent(node ecs.Entity, def Definition, traceID uuid.UUID, body []byte) {
	defer d.clearInFlight(node)
	ctx := context.Background()

	maxTokens := def.LLMMaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultLLMMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(def.LLMModel),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(string(body)))},
	}
	if def.LLMSystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: def.LLMSystemPrompt}}
	}

	msg, err := d.llmClient.New(ctx, params)
	if err != nil {
		d.bus.Publish(ctx, eventbus.Failed, traceID, map[string]any{
			"kind":  string(ferrors.Internal),
			"error": err.Error(),
			"node":  def.ID.String(),
		})
		return
	}

	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	result := map[string]any{"text": strings.Join(texts, "")}

	mergeResult(ctx, d.traceBus(traceID), def.ResultKey, result)
	out, err := marshalResult(result)
	if err != nil {
		d.logger.Warn(ctx, "llm_agent: marshal result", "error", err)
		return
	}
	if err := d.emitGeneric(ctx, node, traceID, out); err != nil {
		d.logger.Warn(ctx, "llm_agent: emit failed", "error", err)
	}
}
