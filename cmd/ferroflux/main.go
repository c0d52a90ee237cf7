// Command ferroflux is the core engine binary: it wires the BlobStore,
// NodeRouter/Topology, Scheduler/Transport, stage pipeline, node dispatcher,
// Gateway, Janitor, API worker, and Event bus into one driving loop, and
// exposes the API command channel and event bus over a small JSON-line
// loop on stdin/stdout for local operation (spec SPEC_FULL.md §C, in the
// manner of the teacher's cmd/demo).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ferroflux/ferroflux/internal/api"
	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/config"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/eventbus"
	"github.com/ferroflux/ferroflux/internal/flowbus"
	"github.com/ferroflux/ferroflux/internal/gateway"
	"github.com/ferroflux/ferroflux/internal/janitor"
	"github.com/ferroflux/ferroflux/internal/nodes"
	"github.com/ferroflux/ferroflux/internal/scheduler"
	"github.com/ferroflux/ferroflux/internal/stage"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

// anthropicClient adapts *sdk.MessageService to nodes.LLMClient, dropping
// the variadic option.RequestOption parameter the typed interface has no
// use for (grounded on features/model/anthropic/client.go's own
// MessagesClient adapter).
type anthropicClient struct {
	messages *sdk.MessageService
}

func (c anthropicClient) New(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error) {
	return c.messages.New(ctx, body)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := telemetry.NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
	metrics := telemetry.NewNoopMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	world := ecs.NewWorld()
	store := blobstore.New(blobstore.WithGCGrace(cfg.GCGrace), blobstore.WithLogger(logger), blobstore.WithMetrics(metrics))
	router := topology.NewRouter()
	topo := topology.NewTopology(router)
	queues := ticket.NewQueues()
	pins := ticket.NewPinnedOutputs()
	traces := flowbus.NewTraces(world, logger)
	bus := eventbus.New(logger)
	pipeline := stage.NewPipeline(world)
	sem := stage.NewSemaphores(cfg.AgentConcurrency)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	execWorker := stage.NewExecWorker(pipeline, sem, httpClient)

	// Secrets referenced by node definitions (spec §4.5's SecretConfig.
	// LookupKey) resolve against the process environment; an embedding
	// deployment with a real secrets backend (Vault, SSM, ...) supplies its
	// own lookup by constructing the Dispatcher directly rather than via
	// this binary.
	lookupSecret := os.LookupEnv

	dispatch := nodes.NewDispatcher(world, router, topo, queues, store, traces, bus, pipeline, logger, lookupSecret)
	if cfg.AnthropicAPIKey != "" {
		anthropic := sdk.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
		dispatch.SetLLMClient(anthropicClient{messages: &anthropic.Messages})
	}

	sched := scheduler.NewScheduler(queues, dispatch, dispatch)
	transport := scheduler.NewTransport(router, topo, queues, store, logger)
	timers := nodes.NewTimerSource(queues, store, traces, logger)
	timers.Start()
	defer timers.Stop()

	gw := gateway.New(cfg.WebhookQueueCapacity, router, queues, store, logger)

	worker := api.NewWorker(64, world, router, topo, queues, store, sched, dispatch, traces, pins, bus, timers, logger)

	jan := janitor.New(store, cfg.GCInterval, logger, metrics)
	go jan.Run(ctx)

	if cfg.PlatformPath != "" {
		if ok := worker.Submit(api.LoadGraph{Dir: cfg.PlatformPath}); !ok {
			log.Printf("ferroflux: initial LoadGraph dropped, command channel full")
		}
	}

	go runCommandLoop(ctx, worker)
	go publishEvents(ctx, bus, cfg.EventBusQueueDepth)

	backoff := cfg.TickBackoffMin
	for {
		select {
		case <-ctx.Done():
			dispatch.FlushAggregators(context.Background())
			return
		default:
		}

		workDone := false
		workDone = worker.Tick(ctx) || workDone
		workDone = sched.Tick(ctx) || workDone
		workDone = execWorker.Tick(ctx) || workDone
		workDone = dispatch.PostTick(ctx) || workDone
		workDone = transport.Tick(ctx) || workDone
		workDone = gw.Tick(ctx) || workDone

		if workDone {
			backoff = cfg.TickBackoffMin
			continue
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > cfg.TickBackoffMax {
			backoff = cfg.TickBackoffMax
		}
	}
}

// rpcCommand is the JSON-line wire shape accepted on stdin: one object per
// line, "cmd" naming the variant and the remaining fields populating it.
type rpcCommand struct {
	Cmd          string          `json:"cmd"`
	Dir          string          `json:"dir"`
	TargetNode   uuid.UUID       `json:"target_node"`
	WorkflowName string          `json:"workflow_name"`
	Input        json.RawMessage `json:"input"`
	Sensitive    bool            `json:"sensitive"`
	Node         uuid.UUID       `json:"node"`
	TraceID      uuid.UUID       `json:"trace_id"`
	Override     json.RawMessage `json:"override"`
}

func runCommandLoop(ctx context.Context, worker *api.Worker) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var rc rpcCommand
		if err := json.Unmarshal(scanner.Bytes(), &rc); err != nil {
			fmt.Fprintf(os.Stderr, "ferroflux: bad command line: %v\n", err)
			continue
		}
		cmd, err := rc.toCommand()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ferroflux: %v\n", err)
			continue
		}
		if !worker.Submit(cmd) {
			fmt.Fprintln(os.Stderr, "ferroflux: command channel full, dropped")
		}
	}
}

func (rc rpcCommand) toCommand() (api.Command, error) {
	switch rc.Cmd {
	case "load_graph":
		return api.LoadGraph{Dir: rc.Dir}, nil
	case "reload_definitions":
		return api.ReloadDefinitions{Dir: rc.Dir}, nil
	case "trigger":
		return api.Trigger{TargetNode: rc.TargetNode, Input: rc.Input, Sensitive: rc.Sensitive}, nil
	case "trigger_workflow":
		return api.TriggerWorkflow{TargetNode: rc.TargetNode, WorkflowName: rc.WorkflowName, Input: rc.Input, Sensitive: rc.Sensitive}, nil
	case "pin_node":
		return api.PinNode{Node: rc.Node}, nil
	case "resume_checkpoint":
		return api.ResumeCheckpoint{TraceID: rc.TraceID, Override: rc.Override}, nil
	case "cancel":
		return api.Cancel{TraceID: rc.TraceID}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", rc.Cmd)
	}
}

// publishEvents drains the event bus and writes each SystemEvent as a JSON
// line to stdout, the local operator's view onto running traces.
func publishEvents(ctx context.Context, bus *eventbus.Bus, depth int) {
	sub := bus.Subscribe(depth)
	defer sub.Close()
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = enc.Encode(evt)
		}
	}
}
