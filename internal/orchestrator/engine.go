// Package orchestrator runs the analysis engine: it plans the agent set
// for a question, executes agents concurrently under a global worker
// bound, settles each execution into the ledger, and aggregates the
// survivors into a report.
//
// One Engine serves the whole process. Every state transition is
// persisted before its progress event is published, so the ledger is
// always at least as current as anything a subscriber has seen.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/hirameki/internal/broker"
	"github.com/ashita-ai/hirameki/internal/cache"
	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/embedding"
	"github.com/ashita-ai/hirameki/internal/fingerprint"
	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/planner"
	"github.com/ashita-ai/hirameki/internal/report"
	"github.com/ashita-ai/hirameki/internal/runner"
	"github.com/ashita-ai/hirameki/internal/storage"
	"github.com/ashita-ai/hirameki/internal/telemetry"
)

// ErrNotCancellable is returned when a run is past the point where a
// cancel can take effect.
var ErrNotCancellable = errors.New("orchestrator: run is not cancellable")

// Config holds the engine's tunables.
type Config struct {
	// MaxWorkers bounds concurrent agent executions across all runs.
	MaxWorkers int
	// AgentTimeout is the per-agent execution deadline, overridable
	// per agent by the catalog.
	AgentTimeout time.Duration
	// PlanTimeout bounds the planning call.
	PlanTimeout time.Duration
}

// SubmitRequest carries everything the engine needs to start a run.
// The HTTP layer resolves dataset references into a digest and profile
// before submission.
type SubmitRequest struct {
	DatasetDigest string
	DatasetRef    string
	Summary       model.DatasetSummary
	Question      string
	// AgentIDs, when non-empty, skips planning: the client picked the
	// agents and the catalog only decorates them.
	AgentIDs []string
}

// Engine orchestrates runs. Safe for concurrent use.
type Engine struct {
	ledger   storage.Ledger
	cache    cache.Store
	catalog  *catalog.Catalog
	planner  planner.Planner
	runner   runner.Runner
	broker   *broker.Broker
	embedder embedding.Provider
	logger   *slog.Logger

	sem          *semaphore.Weighted
	agentTimeout time.Duration
	planTimeout  time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]*runState
	wg     sync.WaitGroup

	runsStarted    metric.Int64Counter
	runsFinished   metric.Int64Counter
	executionsDone metric.Int64Counter
	cacheHits      metric.Int64Counter
}

// runState is the engine's in-memory view of one live run.
type runState struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	seq         int64
	remaining   int
	cancelled   bool
	aggregating bool
	// terminalSent dedupes the run_cancelled event when a cancel races
	// the last settling agent.
	terminalSent bool
}

// New creates the engine. Indexing of completed reports is disabled
// until EnableIndexing is called.
func New(ledger storage.Ledger, store cache.Store, cat *catalog.Catalog, plnr planner.Planner, rnr runner.Runner, brk *broker.Broker, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 5 * time.Minute
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = 30 * time.Second
	}

	e := &Engine{
		ledger:       ledger,
		cache:        store,
		catalog:      cat,
		planner:      plnr,
		runner:       rnr,
		broker:       brk,
		logger:       logger,
		sem:          semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		agentTimeout: cfg.AgentTimeout,
		planTimeout:  cfg.PlanTimeout,
		active:       make(map[uuid.UUID]*runState),
	}

	meter := telemetry.Meter("hirameki/orchestrator")
	e.runsStarted, _ = meter.Int64Counter("hirameki.runs.started",
		metric.WithDescription("Runs accepted for execution"))
	e.runsFinished, _ = meter.Int64Counter("hirameki.runs.finished",
		metric.WithDescription("Runs reaching a terminal status"))
	e.executionsDone, _ = meter.Int64Counter("hirameki.executions.finished",
		metric.WithDescription("Agent executions reaching a terminal status"))
	e.cacheHits, _ = meter.Int64Counter("hirameki.cache.hits",
		metric.WithDescription("Agent executions answered from the result cache"))
	return e
}

// EnableIndexing turns on report embedding and index-outbox enqueueing
// for completed runs.
func (e *Engine) EnableIndexing(provider embedding.Provider) {
	e.embedder = provider
}

// Submit validates the request, persists the run in the planning state,
// and starts advancing it in the background.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (model.Run, error) {
	if err := model.ValidateQuestion(req.Question); err != nil {
		return model.Run{}, err
	}
	if !model.IsDatasetDigest(req.DatasetDigest) {
		return model.Run{}, fmt.Errorf("orchestrator: malformed dataset digest %q", req.DatasetDigest)
	}
	for _, id := range req.AgentIDs {
		if err := model.ValidateAgentID(id); err != nil {
			return model.Run{}, err
		}
	}

	run := model.Run{
		ID:            uuid.New(),
		DatasetDigest: req.DatasetDigest,
		DatasetRef:    req.DatasetRef,
		Question:      req.Question,
		AgentIDs:      dedupe(req.AgentIDs),
		Status:        model.RunStatusPlanning,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.ledger.CreateRun(ctx, run); err != nil {
		return model.Run{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &runState{cancel: cancel}
	e.mu.Lock()
	e.active[run.ID] = state
	e.mu.Unlock()

	e.wg.Add(1)
	go e.advance(runCtx, state, run, req)

	if e.runsStarted != nil {
		e.runsStarted.Add(ctx, 1)
	}
	return run, nil
}

// Cancel stops a run that is still planning or executing. In-flight
// agent contexts are cancelled; agents not yet dispatched stay pending.
func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	state, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		// Not live: either unknown or already terminal.
		run, err := e.ledger.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: status %s", ErrNotCancellable, run.Status)
	}

	state.mu.Lock()
	if state.cancelled || state.aggregating {
		state.mu.Unlock()
		return ErrNotCancellable
	}
	state.cancelled = true
	state.mu.Unlock()

	reason := "cancelled by request"
	if err := e.ledger.CompleteRun(context.WithoutCancel(ctx), runID, model.RunStatusCancelled, nil, &reason); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return ErrNotCancellable
		}
		return err
	}
	state.cancel()

	// The terminal event must trail every agent event. With agents
	// still settling, the last settler publishes it; otherwise nothing
	// else will, so publish here.
	state.mu.Lock()
	settling := state.remaining > 0
	state.mu.Unlock()
	if !settling {
		e.publishCancelled(state, runID)
	}
	return nil
}

func (e *Engine) publishCancelled(state *runState, runID uuid.UUID) {
	state.mu.Lock()
	if state.terminalSent {
		state.mu.Unlock()
		return
	}
	state.terminalSent = true
	state.mu.Unlock()

	e.publish(state, model.ProgressEvent{
		Type:  model.EventRunCancelled,
		RunID: runID,
		Payload: model.RunFailedPayload{
			Status: model.RunStatusCancelled,
			Reason: "cancelled by request",
		},
	})
	e.finishMetric(model.RunStatusCancelled)
}

// Drain blocks until every live run has settled, or the context
// expires. New submissions during a drain still run; stopping intake is
// the HTTP server's job.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance drives one run from planning to its terminal state.
func (e *Engine) advance(runCtx context.Context, state *runState, run model.Run, req SubmitRequest) {
	defer e.wg.Done()
	defer e.unregister(run.ID)

	descriptors, err := e.plan(runCtx, req)
	if err != nil {
		e.failPlanning(runCtx, state, run, err)
		return
	}

	agentIDs := make([]string, len(descriptors))
	for i, d := range descriptors {
		agentIDs[i] = d.ID
	}

	if err := e.ledger.MarkExecuting(context.WithoutCancel(runCtx), run.ID, agentIDs); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Cancelled while planning.
			return
		}
		e.failPlanning(runCtx, state, run, err)
		return
	}
	run.AgentIDs = agentIDs
	run.Status = model.RunStatusExecuting

	e.publish(state, model.ProgressEvent{
		Type:  model.EventRunStarted,
		RunID: run.ID,
		Payload: model.RunStartedPayload{
			Question:   run.Question,
			AgentIDs:   agentIDs,
			AgentCount: len(agentIDs),
		},
	})

	execs := make([]model.AgentExecution, len(descriptors))
	for i, d := range descriptors {
		execs[i] = model.AgentExecution{
			ID:      uuid.New(),
			RunID:   run.ID,
			AgentID: d.ID,
			Status:  model.ExecutionStatusPending,
		}
		if err := e.ledger.CreateExecution(runCtx, execs[i]); err != nil {
			e.failPlanning(runCtx, state, run, fmt.Errorf("create execution for %s: %w", d.ID, err))
			return
		}
	}

	state.mu.Lock()
	state.remaining = len(descriptors)
	state.mu.Unlock()

	var dispatched sync.WaitGroup
	for i, d := range descriptors {
		key := fingerprint.Key(run.DatasetDigest, run.Question, d.ID)

		entry, hit, err := e.cache.Lookup(runCtx, key)
		if err != nil {
			// Cache trouble degrades to a miss, never fails the run.
			e.logger.Warn("cache lookup failed", "run_id", run.ID, "agent_id", d.ID, "error", err)
			hit = false
		}
		if hit {
			e.settleCacheHit(runCtx, state, run, execs[i], entry)
			continue
		}

		dispatched.Add(1)
		go func(agent model.AgentDescriptor, exec model.AgentExecution, key string) {
			defer dispatched.Done()
			e.execute(runCtx, state, run, agent, exec, key)
		}(d, execs[i], key)
	}

	// The run goroutine outlives its workers; unregistering early would
	// cancel them mid-flight.
	dispatched.Wait()
}

// plan resolves the agent set: the client's pre-selection decorated
// from the catalog, or a planner call.
func (e *Engine) plan(runCtx context.Context, req SubmitRequest) ([]model.AgentDescriptor, error) {
	ctx, cancel := context.WithTimeout(runCtx, e.planTimeout)
	defer cancel()

	if ids := dedupe(req.AgentIDs); len(ids) > 0 {
		descriptors := make([]model.AgentDescriptor, len(ids))
		for i, id := range ids {
			if d, ok := e.catalog.Get(id); ok {
				descriptors[i] = d
			} else {
				// Unknown agents pass through with no metadata; the
				// runner decides whether it can serve them.
				descriptors[i] = model.AgentDescriptor{ID: id}
			}
		}
		return descriptors, nil
	}

	descriptors, err := e.planner.Plan(ctx, req.Summary, req.Question)
	if err != nil {
		return nil, err
	}
	return e.decorate(descriptors), nil
}

// decorate fills catalog metadata into planner output, keeping the
// planner's per-run params.
func (e *Engine) decorate(descriptors []model.AgentDescriptor) []model.AgentDescriptor {
	out := make([]model.AgentDescriptor, len(descriptors))
	for i, d := range descriptors {
		if known, ok := e.catalog.Get(d.ID); ok {
			if d.Name == "" {
				d.Name = known.Name
			}
			if d.Description == "" {
				d.Description = known.Description
			}
			if len(d.Tags) == 0 {
				d.Tags = known.Tags
			}
			if d.TimeoutSeconds == 0 {
				d.TimeoutSeconds = known.TimeoutSeconds
			}
		}
		out[i] = d
	}
	return out
}

// failPlanning terminates a run before any agent was dispatched.
func (e *Engine) failPlanning(runCtx context.Context, state *runState, run model.Run, cause error) {
	reason := cause.Error()
	err := e.ledger.CompleteRun(context.WithoutCancel(runCtx), run.ID, model.RunStatusFailed, nil, &reason)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return
		}
		e.logger.Error("failed to record planning failure", "run_id", run.ID, "error", err)
		return
	}

	e.logger.Warn("run failed in planning", "run_id", run.ID, "reason", reason)
	e.publish(state, model.ProgressEvent{
		Type:  model.EventRunFailed,
		RunID: run.ID,
		Payload: model.RunFailedPayload{
			Status: model.RunStatusFailed,
			Reason: reason,
		},
	})
	e.finishMetric(model.RunStatusFailed)
}

// settleCacheHit finalises an execution from a cache entry. No worker
// slot is consumed.
func (e *Engine) settleCacheHit(runCtx context.Context, state *runState, run model.Run, exec model.AgentExecution, entry cache.Entry) {
	wctx := context.WithoutCancel(runCtx)
	payload := entry.Payload

	exec.Status = model.ExecutionStatusCacheHit
	exec.Cached = true
	exec.Payload = &payload
	exec.DurationMs = 0

	if err := e.ledger.UpdateExecution(wctx, exec); err != nil {
		e.logger.Error("failed to record cache hit", "run_id", run.ID, "agent_id", exec.AgentID, "error", err)
	}
	if err := e.ledger.RecordAgentOutcome(wctx, exec); err != nil {
		e.logger.Warn("failed to update agent stats", "agent_id", exec.AgentID, "error", err)
	}

	if e.cacheHits != nil {
		e.cacheHits.Add(wctx, 1)
	}
	e.executionMetric(wctx, "cache_hit")

	e.publish(state, model.ProgressEvent{
		Type:    model.EventAgentCompleted,
		RunID:   run.ID,
		AgentID: exec.AgentID,
		Payload: model.AgentCompletedPayload{
			Cached:    true,
			Narrative: payload.Narrative,
		},
	})
	e.settle(runCtx, state, run)
}

// execute runs one agent under the global worker bound.
func (e *Engine) execute(runCtx context.Context, state *runState, run model.Run, agent model.AgentDescriptor, exec model.AgentExecution, key string) {
	defer e.settle(runCtx, state, run)

	if err := e.sem.Acquire(runCtx, 1); err != nil {
		// Run cancelled before a slot opened: never dispatched, the
		// execution stays pending in the ledger.
		return
	}
	defer e.sem.Release(1)

	wctx := context.WithoutCancel(runCtx)
	started := time.Now().UTC()
	exec.Status = model.ExecutionStatusRunning
	exec.StartedAt = &started
	if err := e.ledger.UpdateExecution(wctx, exec); err != nil {
		e.logger.Error("failed to mark execution running", "run_id", run.ID, "agent_id", agent.ID, "error", err)
	}
	e.publish(state, model.ProgressEvent{
		Type:    model.EventAgentStarted,
		RunID:   run.ID,
		AgentID: agent.ID,
		Payload: model.AgentStartedPayload{},
	})

	timeout := e.agentTimeout
	if agent.TimeoutSeconds > 0 {
		timeout = time.Duration(agent.TimeoutSeconds) * time.Second
	}
	agentCtx, cancel := context.WithTimeout(runCtx, timeout)
	payload, runErr := e.runner.Run(agentCtx, agent, model.DatasetRef{
		Digest: run.DatasetDigest,
		Ref:    run.DatasetRef,
	}, run.Question)
	cancel()

	ended := time.Now().UTC()
	exec.EndedAt = &ended
	exec.DurationMs = ended.Sub(started).Milliseconds()

	if runErr != nil {
		category := runner.Categorize(runErr)
		exec.Status = model.ExecutionStatusFailed
		exec.ErrorCategory = category
		exec.ErrorMessage = runErr.Error()

		if err := e.ledger.UpdateExecution(wctx, exec); err != nil {
			e.logger.Error("failed to record execution failure", "run_id", run.ID, "agent_id", agent.ID, "error", err)
		}
		if err := e.ledger.RecordAgentOutcome(wctx, exec); err != nil {
			e.logger.Warn("failed to update agent stats", "agent_id", agent.ID, "error", err)
		}
		e.executionMetric(wctx, "failed")

		e.logger.Warn("agent failed", "run_id", run.ID, "agent_id", agent.ID,
			"category", category, "error", runErr)
		e.publish(state, model.ProgressEvent{
			Type:    model.EventAgentFailed,
			RunID:   run.ID,
			AgentID: agent.ID,
			Payload: model.AgentFailedPayload{
				Category: category,
				Message:  runErr.Error(),
			},
		})
		return
	}

	exec.Status = model.ExecutionStatusCompleted
	exec.Payload = &payload
	if err := e.ledger.UpdateExecution(wctx, exec); err != nil {
		e.logger.Error("failed to record execution result", "run_id", run.ID, "agent_id", agent.ID, "error", err)
	}
	if err := e.ledger.RecordAgentOutcome(wctx, exec); err != nil {
		e.logger.Warn("failed to update agent stats", "agent_id", agent.ID, "error", err)
	}
	if err := e.cache.Insert(wctx, key, payload, ended.Sub(started)); err != nil {
		e.logger.Warn("cache insert failed", "agent_id", agent.ID, "error", err)
	}
	e.executionMetric(wctx, "completed")

	e.publish(state, model.ProgressEvent{
		Type:    model.EventAgentCompleted,
		RunID:   run.ID,
		AgentID: agent.ID,
		Payload: model.AgentCompletedPayload{
			DurationMs: exec.DurationMs,
			Narrative:  payload.Narrative,
		},
	})
}

// settle records one finished agent; the last settler aggregates.
func (e *Engine) settle(runCtx context.Context, state *runState, run model.Run) {
	state.mu.Lock()
	state.remaining--
	last := state.remaining == 0
	cancelled := state.cancelled
	if last && !cancelled {
		state.aggregating = true
	}
	state.mu.Unlock()

	if !last {
		return
	}
	if cancelled {
		e.publishCancelled(state, run.ID)
		return
	}
	e.aggregate(context.WithoutCancel(runCtx), state, run)
}

// aggregate builds and persists the report and closes out the run.
func (e *Engine) aggregate(ctx context.Context, state *runState, run model.Run) {
	if err := e.ledger.MarkAggregating(ctx, run.ID); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return
		}
		e.logger.Error("failed to mark run aggregating", "run_id", run.ID, "error", err)
		return
	}

	executions, err := e.ledger.ListExecutionsByRun(ctx, run.ID)
	if err != nil {
		reason := fmt.Sprintf("aggregation failed: %v", err)
		if cerr := e.ledger.CompleteRun(ctx, run.ID, model.RunStatusFailed, nil, &reason); cerr != nil {
			e.logger.Error("failed to record aggregation failure", "run_id", run.ID, "error", cerr)
		}
		e.publish(state, model.ProgressEvent{
			Type:    model.EventRunFailed,
			RunID:   run.ID,
			Payload: model.RunFailedPayload{Status: model.RunStatusFailed, Reason: reason},
		})
		e.finishMetric(model.RunStatusFailed)
		return
	}

	rep := report.Build(run, executions, time.Now().UTC())
	status := report.Classify(rep)

	if err := e.ledger.CompleteRun(ctx, run.ID, status, &rep, nil); err != nil {
		if !errors.Is(err, storage.ErrInvalidTransition) {
			e.logger.Error("failed to complete run", "run_id", run.ID, "error", err)
		}
		return
	}

	e.logger.Info("run finished", "run_id", run.ID, "status", status,
		"succeeded", rep.Summary.Succeeded, "failed", rep.Summary.Failed, "cached", rep.Summary.Cached)

	if status == model.RunStatusFailed {
		e.publish(state, model.ProgressEvent{
			Type:    model.EventRunFailed,
			RunID:   run.ID,
			Payload: model.RunFailedPayload{Status: status, Reason: "all agents failed"},
		})
	} else {
		e.publish(state, model.ProgressEvent{
			Type:  model.EventRunCompleted,
			RunID: run.ID,
			Payload: model.RunCompletedPayload{
				Status:    status,
				Succeeded: rep.Summary.Succeeded,
				Failed:    rep.Summary.Failed,
				Cached:    rep.Summary.Cached,
			},
		})
	}
	e.finishMetric(status)

	if e.embedder != nil && len(rep.Insights) > 0 {
		e.index(ctx, run, rep)
	}
}

// index embeds the report and enqueues it for the search index.
// Best-effort: a broken embedding backend never affects the run.
func (e *Engine) index(ctx context.Context, run model.Run, rep model.Report) {
	vec, err := e.embedder.Embed(ctx, indexText(rep))
	if err != nil {
		e.logger.Warn("report embedding failed", "run_id", run.ID, "error", err)
		return
	}
	if err := e.ledger.SetRunEmbedding(ctx, run.ID, vec); err != nil {
		e.logger.Warn("failed to store report embedding", "run_id", run.ID, "error", err)
		return
	}
	if err := e.ledger.EnqueueIndex(ctx, run.ID); err != nil {
		e.logger.Warn("failed to enqueue index task", "run_id", run.ID, "error", err)
	}
}

// indexText is the text embedded for similarity search: the question
// plus each insight narrative.
func indexText(rep model.Report) string {
	parts := make([]string, 0, len(rep.Insights)+1)
	parts = append(parts, rep.Question)
	for _, insight := range rep.Insights {
		if insight.Payload.Narrative != "" {
			parts = append(parts, insight.Payload.Narrative)
		}
	}
	return strings.Join(parts, "\n")
}

// publish assigns the run-scoped sequence number and fans out.
func (e *Engine) publish(state *runState, event model.ProgressEvent) {
	state.mu.Lock()
	state.seq++
	event.Seq = state.seq
	state.mu.Unlock()

	event.OccurredAt = time.Now().UTC()
	e.broker.Publish(event)
}

func (e *Engine) unregister(runID uuid.UUID) {
	e.mu.Lock()
	state, ok := e.active[runID]
	delete(e.active, runID)
	e.mu.Unlock()
	if ok {
		state.cancel()
	}
}

func (e *Engine) executionMetric(ctx context.Context, outcome string) {
	if e.executionsDone == nil {
		return
	}
	e.executionsDone.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (e *Engine) finishMetric(status model.RunStatus) {
	if e.runsFinished == nil {
		return
	}
	e.runsFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", string(status))))
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
