// Package engine drives the two-phase generation pipeline: it owns the
// ordered work queue, runs items through outline and content generation
// with retry/backoff, trips a circuit breaker under sustained failure,
// persists every mutation, and streams state changes to subscribers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SeraKah-1/neuronotespro/internal/model"
)

// Store is the persistence the engine consumes: durable queue snapshots and
// artifact writes. Calls are synchronous; failures are non-fatal.
type Store interface {
	LoadQueue(ctx context.Context) ([]model.Item, error)
	SaveQueue(ctx context.Context, items []model.Item) error
	SaveArtifact(ctx context.Context, a model.Artifact) error
}

// Command refusal errors, surfaced to the caller rather than logged.
var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrCircuitOpen    = errors.New("circuit breaker is open, reset required")
	ErrItemNotFound   = errors.New("item not found")
)

// Snapshot is the state handed to subscribers and the read API. The queue
// slice is a copy; receivers may keep it.
type Snapshot struct {
	Queue        []model.Item     `json:"queue"`
	IsProcessing bool             `json:"is_processing"`
	CircuitOpen  bool             `json:"circuit_open"`
	CircuitLabel string           `json:"circuit_label,omitempty"`
	Run          *model.RunConfig `json:"run,omitempty"`
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Engine is the batch pipeline engine. All state is guarded by mu; the run
// loop is a single goroutine and commands apply between its discrete steps.
type Engine struct {
	mu                  sync.Mutex
	queue               []model.Item
	runCfg              *model.RunConfig
	processing          bool
	stopRequested       bool
	consecutiveFailures int
	circuitOpen         bool
	stopCh              chan struct{}
	doneCh              chan struct{}
	subs                []subscriber
	nextSubID           int

	repo     Store
	gen      Generator
	policy   Policy
	cooldown time.Duration

	// sleep waits for a duration or until the stop channel closes.
	// Swapped out in tests to record backoff waits.
	sleep func(d time.Duration, stop <-chan struct{}) bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithPolicy overrides the retry/backoff/breaker policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCooldown sets the pause between completed items.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

// New creates the Engine and recovers the persisted queue. Items found in
// an in-flight status are reset to ERROR, since an in-flight status can never
// be trusted after a restart, and the sanitized queue is re-persisted.
func New(repo Store, gen Generator, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:     repo,
		gen:      gen,
		policy:   DefaultPolicy(),
		cooldown: time.Second,
		sleep:    waitOrStop,
	}
	for _, opt := range opts {
		opt(e)
	}

	queue, err := repo.LoadQueue(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}

	sanitized := false
	for i := range queue {
		if model.InFlight(queue[i].Status) {
			queue[i].Status = model.StatusError
			queue[i].ErrorMsg = "interrupted, retry needed"
			queue[i].Touch()
			sanitized = true
		}
	}
	e.queue = queue

	if sanitized {
		slog.Info("recovered queue with interrupted items", "queue_len", len(queue))
		if err := repo.SaveQueue(context.Background(), queue); err != nil {
			slog.Error("re-persist of sanitized queue failed", "error", err)
		}
	}
	return e, nil
}

// ---------------------------------------------------------------------------
// Observer surface
// ---------------------------------------------------------------------------

// Subscribe registers a callback invoked synchronously on every state
// change, and immediately once with the current state. The initial call
// happens under the engine lock so no later mutation can be observed before
// it; fn must therefore be fast and must not call back into the Engine.
// The returned function removes exactly this registration.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	fn(e.snapshotLocked())
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
	}
}

// State returns the current snapshot.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// ---------------------------------------------------------------------------
// Command surface
// ---------------------------------------------------------------------------

// SetQueue replaces the queue wholesale (new topics, reorder, load from
// library, clear). Items without an ID get one assigned; items without a
// status start PENDING. Statuses that claim an approved outline require a
// non-empty one, and in-flight statuses are sanitized to ERROR the same way
// recovery does, since no client can hand the engine work it is mid-phase on.
func (e *Engine) SetQueue(items []model.Item) error {
	seen := make(map[string]bool, len(items))
	prepared := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if seen[it.ID] {
			return fmt.Errorf("duplicate item id %q", it.ID)
		}
		seen[it.ID] = true
		if strings.TrimSpace(it.Topic) == "" {
			return fmt.Errorf("item %s has an empty topic", it.ID)
		}
		if it.Status == "" {
			it.Status = model.StatusPending
		}
		if !model.ValidStatus(it.Status) {
			return fmt.Errorf("item %s has invalid status %q", it.ID, it.Status)
		}
		switch it.Status {
		case model.StatusOutlineReady, model.StatusPausedForReview:
			if strings.TrimSpace(it.Outline) == "" {
				return fmt.Errorf("item %s has status %s but no outline", it.ID, it.Status)
			}
		}
		if model.InFlight(it.Status) {
			it.Status = model.StatusError
			it.ErrorMsg = "interrupted, retry needed"
		}
		if it.CreatedAt == "" {
			now := time.Now().UTC().Format(time.RFC3339)
			it.CreatedAt = now
			it.UpdatedAt = now
		}
		prepared = append(prepared, it)
	}

	e.mu.Lock()
	e.queue = prepared
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
	return nil
}

// AppendTopics adds new PENDING items for the given topics and returns the
// created items. Blank topics are skipped.
func (e *Engine) AppendTopics(topics []string) []model.Item {
	created := []model.Item{}
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		created = append(created, model.NewItem(uuid.New().String(), topic))
	}
	if len(created) == 0 {
		return created
	}

	e.mu.Lock()
	e.queue = append(e.queue, created...)
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
	return created
}

// UpdateOutline applies a manual outline edit: it sets the outline, forces
// the item to OUTLINE_READY, and clears any failure state, whether or not
// processing is active.
func (e *Engine) UpdateOutline(id, outline string) error {
	outline = strings.TrimSpace(outline)
	if outline == "" {
		return errors.New("outline must not be empty")
	}

	e.mu.Lock()
	idx := e.indexOfLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return ErrItemNotFound
	}
	it := &e.queue[idx]
	it.Outline = outline
	it.Status = model.StatusOutlineReady
	it.ErrorMsg = ""
	it.RetryCount = 0
	it.Touch()
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
	return nil
}

// Start launches the processing loop with the given run configuration.
// It refuses when a run is active or the circuit breaker is open.
func (e *Engine) Start(cfg model.RunConfig) error {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if e.circuitOpen {
		e.mu.Unlock()
		return ErrCircuitOpen
	}
	e.processing = true
	e.stopRequested = false
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	cfgCopy := cfg
	e.runCfg = &cfgCopy
	stop, done := e.stopCh, e.doneCh
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)

	go e.run(cfg, stop, done)
	return nil
}

// Stop requests cancellation of the active run. The loop aborts at its next
// suspension boundary; an in-flight provider call runs to completion.
// Calling Stop when nothing is running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.processing || e.stopRequested {
		return
	}
	e.stopRequested = true
	close(e.stopCh)
}

// ResetCircuit closes the breaker and clears the failure count, allowing a
// new run to start. A no-op when the breaker is already closed.
func (e *Engine) ResetCircuit() {
	e.mu.Lock()
	if !e.circuitOpen && e.consecutiveFailures == 0 {
		e.mu.Unlock()
		return
	}
	e.circuitOpen = false
	e.consecutiveFailures = 0
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	slog.Info("circuit breaker reset")
	deliver(subs, snap)
}

// Close stops any active run and blocks until the loop has exited.
func (e *Engine) Close() {
	e.mu.Lock()
	done, running := e.doneCh, e.processing
	e.mu.Unlock()
	e.Stop()
	if running {
		<-done
	}
}

// ---------------------------------------------------------------------------
// Processing loop
// ---------------------------------------------------------------------------

func (e *Engine) run(cfg model.RunConfig, stop, done chan struct{}) {
	defer close(done)
	defer e.finishRun()
	slog.Info("run started", "auto_approve", cfg.AutoApprove)

	for {
		if e.stopRequestedNow() {
			slog.Info("run stopped on request")
			return
		}
		id := e.nextEligible(cfg)
		if id == "" {
			slog.Info("run complete, no eligible items")
			return
		}
		e.processItem(cfg, id, stop)
		if e.stopRequestedNow() {
			slog.Info("run stopped on request")
			return
		}
		// Cool-down between items to avoid bursting the provider.
		if !e.sleep(e.cooldown, stop) {
			return
		}
	}
}

func (e *Engine) finishRun() {
	e.mu.Lock()
	e.processing = false
	e.stopRequested = false
	e.runCfg = nil
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
}

// nextEligible returns the ID of the first item the scheduler may drive, or
// "" when the run is naturally complete.
func (e *Engine) nextEligible(cfg model.RunConfig) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.queue {
		it := &e.queue[i]
		switch it.Status {
		case model.StatusPending, model.StatusError:
			return it.ID
		case model.StatusOutlineReady:
			// Phase 2 must never start without an outline.
			if strings.TrimSpace(it.Outline) != "" {
				return it.ID
			}
		}
	}
	return ""
}

// processItem drives one item through whichever phases its status calls
// for: phase 1 (outline), then, when eligible, phase 2 (content).
func (e *Engine) processItem(cfg model.RunConfig, id string, stop <-chan struct{}) {
	ctx := context.Background()

	item, ok := e.getItem(id)
	if !ok {
		return
	}

	// ERROR items that already hold an outline resume at phase 2 instead of
	// regenerating a possibly good outline.
	needsOutline := item.Status == model.StatusPending ||
		(item.Status == model.StatusError && strings.TrimSpace(item.Outline) == "")

	if needsOutline {
		if e.runPhase(ctx, cfg, id, phaseOutline, stop) != phaseOK {
			return
		}
		if !cfg.AutoApprove {
			// Human checkpoint: the item sits in PAUSED_FOR_REVIEW until
			// UpdateOutline approves it.
			return
		}
	}

	if e.stopRequestedNow() {
		return
	}
	item, ok = e.getItem(id)
	if !ok {
		return
	}
	switch item.Status {
	case model.StatusOutlineReady:
	case model.StatusError:
		if strings.TrimSpace(item.Outline) == "" {
			return
		}
	default:
		return
	}
	e.runPhase(ctx, cfg, id, phaseContent, stop)
}

type phaseKind int

const (
	phaseOutline phaseKind = iota + 1
	phaseContent
)

func (k phaseKind) String() string {
	if k == phaseOutline {
		return "outline"
	}
	return "content"
}

type phaseResult int

const (
	phaseOK phaseResult = iota
	phaseFailed
	phaseAborted
)

// runPhase executes one phase for one item under the retry policy. Every
// failed attempt updates the item's retry state so observers see live
// progress; the circuit breaker check runs on every failure.
func (e *Engine) runPhase(ctx context.Context, cfg model.RunConfig, id string, phase phaseKind, stop <-chan struct{}) phaseResult {
	working := model.StatusDraftingOutline
	if phase == phaseContent {
		working = model.StatusGeneratingContent
	}

	var topic, outline string
	ok := e.updateItem(id, func(it *model.Item) {
		it.Status = working
		topic, outline = it.Topic, it.Outline
	})
	if !ok {
		return phaseAborted
	}

	for attempt := 0; ; attempt++ {
		var text string
		var err error
		if phase == phaseOutline {
			text, err = e.gen.GenerateOutline(ctx, cfg, topic)
		} else {
			text, err = e.gen.GenerateContent(ctx, cfg, topic, outline)
		}
		if err == nil {
			e.phaseSuccess(cfg, id, phase, text)
			return phaseOK
		}

		slog.Warn("phase attempt failed",
			"item_id", id, "phase", phase.String(), "attempt", attempt+1, "error", err)
		failures := e.recordFailure(id, attempt, err)

		d := e.policy.Decide(attempt, err, failures)
		if d.OpenBreaker {
			e.tripBreaker(id)
			return phaseFailed
		}
		if !d.Retry {
			e.updateItem(id, func(it *model.Item) { it.Status = model.StatusError })
			return phaseFailed
		}
		if !e.sleep(d.Delay, stop) {
			// Stopped during backoff: the phase never completed, so the
			// item leaves the in-flight status with its last failure intact.
			e.updateItem(id, func(it *model.Item) { it.Status = model.StatusError })
			return phaseAborted
		}
	}
}

// phaseSuccess applies a successful phase result: failure state clears, the
// status advances, the cross-item failure streak resets, and the artifact
// is saved best-effort.
func (e *Engine) phaseSuccess(cfg model.RunConfig, id string, phase phaseKind, text string) {
	var artifact *model.Artifact

	e.mu.Lock()
	e.consecutiveFailures = 0
	if idx := e.indexOfLocked(id); idx >= 0 {
		it := &e.queue[idx]
		it.RetryCount = 0
		it.ErrorMsg = ""
		switch phase {
		case phaseOutline:
			it.Outline = text
			if cfg.AutoApprove {
				it.Status = model.StatusOutlineReady
			} else {
				it.Status = model.StatusPausedForReview
			}
			a := model.NewArtifact(uuid.New().String(), *it, model.ArtifactOutline, text)
			artifact = &a
		case phaseContent:
			it.Status = model.StatusDone
			a := model.NewArtifact(uuid.New().String(), *it, model.ArtifactContent, text)
			artifact = &a
		}
		it.Touch()
	}
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)

	if artifact != nil {
		// Artifact save failure is non-fatal and does not alter item status.
		if err := e.repo.SaveArtifact(context.Background(), *artifact); err != nil {
			slog.Error("artifact save failed", "item_id", id, "kind", artifact.Kind, "error", err)
		}
	}
}

// recordFailure updates the item's retry state and the cross-item failure
// streak, returning the new streak count.
func (e *Engine) recordFailure(id string, attempt int, err error) int {
	e.mu.Lock()
	e.consecutiveFailures++
	failures := e.consecutiveFailures
	if idx := e.indexOfLocked(id); idx >= 0 {
		it := &e.queue[idx]
		it.RetryCount = attempt + 1
		it.ErrorMsg = fmt.Sprintf("attempt %d/%d: %v", attempt+1, e.policy.MaxAttempts, err)
		it.Touch()
	}
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
	return failures
}

// tripBreaker opens the circuit, forces the current item to ERROR with a
// distinguishing message, and requests the run to stop.
func (e *Engine) tripBreaker(id string) {
	e.mu.Lock()
	e.circuitOpen = true
	if e.processing && !e.stopRequested {
		e.stopRequested = true
		close(e.stopCh)
	}
	if idx := e.indexOfLocked(id); idx >= 0 {
		it := &e.queue[idx]
		it.Status = model.StatusError
		it.ErrorMsg = "circuit open: " + it.ErrorMsg
		it.Touch()
	}
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	slog.Error("circuit breaker opened", "item_id", id, "threshold", e.policy.BreakerThreshold)
	deliver(subs, snap)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (e *Engine) stopRequestedNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

func (e *Engine) getItem(id string) (model.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexOfLocked(id); idx >= 0 {
		return e.queue[idx], true
	}
	return model.Item{}, false
}

// updateItem mutates the item under the lock, persists, and notifies.
// Reports false when the item no longer exists (removed mid-run).
func (e *Engine) updateItem(id string, f func(it *model.Item)) bool {
	e.mu.Lock()
	idx := e.indexOfLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	f(&e.queue[idx])
	e.queue[idx].Touch()
	e.persistLocked()
	snap, subs := e.snapshotLocked(), e.subsLocked()
	e.mu.Unlock()
	deliver(subs, snap)
	return true
}

func (e *Engine) indexOfLocked(id string) int {
	for i := range e.queue {
		if e.queue[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked saves the queue snapshot best-effort. Persistence failures
// are logged and never alter in-memory state.
func (e *Engine) persistLocked() {
	items := append([]model.Item(nil), e.queue...)
	if err := e.repo.SaveQueue(context.Background(), items); err != nil {
		slog.Error("queue snapshot save failed", "error", err)
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Queue:        append([]model.Item(nil), e.queue...),
		IsProcessing: e.processing,
		CircuitOpen:  e.circuitOpen,
	}
	if e.circuitOpen {
		s.CircuitLabel = fmt.Sprintf("circuit open (%d consecutive failures)", e.consecutiveFailures)
	}
	if e.runCfg != nil {
		cfg := *e.runCfg
		s.Run = &cfg
	}
	return s
}

func (e *Engine) subsLocked() []subscriber {
	return append([]subscriber(nil), e.subs...)
}

// deliver notifies subscribers synchronously in registration order.
func deliver(subs []subscriber, snap Snapshot) {
	for _, s := range subs {
		s.fn(snap)
	}
}

// waitOrStop sleeps for d unless stop closes first.
func waitOrStop(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
