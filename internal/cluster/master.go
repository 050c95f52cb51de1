package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/eventstore"
	"github.com/mattjoyce/autoclient/internal/events"
	"github.com/mattjoyce/autoclient/internal/health"
	"github.com/mattjoyce/autoclient/internal/message"
	"github.com/mattjoyce/autoclient/internal/metrics"
	"github.com/mattjoyce/autoclient/internal/poll"
	"github.com/mattjoyce/autoclient/internal/processor"
	"github.com/mattjoyce/autoclient/internal/protocol"
	"github.com/mattjoyce/autoclient/internal/queue"
)

const (
	drainPollInterval = 100 * time.Millisecond
	workerDiedMessage = "worker died"
	shutdownMessage   = "client shutting down"
	// settledTTL is how long a finished invocation is remembered so that
	// statuses and messages its worker sends after the result still reach
	// the right transport.
	settledTTL = time.Minute
)

// ErrNoWorker means every live worker is at capacity, or none is live.
var ErrNoWorker = errors.New("no worker available")

// Upstream is where the master relays what workers produce. The context
// passed to it is the one the invocation was dispatched with.
type Upstream interface {
	SendStatusMessage(ctx context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error
	Deliver(ctx context.Context, req processor.Request, ac *automation.AutomationContext, out *automation.OutgoingMessage) error
	SendBackoff(d time.Duration) error
}

// Connection reports the state of the backend connection.
type Connection interface {
	Connected() bool
	Registered() bool
}

// MasterOptions wires optional collaborators into a Master.
type MasterOptions struct {
	Listeners  automation.Listeners
	Recorder   message.Recorder
	Metrics    *metrics.Metrics
	Hub        *events.Hub
	Connection Connection
	// OnShutdownRequest is called when a worker asks for the process to stop.
	OnShutdownRequest func()
}

type tracked struct {
	entry    *queue.Entry
	workerID int
}

// invocation is what the master remembers about a dispatched invocation.
type invocation struct {
	ctx      context.Context
	hc       *automation.HandlerContext
	workerID int
	settled  time.Time
}

// Master queues invocations and fans them out to the worker pool.
type Master struct {
	cfg      *config.Store
	pool     Pool
	upstream Upstream
	opts     MasterOptions
	proc     *processor.Processor
	logger   *slog.Logger

	mu           sync.Mutex
	queue        *queue.Queue
	commands     map[string]*tracked
	events       map[string]*tracked
	invocations  map[string]*invocation
	registration *automation.Registration
	backoff      bool
	shutdown     bool

	intn func(n int) int
	now  func() time.Time
}

// NewMaster returns a master that runs the full listener chain itself and
// hands only the handler invocation to a worker.
func NewMaster(cfg *config.Store, pool Pool, upstream Upstream, opts MasterOptions, logger *slog.Logger) *Master {
	m := &Master{
		cfg:         cfg,
		pool:        pool,
		upstream:    upstream,
		opts:        opts,
		logger:      logger,
		queue:       queue.New(),
		commands:    make(map[string]*tracked),
		events:      make(map[string]*tracked),
		invocations: make(map[string]*invocation),
		intn:        rand.IntN,
		now:         time.Now,
	}
	popts := []processor.Option{
		processor.WithListeners(opts.Listeners...),
		processor.WithInvoker(dispatcher{m: m}),
		processor.WithFinalizer(workerFinalizer{m: m, listeners: opts.Listeners}),
	}
	if opts.Recorder != nil {
		popts = append(popts, processor.WithRecorder(opts.Recorder))
	}
	m.proc = processor.New(cfg, nil, relay{m: m}, logger, popts...)
	return m
}

// Run starts the worker pool and runs the backoff check until ctx is done.
func (m *Master) Run(ctx context.Context) error {
	if err := m.pool.Start(ctx, m); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	timer := time.NewTimer(m.cfg.Get().BackoffInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.checkBackoff()
			timer.Reset(m.cfg.Get().BackoffInterval())
		}
	}
}

// ProcessCommand runs cmd through the pipeline with a worker as the handler.
func (m *Master) ProcessCommand(ctx context.Context, cmd *automation.Command, callback func(automation.HandlerResult)) automation.HandlerResult {
	return m.proc.ProcessCommand(ctx, cmd, callback)
}

// ProcessEvent runs ev through the pipeline with a worker as the handler.
func (m *Master) ProcessEvent(ctx context.Context, ev *automation.Event, callback func([]automation.HandlerResult)) []automation.HandlerResult {
	return m.proc.ProcessEvent(ctx, ev, callback)
}

// DispatchCommand and DispatchEvent let the master receive WebSocket
// invocations directly.
func (m *Master) DispatchCommand(ctx context.Context, cmd *automation.Command) {
	m.ProcessCommand(ctx, cmd, nil)
}

func (m *Master) DispatchEvent(ctx context.Context, ev *automation.Event) {
	m.ProcessEvent(ctx, ev, nil)
}

// dispatch queues msg for a worker and waits for the worker's result. The
// invocation is remembered past the result for late statuses and messages.
func (m *Master) dispatch(ctx context.Context, kind queue.Kind, msg *protocol.Message, hc *automation.HandlerContext) (*protocol.Message, error) {
	id := hc.InvocationID
	m.mu.Lock()
	m.pruneLocked()
	m.invocations[id] = &invocation{ctx: ctx, hc: hc}
	m.mu.Unlock()

	d := m.enqueue(ctx, kind, msg)
	reply, err := d.Result.Wait(ctx)

	m.mu.Lock()
	if inv, ok := m.invocations[id]; ok {
		inv.settled = m.now()
	}
	m.mu.Unlock()
	return reply, err
}

// pruneLocked forgets invocations settled longer than settledTTL ago.
func (m *Master) pruneLocked() {
	cutoff := m.now().Add(-settledTTL)
	for id, inv := range m.invocations {
		if !inv.settled.IsZero() && inv.settled.Before(cutoff) {
			delete(m.invocations, id)
		}
	}
}

func (m *Master) lookup(invocationID string) (invocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[invocationID]
	if !ok {
		return invocation{}, false
	}
	return *inv, true
}

func newHandlerContext(ac *automation.AutomationContext) *automation.HandlerContext {
	return &automation.HandlerContext{
		WorkspaceID:   ac.WorkspaceID,
		CorrelationID: ac.CorrelationID,
		InvocationID:  ac.InvocationID,
		Ts:            ac.Ts,
		Context:       ac,
	}
}

func (m *Master) enqueue(ctx context.Context, kind queue.Kind, msg *protocol.Message) *queue.Dispatched {
	d := queue.NewDispatched(ctx)
	m.mu.Lock()
	m.queue.Push(&queue.Entry{Kind: kind, Message: msg, Dispatched: d})
	m.observeLocked()
	m.mu.Unlock()

	m.logger.Debug("queued invocation", "kind", kind, "invocation_id", msg.AutomationContext().InvocationID)
	m.startMessages()
	return d
}

// startMessages hands queued entries to workers until the queue is empty or
// every worker is at capacity.
func (m *Master) startMessages() {
	for m.startMessage() {
	}
}

// startMessage assigns the highest-priority entry, dropping it if its caller
// has gone. It reports whether the next entry should be tried.
func (m *Master) startMessage() bool {
	m.mu.Lock()
	entry, ok := m.queue.Pop()
	if !ok {
		m.mu.Unlock()
		return false
	}
	if err := entry.Dispatched.Ctx.Err(); err != nil {
		m.observeLocked()
		m.mu.Unlock()
		m.logger.Debug("dropping abandoned invocation", "invocation_id", entry.InvocationID(), "error", err)
		return true
	}
	w, dead, err := m.assignWorkerLocked()
	if err != nil {
		m.queue.Push(entry)
		m.mu.Unlock()
		m.failDead(dead)
		return false
	}
	t := &tracked{entry: entry, workerID: w.ID()}
	m.trackingFor(entry.Kind)[entry.InvocationID()] = t
	m.observeLocked()
	m.mu.Unlock()
	m.failDead(dead)

	if err := w.Send(entry.Message); err != nil {
		m.logger.Warn("failed to send to worker, requeuing", "worker", w.ID(), "invocation_id", entry.InvocationID(), "error", err)
		m.mu.Lock()
		delete(m.trackingFor(entry.Kind), entry.InvocationID())
		m.queue.Push(entry)
		m.observeLocked()
		m.mu.Unlock()
		return false
	}
	m.logger.Debug("assigned invocation", "kind", entry.Kind, "worker", w.ID(), "invocation_id", entry.InvocationID())
	return true
}

// assignWorker picks a live worker with spare capacity.
func (m *Master) assignWorker() (WorkerHandle, error) {
	m.mu.Lock()
	w, dead, err := m.assignWorkerLocked()
	m.mu.Unlock()
	m.failDead(dead)
	return w, err
}

// assignWorkerLocked reconciles tracking against the live workers, then
// picks uniformly at random among those below the concurrency cap. Entries
// of dead workers are returned for the caller to fail outside the lock.
func (m *Master) assignWorkerLocked() (WorkerHandle, []*tracked, error) {
	live := m.pool.Workers()
	dead := m.reconcileLocked(live)

	load := make(map[int]int, len(live))
	for _, tracking := range []map[string]*tracked{m.commands, m.events} {
		for _, t := range tracking {
			load[t.workerID]++
		}
	}

	limit := m.cfg.Get().Cluster.MaxConcurrentPerWorker
	var candidates []WorkerHandle
	for _, w := range live {
		if load[w.ID()] < limit {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, dead, ErrNoWorker
	}
	return candidates[m.intn(len(candidates))], dead, nil
}

// reconcileLocked drops tracked entries whose worker is not live.
func (m *Master) reconcileLocked(live []WorkerHandle) []*tracked {
	ids := make(map[int]bool, len(live))
	for _, w := range live {
		ids[w.ID()] = true
	}
	var dead []*tracked
	for _, tracking := range []map[string]*tracked{m.commands, m.events} {
		for id, t := range tracking {
			if !ids[t.workerID] {
				delete(tracking, id)
				dead = append(dead, t)
				if inv, ok := m.invocations[id]; ok {
					inv.workerID = t.workerID
				}
			}
		}
	}
	if len(dead) > 0 {
		m.observeLocked()
	}
	return dead
}

// failDead resolves the callers of entries lost with their worker.
func (m *Master) failDead(dead []*tracked) {
	for _, t := range dead {
		m.logger.Warn("dropping invocation of dead worker", "worker", t.workerID, "invocation_id", t.entry.InvocationID())
		fail(t.entry, t.workerID, workerDiedMessage)
	}
}

// fail resolves the caller of entry with a failure result.
func fail(entry *queue.Entry, workerID int, reason string) {
	ac := entry.Message.AutomationContext()
	failure := automation.Failure(ac, nil)
	failure.Message = reason
	typ := protocol.TypeCommandFailure
	if entry.Kind == queue.KindEvent {
		typ = protocol.TypeEventFailure
	}
	msg := protocol.New(typ)
	msg.WorkerID = workerID
	msg.Context = ac
	msg.Results = []automation.HandlerResult{failure}
	_ = entry.Dispatched.Result.Resolve(msg)
}

func (m *Master) trackingFor(kind queue.Kind) map[string]*tracked {
	if kind == queue.KindCommand {
		return m.commands
	}
	return m.events
}

// HandleMessage processes one message from a worker.
func (m *Master) HandleMessage(workerID int, msg *protocol.Message) {
	logger := m.logger.With("worker", workerID)
	switch msg.Type {
	case protocol.TypeOnline:
		logger.Info("worker online")
		m.mu.Lock()
		reg := m.registration
		m.mu.Unlock()
		if reg != nil {
			m.sendRegistration(workerID, reg)
		}
		m.startMessages()

	case protocol.TypeStatus:
		m.relayStatus(logger, msg)

	case protocol.TypeMessage:
		m.relayMessage(logger, workerID, msg)

	case protocol.TypeShutdown:
		logger.Info("worker requested shutdown")
		if m.opts.OnShutdownRequest != nil {
			m.opts.OnShutdownRequest()
		}

	default:
		if !msg.IsResult() {
			logger.Warn("unexpected worker message", "type", msg.Type)
			return
		}
		m.complete(logger, workerID, msg)
		m.startMessages()
	}
}

func (m *Master) complete(logger *slog.Logger, workerID int, msg *protocol.Message) {
	id := msg.Context.InvocationID
	kind := queue.KindCommand
	if msg.Type == protocol.TypeEventSuccess || msg.Type == protocol.TypeEventFailure {
		kind = queue.KindEvent
	}

	m.mu.Lock()
	tracking := m.trackingFor(kind)
	t, ok := tracking[id]
	delete(tracking, id)
	if inv, found := m.invocations[id]; found {
		inv.workerID = workerID
	}
	m.observeLocked()
	m.mu.Unlock()

	if !ok {
		logger.Warn("result for untracked invocation", "type", msg.Type, "invocation_id", id)
		return
	}
	logger.Debug("invocation completed", "invocation_id", id, "success", msg.Succeeded())
	if err := t.entry.Dispatched.Result.Resolve(msg); err != nil {
		logger.Warn("invocation already resolved", "invocation_id", id)
	}
}

// relayStatus forwards a worker's status over the transport the invocation
// arrived on.
func (m *Master) relayStatus(logger *slog.Logger, msg *protocol.Message) {
	ctx := context.Background()
	if inv, ok := m.lookup(msg.Context.InvocationID); ok {
		ctx = inv.ctx
	}
	if err := m.upstream.SendStatusMessage(ctx, msg.Status, msg.Context); err != nil {
		logger.Warn("failed to relay status", "invocation_id", msg.Context.InvocationID, "error", err)
	}
}

// relayMessage sends a worker's message through the message client of its
// invocation, so the listener chain and the journal see it before the
// upstream does.
func (m *Master) relayMessage(logger *slog.Logger, workerID int, msg *protocol.Message) {
	ac := msg.Context
	ctx := automation.WithContext(context.Background(), ac)
	var mc automation.MessageClient
	if inv, ok := m.lookup(ac.InvocationID); ok && inv.hc.MessageClient != nil {
		ctx, mc = inv.ctx, inv.hc.MessageClient
	} else {
		mc = message.New(relayClient{up: m.upstream, ac: ac}, m.opts.Listeners, m.opts.Recorder, newHandlerContext(ac), logger)
	}
	ctx = eventstore.WithWorkerID(ctx, workerID)

	out := msg.Outgoing
	var err error
	switch out.Kind {
	case automation.MessageRespond:
		err = mc.Respond(ctx, out.Message, out.Options)
	case automation.MessageSend:
		err = mc.Send(ctx, out.Message, out.Destinations, out.Options)
	case automation.MessageDelete:
		err = mc.Delete(ctx, out.Destinations, out.Options)
	default:
		err = fmt.Errorf("unknown message kind %q", out.Kind)
	}
	if err != nil {
		logger.Warn("failed to relay message", "invocation_id", ac.InvocationID, "error", err)
	}
}

// WorkerExited fails the invocations of the worker and keeps the queue moving.
func (m *Master) WorkerExited(workerID int, err error) {
	m.mu.Lock()
	dead := m.reconcileLocked(m.pool.Workers())
	m.mu.Unlock()
	m.failDead(dead)

	if m.opts.Hub != nil {
		data := map[string]any{"worker": workerID, "dropped": len(dead)}
		if err != nil {
			data["error"] = err.Error()
		}
		m.opts.Hub.Publish(events.TypeWorkerExited, data)
	}
	m.startMessages()
}

// RegistrationSuccessful hands the registration to every worker.
func (m *Master) RegistrationSuccessful(_ context.Context, reg *automation.Registration) error {
	m.mu.Lock()
	m.registration = reg
	m.mu.Unlock()
	for _, w := range m.pool.Workers() {
		m.sendRegistration(w.ID(), reg)
	}
	return nil
}

func (m *Master) sendRegistration(workerID int, reg *automation.Registration) {
	for _, w := range m.pool.Workers() {
		if w.ID() != workerID {
			continue
		}
		msg := protocol.New(protocol.TypeRegistration)
		msg.Registration = reg
		if err := w.Send(msg); err != nil {
			m.logger.Warn("failed to send registration", "worker", workerID, "error", err)
		}
	}
}

// checkBackoff asks the backend to pause while the queue is at or above the
// threshold. Settings are read from the live config on every call.
func (m *Master) checkBackoff() {
	cfg := m.cfg.Get()
	threshold := cfg.BackoffThreshold()

	m.mu.Lock()
	n := m.queue.Len()
	was := m.backoff
	m.backoff = n >= threshold
	now := m.backoff
	m.mu.Unlock()

	if now {
		if err := m.upstream.SendBackoff(cfg.BackoffDuration()); err != nil {
			m.logger.Warn("failed to send backoff", "error", err)
		}
	}
	if now == was {
		return
	}

	if now {
		m.logger.Warn("queue above threshold, backing off", "queued", n, "threshold", threshold, "duration", cfg.BackoffDuration())
	} else {
		m.logger.Info("queue below threshold, backoff lifted", "queued", n, "threshold", threshold)
	}
	if m.opts.Metrics != nil {
		v := 0.0
		if now {
			v = 1
		}
		m.opts.Metrics.Backoff.Set(v)
	}
	if m.opts.Hub != nil {
		m.opts.Hub.Publish(events.TypeBackoff, map[string]any{"active": now, "queued": n, "threshold": threshold})
	}
}

// BackingOff reports whether the last check asked the backend to pause.
func (m *Master) BackingOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff
}

// Pending returns the number of queued and in-flight invocations.
func (m *Master) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len() + len(m.commands) + len(m.events)
}

// Shutdown drains the master. Only the first call does anything. With
// graceful termination it waits for queued and in-flight work, then asks
// every worker to stop and finally kills the stragglers. Timeouts are logged
// and never block the exit.
func (m *Master) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.mu.Unlock()

	m.pool.StopReplacing()
	term := m.cfg.Get().WS.Termination
	if term.Graceful {
		m.logger.Info("draining cluster", "pending", m.Pending(), "grace_period", term.GracePeriod)
		if err := poll.Until(ctx, drainPollInterval, term.GracePeriod, func() bool { return m.Pending() == 0 }); err != nil {
			m.logger.Warn("cluster drain incomplete", "pending", m.Pending(), "error", err)
		}
	}

	m.mu.Lock()
	left := m.queue.Drain()
	m.observeLocked()
	m.mu.Unlock()
	if len(left) > 0 {
		m.logger.Warn("failing queued invocations", "count", len(left))
	}
	for _, e := range left {
		fail(e, 0, shutdownMessage)
	}

	for _, w := range m.pool.Workers() {
		msg := protocol.New(protocol.TypeShutdown)
		msg.Graceful = term.Graceful
		if err := w.Send(msg); err != nil {
			m.logger.Warn("failed to send shutdown", "worker", w.ID(), "error", err)
		}
	}
	if err := poll.Until(ctx, drainPollInterval, term.GracePeriod, func() bool { return len(m.pool.Workers()) == 0 }); err != nil {
		m.logger.Warn("workers still running after shutdown", "workers", len(m.pool.Workers()), "error", err)
	}
	m.pool.Kill()

	m.mu.Lock()
	dead := m.reconcileLocked(m.pool.Workers())
	m.mu.Unlock()
	m.failDead(dead)
}

// Health is up iff the backend connection is open and registered. The
// detail lists what is in flight.
func (m *Master) Health() health.Status {
	up := m.opts.Connection != nil && m.opts.Connection.Connected() && m.opts.Connection.Registered()

	m.mu.Lock()
	detail := map[string]any{
		"commands": operations(m.commands),
		"events":   operations(m.events),
		"queued":   m.queue.Len(),
		"backoff":  m.backoff,
	}
	m.mu.Unlock()
	detail["workers"] = len(m.pool.Workers())
	return health.Status{Up: up, Detail: detail}
}

func operations(tracking map[string]*tracked) []string {
	out := make([]string, 0, len(tracking))
	for _, t := range tracking {
		if ac := t.entry.Message.AutomationContext(); ac != nil {
			out = append(out, ac.Operation)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Master) observeLocked() {
	if m.opts.Metrics == nil {
		return
	}
	m.opts.Metrics.QueueLength.Set(float64(m.queue.Len()))
	m.opts.Metrics.InFlight.WithLabelValues(queue.KindCommand.String()).Set(float64(len(m.commands)))
	m.opts.Metrics.InFlight.WithLabelValues(queue.KindEvent.String()).Set(float64(len(m.events)))
}

// dispatcher is the invoker of the master's pipeline: the handler runs on a
// worker and its result comes back over IPC.
type dispatcher struct {
	m *Master
}

func (d dispatcher) InvokeCommand(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
	out := cmd.Clone()
	out.Context = hc.Context
	msg := protocol.New(protocol.TypeCommand)
	msg.Command = out
	reply, err := d.m.dispatch(ctx, queue.KindCommand, msg, hc)
	if err != nil {
		return nil, err
	}
	if len(reply.Results) == 0 {
		if !reply.Succeeded() {
			return nil, errors.New("worker reported a failure without a result")
		}
		return nil, nil
	}
	return &reply.Results[0], nil
}

func (d dispatcher) OnEvent(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) ([]automation.HandlerResult, error) {
	out := ev.Clone()
	out.Context = hc.Context
	msg := protocol.New(protocol.TypeEvent)
	msg.Event = out
	reply, err := d.m.dispatch(ctx, queue.KindEvent, msg, hc)
	if err != nil {
		return nil, err
	}
	if len(reply.Results) == 0 && !reply.Succeeded() {
		return nil, errors.New("worker reported a failure without a result")
	}
	return reply.Results, nil
}

// workerFinalizer runs the result listeners with the id of the worker that
// produced the result on the context.
type workerFinalizer struct {
	m         *Master
	listeners automation.Listeners
}

func (f workerFinalizer) context(ctx context.Context, hc *automation.HandlerContext) context.Context {
	if inv, ok := f.m.lookup(hc.InvocationID); ok && inv.workerID != 0 {
		return eventstore.WithWorkerID(ctx, inv.workerID)
	}
	return ctx
}

func (f workerFinalizer) CommandSucceeded(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.listeners.CommandSuccessful(f.context(ctx, hc), cmd, hc, result)
}

func (f workerFinalizer) CommandFailed(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.listeners.CommandFailed(f.context(ctx, hc), cmd, hc, result)
}

func (f workerFinalizer) EventSucceeded(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.listeners.EventSuccessful(f.context(ctx, hc), ev, hc, results)
}

func (f workerFinalizer) EventFailed(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.listeners.EventFailed(f.context(ctx, hc), ev, hc, results)
}

// relay is the transport of the master's pipeline. Workers report their own
// statuses, so the master only reports invocations that never reached one;
// failures of the cluster itself stay in the logs.
type relay struct {
	m *Master
}

func (r relay) SendStatusMessage(ctx context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error {
	if _, ok := r.m.lookup(ac.InvocationID); ok {
		return nil
	}
	return r.m.upstream.SendStatusMessage(ctx, status, ac)
}

// CreateGraphClient returns no client; handlers query the graph from the
// worker.
func (relay) CreateGraphClient(context.Context, *automation.AutomationContext) (automation.GraphClient, error) {
	return nil, nil
}

func (r relay) CreateMessageClient(_ context.Context, req processor.Request, ac *automation.AutomationContext) (automation.MessageClient, error) {
	return relayClient{up: r.m.upstream, req: req, ac: ac}, nil
}

// relayClient delivers messages to the upstream of the invocation.
type relayClient struct {
	up  Upstream
	req processor.Request
	ac  *automation.AutomationContext
}

func (c relayClient) Respond(ctx context.Context, msg any, opts *automation.MessageOptions) error {
	return c.up.Deliver(ctx, c.req, c.ac, &automation.OutgoingMessage{Kind: automation.MessageRespond, Message: msg, Options: opts})
}

func (c relayClient) Send(ctx context.Context, msg any, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.up.Deliver(ctx, c.req, c.ac, &automation.OutgoingMessage{Kind: automation.MessageSend, Message: msg, Destinations: dests, Options: opts})
}

func (c relayClient) Delete(ctx context.Context, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.up.Deliver(ctx, c.req, c.ac, &automation.OutgoingMessage{Kind: automation.MessageDelete, Destinations: dests, Options: opts})
}
