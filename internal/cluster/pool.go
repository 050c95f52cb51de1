package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/autoclient/internal/metrics"
	"github.com/mattjoyce/autoclient/internal/protocol"
)

const (
	// WorkerIDEnv carries the worker id into the worker process.
	WorkerIDEnv = "AUTOCLIENT_WORKER_ID"

	terminationGracePeriod = 5 * time.Second
	respawnDelay           = time.Second
)

// ErrPoolStopped is returned when sending to a worker that has exited.
var ErrPoolStopped = errors.New("worker is not running")

// WorkerHandle is the master's view of one live worker.
type WorkerHandle interface {
	ID() int
	Send(msg *protocol.Message) error
}

// Handler receives what workers send and when they exit.
type Handler interface {
	HandleMessage(workerID int, msg *protocol.Message)
	WorkerExited(workerID int, err error)
}

// Pool is the set of worker processes the master assigns work to.
type Pool interface {
	// Start launches the workers. Messages and exits go to h.
	Start(ctx context.Context, h Handler) error
	// Workers returns the workers that announced themselves online and have
	// not exited.
	Workers() []WorkerHandle
	// StopReplacing stops replacing workers that exit.
	StopReplacing()
	// Kill terminates every remaining worker.
	Kill()
}

// ProcessPoolOptions configures a ProcessPool.
type ProcessPoolOptions struct {
	Size func() int
	// Path and Args of the worker binary; Path defaults to the running
	// executable.
	Path string
	Args []string
	Env  []string

	Stderr  io.Writer
	Metrics *metrics.Metrics
}

// ProcessPool runs workers as child processes of the same binary.
type ProcessPool struct {
	opts   ProcessPoolOptions
	logger *slog.Logger

	mu        sync.Mutex
	procs     map[int]*process
	nextID    int
	replacing bool
	handler   Handler
	wg        sync.WaitGroup
}

func NewProcessPool(opts ProcessPoolOptions, logger *slog.Logger) *ProcessPool {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &ProcessPool{
		opts:      opts,
		logger:    logger,
		procs:     make(map[int]*process),
		replacing: true,
	}
}

type process struct {
	id  int
	cmd *exec.Cmd
	enc *protocol.Encoder

	mu     sync.Mutex
	online bool
	exited bool
	done   chan struct{}
}

func (p *process) ID() int { return p.id }

func (p *process) Send(msg *protocol.Message) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return ErrPoolStopped
	}
	return p.enc.Encode(msg)
}

func (p *process) live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online && !p.exited
}

func (pp *ProcessPool) Start(ctx context.Context, h Handler) error {
	pp.mu.Lock()
	pp.handler = h
	pp.mu.Unlock()

	n := pp.opts.Size()
	for range n {
		if err := pp.spawn(ctx); err != nil {
			return err
		}
	}
	pp.logger.Info("worker pool started", "workers", n)
	return nil
}

func (pp *ProcessPool) spawn(ctx context.Context) error {
	path := pp.opts.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	pp.mu.Lock()
	pp.nextID++
	id := pp.nextID
	pp.mu.Unlock()

	cmd := exec.Command(path, pp.opts.Args...)
	cmd.Env = append(append(os.Environ(), pp.opts.Env...), WorkerIDEnv+"="+strconv.Itoa(id))
	cmd.Stderr = pp.opts.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %d: %w", id, err)
	}

	p := &process{
		id:   id,
		cmd:  cmd,
		enc:  protocol.NewEncoder(stdin),
		done: make(chan struct{}),
	}
	pp.mu.Lock()
	pp.procs[id] = p
	pp.mu.Unlock()
	pp.logger.Debug("spawned worker", "worker", id, "pid", cmd.Process.Pid)

	pp.wg.Add(1)
	go pp.serve(ctx, p, stdout)
	return nil
}

// serve reads worker messages until stdout closes, then reaps the process.
func (pp *ProcessPool) serve(ctx context.Context, p *process, stdout io.Reader) {
	defer pp.wg.Done()

	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Decode()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				pp.logger.Warn("dropping malformed worker message", "worker", p.id, "error", de.Err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				pp.logger.Warn("worker channel failed", "worker", p.id, "error", err)
			}
			break
		}
		msg.WorkerID = p.id
		if msg.Type == protocol.TypeOnline {
			p.mu.Lock()
			p.online = true
			p.mu.Unlock()
			pp.observeWorkers()
		}
		pp.handlerFor().HandleMessage(p.id, msg)
	}

	waitErr := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	close(p.done)

	pp.mu.Lock()
	delete(pp.procs, p.id)
	replace := pp.replacing && ctx.Err() == nil
	pp.mu.Unlock()
	pp.observeWorkers()

	if replace {
		pp.logger.Warn("worker exited unexpectedly, replacing", "worker", p.id, "error", waitErr)
	} else {
		pp.logger.Info("worker exited", "worker", p.id, "error", waitErr)
	}
	pp.handlerFor().WorkerExited(p.id, waitErr)

	if !replace {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(respawnDelay):
	}
	if !pp.stillReplacing() {
		return
	}
	if pp.opts.Metrics != nil {
		pp.opts.Metrics.WorkerRestarts.Inc()
	}
	if err := pp.spawn(ctx); err != nil {
		pp.logger.Error("failed to replace worker", "error", err)
	}
}

func (pp *ProcessPool) Workers() []WorkerHandle {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	out := make([]WorkerHandle, 0, len(pp.procs))
	for _, p := range pp.procs {
		if p.live() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (pp *ProcessPool) StopReplacing() {
	pp.mu.Lock()
	pp.replacing = false
	pp.mu.Unlock()
}

// Kill sends SIGTERM to every remaining worker, then SIGKILL after a grace
// period, and waits for them to be reaped.
func (pp *ProcessPool) Kill() {
	pp.StopReplacing()
	pp.mu.Lock()
	procs := make([]*process, 0, len(pp.procs))
	for _, p := range pp.procs {
		procs = append(procs, p)
	}
	pp.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pp.terminate(p)
		}()
	}
	wg.Wait()
	pp.wg.Wait()
}

func (pp *ProcessPool) terminate(p *process) {
	if p.cmd.Process == nil {
		return
	}
	pp.logger.Warn("terminating worker", "worker", p.id)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		pp.logger.Debug("failed to send SIGTERM", "worker", p.id, "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
	case <-grace.C:
		pp.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "worker", p.id)
		if err := p.cmd.Process.Kill(); err != nil {
			pp.logger.Error("failed to send SIGKILL", "worker", p.id, "error", err)
		}
		<-p.done
	}
}

func (pp *ProcessPool) handlerFor() Handler {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.handler
}

func (pp *ProcessPool) stillReplacing() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.replacing
}

func (pp *ProcessPool) observeWorkers() {
	if pp.opts.Metrics != nil {
		pp.opts.Metrics.Workers.Set(float64(len(pp.Workers())))
	}
}

// WorkerIDFromEnv returns the id the master gave this worker process.
func WorkerIDFromEnv() (int, error) {
	raw := os.Getenv(WorkerIDEnv)
	if raw == "" {
		return 0, fmt.Errorf("%s is not set", WorkerIDEnv)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", WorkerIDEnv, err)
	}
	return id, nil
}
