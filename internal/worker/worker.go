package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/engine"
	"github.com/andresmejia3/attendo/internal/utils" // Using the SafeCommand wrapper
)

// maxFrame caps a single response so a corrupt header cannot make us allocate gigabytes.
const maxFrame = 64 << 20

var ErrWorkerDead = errors.New("engine worker is not running")

type Options struct {
	Python  string
	Script  string
	Timeout time.Duration
}

// PythonWorker is one engine subprocess. Requests go to its stdin and replies come back
// on FD 3, both framed as [uint32 big-endian length][JSON].
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

func NewPythonWorker(id int, python, script string) (*PythonWorker, error) {
	py := utils.NewSafeCommand(python, "-u", script)

	// Side-channel pipe (FD 3) keeps replies apart from anything the engine prints
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end now
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("request too large: %d bytes", len(data))
	}
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err) // This is where an import crash shows up
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxFrame {
		return nil, fmt.Errorf("response frame of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return respBody, nil
}

// Stderr returns the captured tail of the engine's stderr.
func (w *PythonWorker) Stderr() string {
	if w.Cmd == nil {
		return ""
	}
	return strings.TrimSpace(w.Cmd.Stderr.String())
}

// Kill stops the process without waiting for a graceful exit.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
	w.Close()
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Transport is an engine.Transport backed by a single long-lived PythonWorker.
// The worker starts on the first call and is restarted after it dies.
// Calls are serialized since the pipes carry one exchange at a time.
type Transport struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	worker *PythonWorker
	nextID int
	spawn  func(id int) (*PythonWorker, error)
}

func NewTransport(opts Options, logger *zap.Logger) *Transport {
	t := &Transport{opts: opts, logger: logger.Named("worker")}
	t.spawn = func(id int) (*PythonWorker, error) {
		return NewPythonWorker(id, opts.Python, opts.Script)
	}
	return t
}

func (t *Transport) Call(ctx context.Context, req engine.Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w, err := t.ensureWorker()
	if err != nil {
		return nil, err
	}

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	type reply struct {
		data []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		data, err := w.Communicate(payload)
		done <- reply{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.discard(w)
			return nil, crashError(w.ID, r.err, w.Stderr())
		}
		return r.data, nil
	case <-ctx.Done():
		t.logger.Warn("engine call abandoned, killing worker",
			zap.Int("worker_id", w.ID),
			zap.String("op", string(req.Op)),
			zap.Error(ctx.Err()),
		)
		t.discard(w)
		<-done
		return nil, crashError(w.ID, ctx.Err(), w.Stderr())
	}
}

// Close stops the worker if one is running.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.worker != nil {
		t.worker.Close()
		t.worker = nil
	}
	return nil
}

func (t *Transport) ensureWorker() (*PythonWorker, error) {
	if t.worker != nil {
		return t.worker, nil
	}
	t.nextID++
	w, err := t.spawn(t.nextID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerDead, err)
	}
	t.logger.Info("engine worker started",
		zap.Int("worker_id", w.ID),
		zap.String("python", t.opts.Python),
		zap.String("script", t.opts.Script),
	)
	t.worker = w
	return w, nil
}

// discard kills w and forgets it so the next call starts a fresh worker.
func (t *Transport) discard(w *PythonWorker) {
	w.Kill()
	if t.worker == w {
		t.worker = nil
	}
}

func crashError(id int, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	return fmt.Errorf("worker %d: %w\nengine stderr:\n%s", id, err, stderr)
}
