package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/engine"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func frame(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestCommunicate(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	reply := []byte(`{"status":"success","message":"Alice"}`)

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: frame(reply)}

	request := []byte(`{"op":"recognize"}`)
	resp, err := w.Communicate(request)
	require.NoError(t, err)
	assert.Equal(t, reply, resp)

	// Go must have sent [len][body] to Python
	sent := stdinMock.Bytes()
	require.Len(t, sent, 4+len(request))
	assert.Equal(t, uint32(len(request)), binary.BigEndian.Uint32(sent[:4]))
	assert.Equal(t, request, sent[4:])
}

func TestCommunicate_Errors(t *testing.T) {
	tooBig := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(tooBig, binary.BigEndian, uint32(maxFrame+1))

	truncated := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(truncated, binary.BigEndian, uint32(10))
	truncated.WriteString("abc")

	tests := []struct {
		name    string
		pipe    *MockCloser
		wantErr string
	}{
		{"worker died before replying", &MockCloser{Buffer: new(bytes.Buffer)}, "read header"},
		{"oversized frame", tooBig, "exceeds limit"},
		{"truncated body", truncated, "read body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &PythonWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: tt.pipe}
			_, err := w.Communicate([]byte("{}"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newTestTransport(timeout time.Duration, spawn func(id int) (*PythonWorker, error)) *Transport {
	t := NewTransport(Options{Python: "python3", Script: "engine.py", Timeout: timeout}, zap.NewNop())
	t.spawn = spawn
	return t
}

func TestTransportCall(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	spawned := 0
	tr := newTestTransport(time.Second, func(id int) (*PythonWorker, error) {
		spawned++
		return &PythonWorker{ID: id, Stdin: stdinMock, DataPipe: frame([]byte(`{"status":"error"}`))}, nil
	})

	threshold := 0.4
	req := engine.Request{Op: engine.OpRecognize, ImagePath: "/tmp/a.jpg", GalleryPath: "/tmp/g.pkl", LivenessThreshold: &threshold}
	resp, err := tr.Call(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error"}`, string(resp))
	assert.Equal(t, 1, spawned)

	var sent engine.Request
	require.NoError(t, json.Unmarshal(stdinMock.Bytes()[4:], &sent))
	assert.Equal(t, req.ImagePath, sent.ImagePath)
	require.NotNil(t, sent.LivenessThreshold)
	assert.Equal(t, 0.4, *sent.LivenessThreshold)

	require.NoError(t, tr.Close())
}

func TestTransportRestartsAfterCrash(t *testing.T) {
	spawned := 0
	tr := newTestTransport(time.Second, func(id int) (*PythonWorker, error) {
		spawned++
		if id == 1 {
			// first worker dies without replying
			return &PythonWorker{ID: id, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}, nil
		}
		return &PythonWorker{ID: id, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: frame([]byte(`{"status":"success"}`))}, nil
	})

	_, err := tr.Call(context.Background(), engine.Request{Op: engine.OpRecognize})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")

	resp, err := tr.Call(context.Background(), engine.Request{Op: engine.OpRecognize})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(resp))
	assert.Equal(t, 2, spawned)
}

func TestTransportTimeoutKillsWorker(t *testing.T) {
	// a reader that never produces a reply until closed
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := newTestTransport(50*time.Millisecond, func(id int) (*PythonWorker, error) {
		return &PythonWorker{ID: id, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr}, nil
	})

	start := time.Now()
	_, err := tr.Call(context.Background(), engine.Request{Op: engine.OpEnroll})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, tr.worker, "timed out worker must be discarded")
}

func TestTransportSpawnFailure(t *testing.T) {
	tr := newTestTransport(time.Second, func(id int) (*PythonWorker, error) {
		return nil, errors.New("exec: python3: not found")
	})
	_, err := tr.Call(context.Background(), engine.Request{Op: engine.OpRecognize})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkerDead))
}

func TestRealWorkerReportsStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// an engine that crashes at import time
	script := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo 'ModuleNotFoundError: No module named face_recognition' >&2\nexit 1\n"), 0o755))

	tr := NewTransport(Options{Python: "sh", Script: script, Timeout: 5 * time.Second}, zap.NewNop())
	defer tr.Close()

	_, err := tr.Call(context.Background(), engine.Request{Op: engine.OpRecognize})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")
	assert.Contains(t, err.Error(), "ModuleNotFoundError")
}
