package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/config"
	"github.com/andresmejia3/attendo/internal/engine"
	"github.com/andresmejia3/attendo/internal/gallery"
	"github.com/andresmejia3/attendo/internal/outcome"
	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/remote"
	"github.com/andresmejia3/attendo/internal/store"
	"github.com/andresmejia3/attendo/internal/types"
	"github.com/andresmejia3/attendo/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:   "test",
		LogLevel:      "error",
		DataDir:       t.TempDir(),
		MaxEdge:       1024,
		JPEGQuality:   85,
		Engine:        config.EngineWorker,
		EnginePython:  "python3",
		EngineScript:  "does-not-exist.py",
		EngineURL:     "http://127.0.0.1:1",
		EngineTimeout: 5 * time.Second,
		ListenAddr:    ":0",
	}
}

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestBuildAttendRequest(t *testing.T) {
	dir := t.TempDir()
	photo := writeJPEG(t, dir, "photo.jpg")

	tests := []struct {
		name          string
		opts          attendOptions
		thresholdSet  bool
		wantErr       bool
		wantImage     bool
		wantThreshold *float64
		wantGuidance  types.FaceGuidanceStatus
	}{
		{
			name: "No image leaves the request empty",
			opts: attendOptions{},
		},
		{
			name:      "Image without threshold",
			opts:      attendOptions{ImagePath: photo, Threshold: 0.7},
			wantImage: true,
		},
		{
			name:          "Explicit zero threshold is kept",
			opts:          attendOptions{ImagePath: photo},
			thresholdSet:  true,
			wantImage:     true,
			wantThreshold: new(float64),
		},
		{
			name:         "Guidance is parsed",
			opts:         attendOptions{ImagePath: photo, Guidance: "Too_Far"},
			wantImage:    true,
			wantGuidance: types.GuidanceTooFar,
		},
		{
			name:    "Unknown guidance",
			opts:    attendOptions{ImagePath: photo, Guidance: "sideways"},
			wantErr: true,
		},
		{
			name:    "Image does not exist",
			opts:    attendOptions{ImagePath: filepath.Join(dir, "missing.jpg")},
			wantErr: true,
		},
		{
			name:    "Image is a directory",
			opts:    attendOptions{ImagePath: dir},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildAttendRequest(tt.opts, tt.thresholdSet)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantImage, req.Image != nil)
			assert.Equal(t, tt.wantThreshold, req.LivenessThreshold)
			assert.Equal(t, tt.wantGuidance, req.Guidance)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&dbURL, "db", "", "")
	c.Flags().StringVar(&dataDir, "data-dir", "", "")
	c.Flags().StringVar(&engineID, "engine", "", "")
	c.Flags().StringVar(&logLevel, "log-level", "", "")
	require.NoError(t, c.Flags().Parse([]string{"--data-dir", "/srv/attendo", "--engine", "http"}))

	conf := &config.Config{
		DataDir:     "./data",
		Engine:      config.EngineWorker,
		LogLevel:    "info",
		DatabaseURL: "postgres://env/attendo",
	}
	applyFlags(c, conf)

	assert.Equal(t, "/srv/attendo", conf.DataDir)
	assert.Equal(t, config.EngineHTTP, conf.Engine)
	assert.Equal(t, "info", conf.LogLevel, "unset flags keep the environment value")
	assert.Equal(t, "postgres://env/attendo", conf.DatabaseURL)
}

func TestNewTransport(t *testing.T) {
	conf := testConfig(t)
	tr := newTransport(conf, zap.NewNop())
	assert.IsType(t, &worker.Transport{}, tr)

	conf.Engine = config.EngineHTTP
	tr = newTransport(conf, zap.NewNop())
	assert.IsType(t, &remote.Client{}, tr)
}

func TestRunnerOverHTTPEngine(t *testing.T) {
	var got engine.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","message":"Welcome Alice","attendance_time":"09:00","light_threshold":0.5,"recognition_threshold":0.6}`))
	}))
	defer srv.Close()

	conf := testConfig(t)
	conf.Engine = config.EngineHTTP
	conf.EngineURL = srv.URL
	photo := writeJPEG(t, t.TempDir(), "photo.jpg")

	runner, client := newRunner(conf)
	defer client.Close()

	img, err := types.NewCapturedImage(photo)
	require.NoError(t, err)
	o := runner.Attend(context.Background(), pipeline.AttendRequest{Image: img})

	require.Equal(t, outcome.Recognized, o.Kind, o.Reason)
	assert.Equal(t, "Welcome Alice", o.Message)
	assert.Equal(t, conf.GalleryPath(), got.GalleryPath)
	assert.Nil(t, got.LivenessThreshold)
	assert.FileExists(t, conf.GalleryPath(), "gallery is seeded on first use")

	var out bytes.Buffer
	require.NoError(t, finish(&out, "Attendance failed", o))
	assert.Contains(t, out.String(), "✅ Message: Welcome Alice")
	assert.Contains(t, out.String(), "Time Attendance: 09:00")
}

func TestRunnerWithoutPhotoNeverStartsEngine(t *testing.T) {
	runner, client := newRunner(testConfig(t))
	defer client.Close()

	o := runner.Attend(context.Background(), pipeline.AttendRequest{})
	assert.Equal(t, outcome.Failed, o.Kind)
	assert.ErrorIs(t, o.Err, types.ErrNoPhotoCaptured)

	var out bytes.Buffer
	assert.ErrorIs(t, finish(&out, "Attendance failed", o), errRunFailed)
	assert.Equal(t, "❌ Error: Please take a picture\n", out.String())
}

func TestReport(t *testing.T) {
	tests := []struct {
		o    outcome.Outcome
		want string
	}{
		{outcome.Outcome{Kind: outcome.Rejected, Message: "Spoof detected"}, "🚫 Message: Spoof detected"},
		{outcome.Outcome{Kind: outcome.Unknown, Message: "No message", RawStatus: "pending"}, "❔ Unknown status: "},
		{outcome.Outcome{Kind: outcome.Enrolled, Message: "Registration Successfully"}, "✅ Registration Successfully"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		report(&out, tt.o)
		assert.True(t, strings.HasPrefix(out.String(), tt.want), "got %q", out.String())
	}
}

func TestPrintEnrollSummary(t *testing.T) {
	entries := []pipeline.DirEntry{
		{Name: "Amy Pond", Outcome: outcome.Outcome{Kind: outcome.Enrolled, Message: "Registration Successfully"}},
		{Name: "broken", Outcome: outcome.Fail(types.ErrNormalization)},
		{Name: "Zed", Outcome: outcome.Outcome{Kind: outcome.Rejected, Message: "No face found"}},
	}

	var out bytes.Buffer
	failed := printEnrollSummary(&out, entries)

	assert.Equal(t, 2, failed)
	assert.Contains(t, out.String(), "Image could not be normalized")
	assert.Contains(t, out.String(), "Enrolled 1 of 3 images.")
}

func TestPrintGalleryInfo(t *testing.T) {
	var out bytes.Buffer
	printGalleryInfo(&out, gallery.Info{Path: "/data/encodings.pkl"})
	assert.Contains(t, out.String(), "missing")

	out.Reset()
	printGalleryInfo(&out, gallery.Info{Path: "/data/encodings.pkl", Exists: true, Size: 12, Usable: true, ModTime: time.Now()})
	assert.Contains(t, out.String(), "ready")
	assert.Contains(t, out.String(), "12 bytes")
}

func TestPrintAttendance(t *testing.T) {
	var out bytes.Buffer
	printAttendance(&out, nil)
	assert.Equal(t, "No attendance recorded.\n", out.String())

	out.Reset()
	printAttendance(&out, []store.AttendanceRecord{{Name: "Alice", AttendanceTime: "09:00", LightThreshold: 0.5, RecordedAt: time.Now()}})
	assert.Contains(t, out.String(), "Alice")
	assert.Contains(t, out.String(), "0.50")

	out.Reset()
	printRegistrations(&out, []store.Registration{{Name: "Carol", ProfilePath: "/data/profiles/Carol.jpg", RegisteredAt: time.Now()}})
	assert.Contains(t, out.String(), "/data/profiles/Carol.jpg")
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		" yes ": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	}
	for input, want := range tests {
		var out bytes.Buffer
		got := confirm(&out, bufio.NewReader(strings.NewReader(input)), "Proceed?")
		assert.Equal(t, want, got, "input %q", input)
		assert.Equal(t, "Proceed? [y/N]: ", out.String())
	}
}

func TestServeHTTPShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, server, listener, zap.NewNop())
	}()

	resp, err := http.Get("http://" + listener.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
