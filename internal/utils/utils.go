package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// TailBuffer keeps the last Limit bytes written to it. It is safe for concurrent use,
// since exec copies the child's stderr from its own goroutine.
type TailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	Limit int
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if b.Limit > 0 && len(b.buf) > b.Limit {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.Limit:]...)
	}
	return len(p), nil
}

func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *TailBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// StderrTailLimit bounds how much engine output is kept for crash reports.
const StderrTailLimit = 16 * 1024

// SafeCommand wraps exec.Cmd and captures the tail of its stderr (Python logs and
// tracebacks) so a dying worker does not take its crash reason with it.
type SafeCommand struct {
	*exec.Cmd
	Stderr *TailBuffer
}

// NewSafeCommand prepares the command without starting it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &TailBuffer{Limit: StderrTailLimit}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// --- 2. User-facing errors ---

// ShowError prints the boxed error report without exiting. Captured engine logs are
// appended when s is not nil.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 ATTENDO ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nENGINE LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for the CLI.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 3. Files ---

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// IsImageFile reports whether path has an extension the normalizer accepts for bulk enrollment.
func IsImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// NameFromFile derives a person's name from an image file name: "Jane Doe.jpg" -> "Jane Doe".
func NameFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// RemoveMatching deletes files in dir whose names match pattern and returns how many went.
func RemoveMatching(dir, pattern string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
