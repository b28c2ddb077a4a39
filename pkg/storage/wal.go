package storage

import (
	"fmt"
	"os"
	"sync"
)

// Journal records one line per applied instruction. It is an audit trail
// only; recovery replays committed blocks, not the journal.
type Journal interface {
	Append(line string)
}

type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// MemWAL keeps lines in memory for inspection.
type MemWAL struct {
	mu    sync.Mutex
	lines []string
}

func (w *MemWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
}

func (w *MemWAL) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

var (
	_ Journal = (*NopWAL)(nil)
	_ Journal = (*FileWAL)(nil)
	_ Journal = (*MemWAL)(nil)
)
