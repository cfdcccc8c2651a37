package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingWriter はローカル日付が変わるたびに新しいファイルへ切り替えるio.WriteCloserです。
// ファイル名は <prefix>-YYYY-MM-DD.log です。
type RotatingWriter struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	now     func() time.Time
	current string
	file    *os.File
}

// NewRotatingWriter はdirを作成し、当日のログファイルを開きます。
func NewRotatingWriter(dir, prefix string) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &RotatingWriter{dir: dir, prefix: prefix, now: time.Now}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write は必要に応じてファイルを切り替えてから書き込みます。
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close は現在のファイルを閉じます。
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// CurrentPath は現在書き込み中のファイルパスを返します。
func (w *RotatingWriter) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *RotatingWriter) rotateIfNeeded() error {
	name := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, w.now().Format(time.DateOnly)))
	if w.file != nil && name == w.current {
		return nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.current = name
	return nil
}
