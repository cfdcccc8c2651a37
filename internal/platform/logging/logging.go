// Package logging はslogのデフォルトロガーを構成します。
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel は文字列のログレベルをslog.Levelに変換します。未知の値はInfoになります。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はtintハンドラを使ったロガーをデフォルトに設定します。
// dir が空でなければ日次ローテーションのファイルにも出力し、Close用のio.Closerを返します。
func Setup(level, dir string) (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if dir != "" {
		rw, err := NewRotatingWriter(dir, "app")
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, rw)
		closer = rw
	}

	slog.SetDefault(New(out, ParseLevel(level), dir != ""))
	return closer, nil
}

// New はwに出力するロガーを生成します。noColor はファイル出力時にANSIエスケープを抑止します。
func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		AddSource:  level == slog.LevelDebug,
		NoColor:    noColor,
	}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
