package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config はロガーの設定。値は pkg/config の LoggingConfig から渡される。
type Config struct {
	Level  string // "debug" | "info" | "warn" | "error"
	Format string // "json" or "text"
}

// DefaultConfig はデフォルトのロガー設定
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// ParseLevel はレベル名をslog.Levelに変換する。不明な値はInfo扱い。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New は新しいロガーを作成し、デフォルトロガーとして設定します。
// 出力先は標準エラー。標準出力は回答トークンとSSEレスポンス本文に使うため、
// ログを混在させない。
func New(cfg Config) *slog.Logger {
	logger := slog.New(newHandler(os.Stderr, cfg))
	slog.SetDefault(logger)

	return logger
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default: // "json"
		return slog.NewJSONHandler(w, opts)
	}
}
