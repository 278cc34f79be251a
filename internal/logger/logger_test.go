package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestIntoContext_Merges(t *testing.T) {
	ctx := IntoContext(context.Background(), "chat_id", int64(1))
	ctx = IntoContext(ctx, "actor_id", int64(2))

	args, _ := ctx.Value(ctxKey{}).([]any)
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
	if args[0] != "chat_id" || args[2] != "actor_id" {
		t.Fatalf("unexpected args order: %v", args)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}
