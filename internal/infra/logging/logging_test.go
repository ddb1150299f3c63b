//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithSubscriberID(ctx, "subr-1")
	ctx = WithAppUserID(ctx, "user-1")

	With(ctx, &base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	for field, want := range map[string]string{
		"trace_id":      "trace-1",
		"subscriber_id": "subr-1",
		"app_user_id":   "user-1",
	} {
		if got, _ := line[field].(string); got != want {
			t.Errorf("%s = %q, want %q", field, got, want)
		}
	}
}

func TestWith_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	With(context.Background(), &base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	for _, field := range []string{"trace_id", "subscriber_id", "app_user_id"} {
		if _, ok := line[field]; ok {
			t.Errorf("unexpected %s on a bare context", field)
		}
	}
}
