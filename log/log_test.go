package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{input: "debug", want: LevelDebug},
		{input: "INFO", want: LevelInfo},
		{input: "warning", want: LevelWarn},
		{input: " error ", want: LevelError},
		{input: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}

		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestSanitize_EscapesControlChars(t *testing.T) {
	assert.Equal(t, `line1\nline2`, Sanitize("line1\nline2"))
	assert.Equal(t, `a\rb\tc`, Sanitize("a\rb\tc"))
}

func TestZeroLogger_EmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewZeroLogger(&buf, LevelInfo)
	logger.Log(context.Background(), LevelInfo, "order placed",
		String("order_id", "ord-1"),
		Int("items", 3),
		Err(errors.New("partial")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "order placed", entry["message"])
	assert.Equal(t, "ord-1", entry["order_id"])
	assert.Equal(t, float64(3), entry["items"])
	assert.Equal(t, "partial", entry["error"])
}

func TestZeroLogger_SuppressesBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := NewZeroLogger(&buf, LevelWarn)
	logger.Log(context.Background(), LevelInfo, "not emitted")

	assert.Zero(t, buf.Len())
	assert.False(t, logger.Enabled(LevelDebug))
	assert.True(t, logger.Enabled(LevelError))
}

func TestZeroLogger_SanitizesMessageAndFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewZeroLogger(&buf, LevelInfo)
	logger.Log(context.Background(), LevelInfo, "user input\nfake entry",
		String("name", "a\tb"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, `user input\nfake entry`, entry["message"])
	assert.Equal(t, `a\tb`, entry["name"])
}

func TestNopLogger_IsSafe(t *testing.T) {
	logger := NewNop()
	logger.Log(context.Background(), LevelError, "dropped")

	assert.False(t, logger.Enabled(LevelError))
	assert.NoError(t, logger.Sync(context.Background()))
	assert.NotNil(t, logger.With(String("k", "v")))
}
