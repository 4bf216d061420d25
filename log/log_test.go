package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedLoggerSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, InfoLevel)
	child := root.Named("racesim.test")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	root.SetLevel(DebugLevel)
	child.Debug("visible", String("key", "value"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "racesim.test", entry["logger"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, DebugLevel, child.Level())
}

func TestWithFilter(t *testing.T) {
	opt, err := WithFilter("*:* -debug:noisy*")
	require.NoError(t, err)

	var buf bytes.Buffer
	root := New(&buf, DebugLevel, opt)
	root.Named("noisy").Debug("dropped")
	root.Named("quiet").Debug("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    Level
		wantErr bool
	}{
		{name: "debug", arg: "debug", want: DebugLevel},
		{name: "warn", arg: "warn", want: WarnLevel},
		{name: "invalid", arg: "chatty", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
