package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	l.Info("transfer finished", "transfer_id", "abc", "status", "SUCCESS")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transfer finished", entry["msg"])
	assert.Equal(t, "abc", entry["transfer_id"])
	assert.Equal(t, "SUCCESS", entry["status"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := log.Default()
	t.Cleanup(func() { log.SetDefault(prev) })

	var buf bytes.Buffer
	_, err := Setup(&buf, "debug", "text")
	require.NoError(t, err)

	log.Debugf("queued %d items", 3)
	With("worker", 1).Info("started")

	out := buf.String()
	assert.True(t, strings.Contains(out, "queued 3 items"), out)
	assert.Contains(t, out, "worker=1")
}
