package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("production", &buf)
	t.Cleanup(func() { InitWithWriter("production", &bytes.Buffer{}) })

	log := Component("exchange")
	log.Info().Str("exchange_id", "e1").Msg("accepted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "exchange", line["component"])
	assert.Equal(t, "e1", line["exchange_id"])
	assert.Equal(t, "accepted", line["message"])
	assert.Equal(t, "info", line["level"])
}
