package streaming

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Payload(t *testing.T) {
	t.Run("Should be nil without side payload", func(t *testing.T) {
		assert.Nil(t, Chunk{Text: "hi"}.Payload())
	})

	t.Run("Should pass incremental side payload through unchanged", func(t *testing.T) {
		ext := json.RawMessage(`{"nodes":{"1":{}}}`)
		assert.JSONEq(t, string(ext), string(Chunk{Ext: ext}.Payload()))
	})

	t.Run("Should wrap the final side payload", func(t *testing.T) {
		c := Chunk{Text: "done", Ext: json.RawMessage(`{"nodes":{}}`), Finished: true}
		assert.JSONEq(t, `{"data":{"nodes":{}},"finished":true}`, string(c.Payload()))
	})

	t.Run("Should wrap null data when the final chunk has no side payload", func(t *testing.T) {
		assert.JSONEq(t, `{"data":null,"finished":true}`, string(Chunk{Finished: true}.Payload()))
	})
}

func TestNewEnvelope(t *testing.T) {
	t.Run("Should mark finished chunks as final events", func(t *testing.T) {
		id := core.MustNewID()
		env, err := NewEnvelope(3, id, Chunk{Text: "x", Finished: true}, time.Unix(0, 0))
		require.NoError(t, err)
		assert.Equal(t, EventTypeFinal, env.Type)
		assert.JSONEq(t, `{"text":"x","ext":{"data":null,"finished":true}}`, string(env.Data))
	})

	t.Run("Should require a run id", func(t *testing.T) {
		_, err := NewEnvelope(1, "", Chunk{}, time.Now())
		require.Error(t, err)
	})
}
