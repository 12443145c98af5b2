package comfy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/comfyflow/agentmode/engine/tool"
	"github.com/comfyflow/agentmode/engine/tool/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const objectInfo = `{
  "CheckpointLoaderSimple": {
    "name": "CheckpointLoaderSimple", "display_name": "Load Checkpoint", "category": "loaders",
    "input": {"required": {"ckpt_name": [["a.safetensors", "b.safetensors"]]}},
    "output": ["MODEL", "CLIP", "VAE"], "output_name": ["MODEL", "CLIP", "VAE"]
  },
  "VAEDecode": {
    "name": "VAEDecode", "display_name": "VAE Decode", "category": "latent",
    "input": {"required": {"samples": ["LATENT"], "vae": ["VAE"]}},
    "output": ["IMAGE"], "output_name": ["IMAGE"]
  },
  "SaveImage": {
    "name": "SaveImage", "display_name": "Save Image", "category": "image",
    "input": {"required": {"images": ["IMAGE"]}, "optional": {"filename_prefix": ["STRING", {"default": "ComfyUI"}]}},
    "output": [], "output_node": true
  }
}`

type backend struct {
	objectInfoCalls atomic.Int32
	prompts         atomic.Int32
	rejectPrompt    bool
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("GET /object_info", func(w http.ResponseWriter, _ *http.Request) {
		b.objectInfoCalls.Add(1)
		writeJSON(w, http.StatusOK, objectInfo)
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `["checkpoints","loras"]`)
	})
	mux.HandleFunc("GET /models/{folder}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("folder") != "checkpoints" {
			writeJSON(w, http.StatusNotFound, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `["a.safetensors","b.safetensors"]`)
	})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		b.prompts.Add(1)
		var body struct {
			Prompt   json.RawMessage `json:"prompt"`
			ClientID string          `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Prompt) == 0 || body.ClientID == "" {
			writeJSON(w, http.StatusBadRequest, `{"error":{"type":"bad","message":"bad body"}}`)
			return
		}
		if b.rejectPrompt {
			writeJSON(w, http.StatusBadRequest,
				`{"error":{"type":"prompt_outputs_failed_validation","message":"Prompt outputs failed validation","details":""},`+
					`"node_errors":{"2":{"errors":[{"message":"Required input is missing"}]}}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"prompt_id":"p-1","number":4,"node_errors":{}}`)
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p-1" {
			writeJSON(w, http.StatusOK, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"p-1":{"status":{"status_str":"success","completed":true,"messages":[]},`+
			`"outputs":{"9":{"images":[{"filename":"ComfyUI_0001.png","subfolder":"","type":"output"}]}}}}`)
	})
	return mux
}

func newToolset(t *testing.T, b *backend, canvas string) (*Toolset, *tool.Registry) {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second, ClientID: "test"})
	var current json.RawMessage
	if canvas != "" {
		current = json.RawMessage(canvas)
	}
	ts := NewToolset(client, workspace.New(current))
	reg, err := tool.NewRegistry(ts.Tools()...)
	require.NoError(t, err)
	return ts, reg
}

func call(t *testing.T, reg *tool.Registry, name, args string) string {
	t.Helper()
	found, ok := reg.Lookup(name)
	require.True(t, ok, name)
	out, err := found.Call(t.Context(), args)
	require.NoError(t, err)
	return out
}

const validWorkflow = `{"1":{"class_type":"CheckpointLoaderSimple","inputs":{"ckpt_name":"a.safetensors"}},` +
	`"2":{"class_type":"SaveImage","inputs":{"images":["3",0]}},` +
	`"3":{"class_type":"VAEDecode","inputs":{"samples":["1",0],"vae":["1",2]}}}`

func TestClient(t *testing.T) {
	t.Run("Should cache object info", func(t *testing.T) {
		b := &backend{}
		ts, _ := newToolset(t, b, "")
		_, err := ts.client.ObjectInfo(t.Context())
		require.NoError(t, err)
		_, ok, err := ts.client.Node(t.Context(), "VAEDecode")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(1), b.objectInfoCalls.Load())
	})

	t.Run("Should return coded errors for failed requests", func(t *testing.T) {
		ts, _ := newToolset(t, &backend{}, "")
		_, err := ts.client.Models(t.Context(), "unknown")
		assert.Equal(t, ErrCodeRequest, core.ErrorCode(err))
	})
}

func TestClientCircuitBreaker(t *testing.T) {
	t.Run("Should stop calling a backend that keeps failing", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)
		client := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, ClientID: "test"})
		client.http.SetRetryCount(0)

		var codes []string
		for range 10 {
			_, err := client.ModelFolders(t.Context())
			require.Error(t, err)
			codes = append(codes, core.ErrorCode(err))
		}
		assert.Equal(t, ErrCodeRequest, codes[0])
		assert.Contains(t, codes, ErrCodeUnavailable)
		assert.Less(t, hits.Load(), int32(10))
	})

	t.Run("Should not count client errors against the backend", func(t *testing.T) {
		ts, _ := newToolset(t, &backend{}, "")
		for range 10 {
			_, err := ts.client.Models(t.Context(), "unknown")
			assert.Equal(t, ErrCodeRequest, core.ErrorCode(err))
		}
	})
}

func TestToolset(t *testing.T) {
	t.Run("Should search nodes by name and category", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, "")
		out := call(t, reg, tool.SearchNodes, `{"query":"vae"}`)
		assert.Equal(t, "VAEDecode", gjson.Get(out, "results.0.class_type").String())

		out = call(t, reg, tool.SearchNodes, `{"query":"image","limit":1}`)
		assert.Equal(t, int64(1), gjson.Get(out, "results.#").Int())
		assert.Equal(t, "SaveImage", gjson.Get(out, "results.0.class_type").String())

		out = call(t, reg, tool.SearchNodes, `{"query":"upscale"}`)
		assert.Equal(t, int64(0), gjson.Get(out, "results.#").Int())
	})

	t.Run("Should describe node inputs and outputs", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, "")
		out := call(t, reg, tool.GetNodeDetails, `{"class_type":"CheckpointLoaderSimple"}`)
		assert.Equal(t, "COMBO", gjson.Get(out, "required.ckpt_name.type").String())
		assert.Equal(t, int64(2), gjson.Get(out, "required.ckpt_name.choices.#").Int())
		assert.Equal(t, "VAE", gjson.Get(out, "outputs.2.type").String())

		out = call(t, reg, tool.GetNodeDetails, `{"class_type":"RestoreFormer"}`)
		assert.False(t, gjson.Get(out, "found").Bool())
	})

	t.Run("Should list models and fall back to folder names", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, "")
		out := call(t, reg, tool.ListAvailableModels, `{}`)
		assert.Equal(t, "checkpoints", gjson.Get(out, "folder").String())
		assert.Equal(t, int64(2), gjson.Get(out, "models.#").Int())

		out = call(t, reg, tool.ListAvailableModels, `{"folder":"upscale"}`)
		assert.True(t, gjson.Get(out, "error").Exists())
		assert.Equal(t, "loras", gjson.Get(out, "folders.1").String())
	})

	t.Run("Should validate the canvas workflow", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, validWorkflow)
		out := call(t, reg, tool.ValidateWorkflow, `{}`)
		assert.True(t, gjson.Get(out, "valid").Bool(), out)
	})

	t.Run("Should report invalid nodes inputs and links", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, "")
		bad := `{"workflow_data":{"1":{"class_type":"Nope","inputs":{}},` +
			`"2":{"class_type":"VAEDecode","inputs":{"samples":["7",0]}},` +
			`"3":{"class_type":"SaveImage","inputs":{"images":["2",5]}}}}`
		out := call(t, reg, tool.ValidateWorkflow, bad)
		assert.False(t, gjson.Get(out, "valid").Bool())
		errs := gjson.Get(out, "errors").String()
		assert.Contains(t, errs, `class_type \"Nope\" is not installed`)
		assert.Contains(t, errs, `missing required input \"vae\"`)
		assert.Contains(t, errs, "links to missing node 7")
		assert.Contains(t, errs, "uses output 5 of node 2")
	})

	t.Run("Should refuse to validate an empty canvas", func(t *testing.T) {
		_, reg := newToolset(t, &backend{}, "")
		out := call(t, reg, tool.ValidateWorkflow, `{}`)
		assert.False(t, gjson.Get(out, "valid").Bool())
	})

	t.Run("Should execute and report results", func(t *testing.T) {
		b := &backend{}
		_, reg := newToolset(t, b, validWorkflow)
		out := call(t, reg, tool.ExecuteWorkflow, `{}`)
		require.True(t, gjson.Get(out, "success").Bool(), out)
		assert.Equal(t, "p-1", gjson.Get(out, "prompt_id").String())

		out = call(t, reg, tool.CheckExecutionResult, `{"prompt_id":"p-1"}`)
		assert.True(t, gjson.Get(out, "completed").Bool())
		assert.Equal(t, "ComfyUI_0001.png", gjson.Get(out, "files.0.filename").String())

		out = call(t, reg, tool.CheckExecutionResult, `{"prompt_id":"p-2"}`)
		assert.Equal(t, "pending", gjson.Get(out, "status").String())
	})

	t.Run("Should surface node errors of rejected prompts", func(t *testing.T) {
		b := &backend{rejectPrompt: true}
		_, reg := newToolset(t, b, validWorkflow)
		out := call(t, reg, tool.ExecuteWorkflow, `{}`)
		assert.False(t, gjson.Get(out, "success").Bool())
		assert.Contains(t, gjson.Get(out, "error").String(), "Prompt outputs failed validation")
		assert.True(t, gjson.Get(out, "node_errors.2").Exists())
		assert.Equal(t, int32(1), b.prompts.Load())
	})
}
