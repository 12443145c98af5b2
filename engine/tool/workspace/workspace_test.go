package workspace

import (
	"encoding/json"
	"testing"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const twoNodes = `{"1":{"class_type":"CheckpointLoaderSimple","inputs":{"ckpt_name":"m.safetensors"}},` +
	`"2":{"class_type":"SaveImage","inputs":{"images":["1",0]}}}`

func toolNamed(t *testing.T, ws *Workspace, name string) llmadapter.Tool {
	t.Helper()
	reg, err := tool.NewRegistry(ws.Tools()...)
	require.NoError(t, err)
	found, ok := reg.Lookup(name)
	require.True(t, ok, name)
	return found
}

func TestNormalizeWorkflow(t *testing.T) {
	t.Run("Should accept objects and JSON strings", func(t *testing.T) {
		wf, err := NormalizeWorkflow(json.RawMessage(twoNodes))
		require.NoError(t, err)
		assert.JSONEq(t, twoNodes, string(wf))

		quoted, err := json.Marshal(twoNodes)
		require.NoError(t, err)
		wf, err = NormalizeWorkflow(quoted)
		require.NoError(t, err)
		assert.JSONEq(t, twoNodes, string(wf))
	})

	t.Run("Should unwrap a prompt envelope", func(t *testing.T) {
		wf, err := NormalizeWorkflow(json.RawMessage(`{"prompt":` + twoNodes + `}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, NodeIDs(wf))
	})

	t.Run("Should reject empty and malformed workflows", func(t *testing.T) {
		_, err := NormalizeWorkflow(nil)
		assert.ErrorIs(t, err, ErrEmptyWorkflow)
		_, err = NormalizeWorkflow(json.RawMessage(`{}`))
		assert.ErrorIs(t, err, ErrEmptyWorkflow)
		_, err = NormalizeWorkflow(json.RawMessage(`[1,2]`))
		assert.ErrorIs(t, err, ErrInvalidWorkflow)
		_, err = NormalizeWorkflow(json.RawMessage(`{"1":{"inputs":{}}}`))
		assert.ErrorIs(t, err, ErrInvalidWorkflow)
		_, err = NormalizeWorkflow(json.RawMessage(`{"1":`))
		assert.ErrorIs(t, err, ErrInvalidWorkflow)
	})
}

func TestWorkspaceTools(t *testing.T) {
	t.Run("Should plan and track task status", func(t *testing.T) {
		ws := New(nil)
		out, err := toolNamed(t, ws, tool.PlanTasks).Call(t.Context(),
			`{"goal":"txt2img","tasks":["find loader"," ","save workflow"]}`)
		require.NoError(t, err)
		assert.Equal(t, int64(2), gjson.Get(out, "tasks.#").Int())

		out, err = toolNamed(t, ws, tool.UpdateTaskStatus).Call(t.Context(), `{"task_id":1,"status":"completed"}`)
		require.NoError(t, err)
		assert.True(t, gjson.Get(out, "success").Bool())

		out, err = toolNamed(t, ws, tool.UpdateTaskStatus).Call(t.Context(), `{"task_id":9,"status":"failed"}`)
		require.NoError(t, err)
		assert.False(t, gjson.Get(out, "success").Bool())

		out, err = toolNamed(t, ws, tool.GetPlanStatus).Call(t.Context(), "")
		require.NoError(t, err)
		assert.Equal(t, "txt2img", gjson.Get(out, "goal").String())
		assert.Equal(t, int64(1), gjson.Get(out, "completed").Int())
		assert.Equal(t, int64(1), gjson.Get(out, "remaining").Int())
		assert.Equal(t, 2, ws.Calls()[tool.UpdateTaskStatus])
	})

	t.Run("Should reject an empty plan and an unknown status", func(t *testing.T) {
		ws := New(nil)
		_, err := toolNamed(t, ws, tool.PlanTasks).Call(t.Context(), `{"goal":"x","tasks":[]}`)
		assert.Equal(t, tool.ErrCodeInvalidArguments, core.ErrorCode(err))
		_, err = toolNamed(t, ws, tool.UpdateTaskStatus).Call(t.Context(), `{"task_id":1,"status":"done"}`)
		assert.Equal(t, tool.ErrCodeInvalidArguments, core.ErrorCode(err))
	})

	t.Run("Should save a workflow and report it through ext", func(t *testing.T) {
		ws := New(nil)
		out, err := toolNamed(t, ws, tool.SaveWorkflow).Call(t.Context(), `{"workflow_data":`+twoNodes+`}`)
		require.NoError(t, err)
		assert.True(t, gjson.Get(out, "success").Bool())
		assert.Equal(t, "workflow_update", gjson.Get(out, "ext.0.type").String())
		assert.JSONEq(t, twoNodes, gjson.Get(out, "ext.0.data.workflow_data").Raw)
		assert.Equal(t, 1, ws.Saves())
		assert.JSONEq(t, twoNodes, string(ws.CurrentWorkflow()))
	})

	t.Run("Should report invalid workflows without ext", func(t *testing.T) {
		ws := New(nil)
		out, err := toolNamed(t, ws, tool.SaveWorkflow).Call(t.Context(), `{"workflow_data":"not json"}`)
		require.NoError(t, err)
		assert.False(t, gjson.Get(out, "success").Bool())
		assert.False(t, gjson.Get(out, "ext").Exists())
		assert.Zero(t, ws.Saves())
	})

	t.Run("Should return the seeded canvas", func(t *testing.T) {
		ws := New(json.RawMessage(twoNodes))
		out, err := toolNamed(t, ws, tool.GetCurrentWorkflowForAgent).Call(t.Context(), "{}")
		require.NoError(t, err)
		assert.Equal(t, int64(2), gjson.Get(out, "node_count").Int())

		empty, err := toolNamed(t, New(nil), tool.GetCurrentWorkflowForAgent).Call(t.Context(), "{}")
		require.NoError(t, err)
		assert.Equal(t, gjson.Null, gjson.Get(empty, "workflow").Type)
	})

	t.Run("Should clear the plan and tracker on reset", func(t *testing.T) {
		ws := New(json.RawMessage(twoNodes))
		_, err := toolNamed(t, ws, tool.PlanTasks).Call(t.Context(), `{"goal":"g","tasks":["a"]}`)
		require.NoError(t, err)
		ws.Reset()
		assert.Empty(t, ws.Calls())
		goal, tasks := ws.snapshot()
		assert.Empty(t, goal)
		assert.Empty(t, tasks)
		assert.NotEmpty(t, ws.CurrentWorkflow())
	})
}
