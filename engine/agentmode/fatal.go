package agentmode

import (
	"strings"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/comfyflow/agentmode/engine/llm/orchestrator"
)

const schemaValidationFragment = "'required' present but 'properties' is missing"

const (
	requestTooLargeMessage = "\n\n⚠️ **Request too large** for the model's token limit.\n\n" +
		"**Try:**\n" +
		"- Start a new Agent Mode conversation (shorter history)\n" +
		"- Use a model with higher token limits\n" +
		"- Upgrade your provider plan for higher TPM\n"
	remoteTimeoutMessage = "\n\n⏱️ **MCP server timed out**: the remote workflow service didn't respond in time.\n\n" +
		"**Try:**\n" +
		"- Send the request again (often succeeds on retry)\n" +
		"- Use a simpler request\n" +
		"- Check your internet connection\n"
	failedGenerationMessage = "\n\n❌ **Agent Mode Error**: The model failed to generate a valid tool call. " +
		"This usually means the selected model struggles with tool/function calling.\n\n" +
		"**Try:**\n" +
		"- Switch to a model with reliable tool calling\n" +
		"- Simplify your request to fewer steps\n" +
		"- Retry, the model sometimes succeeds on a second attempt\n"
	schemaValidationMessage = "\n\n❌ **Agent Mode Error**: Tool schema validation failed. " +
		"Please restart ComfyUI to pick up the latest fixes.\n"
	genericErrorPrefix = "\n\n❌ **Agent Mode Error**: "
)

// FatalMessage is the user-facing explanation for a run that could not finish.
func FatalMessage(err error) string {
	if err == nil {
		return genericErrorPrefix + "unknown error"
	}
	if strings.Contains(err.Error(), schemaValidationFragment) {
		return schemaValidationMessage
	}
	switch orchestrator.Classify(err) {
	case orchestrator.CategoryRateLimited:
		return requestTooLargeMessage
	case orchestrator.CategoryTimeout:
		return remoteTimeoutMessage
	case orchestrator.CategoryFailedGeneration:
		return failedGenerationMessage
	default:
		return genericErrorPrefix + core.RedactError(err)
	}
}
