package orchestrator

import (
	"fmt"
	"time"
)

const (
	failedGenerationMessage = "\n\n❌ **Tool call failed** — the model couldn't generate valid function call JSON.\n\n" +
		"**Try:**\n" +
		"- Send the request again (may succeed on retry)\n" +
		"- Use a simpler, shorter request\n" +
		"- Try a different model (some handle tool calling better)\n"

	rateLimitMessage = "\n\n⚠️ **Rate limit exceeded** — the model's tokens-per-minute limit was hit twice.\n\n" +
		"**Try:**\n" +
		"- Wait a minute, then send the request again\n" +
		"- Start a **new** Agent Mode conversation (shorter history)\n" +
		"- Upgrade your provider plan for higher TPM limits\n"

	requestTimeoutMessage = "\n\n⏱️ **Request timed out** while waiting for a response. " +
		"This can happen when the MCP server or LLM takes too long.\n\n" +
		"**Try:**\n" +
		"- Send the request again (may succeed on retry)\n" +
		"- Use a faster cloud model\n" +
		"- Simplify your request to fewer steps\n" +
		"- If using a local model, ensure it's not overloaded\n"

	// HallucinationWarning is appended when a run produced text without calling any tool.
	HallucinationWarning = "\n\n⚠️ **Warning**: The model responded without calling any tools. " +
		"It may have hallucinated results. " +
		"The workflow was **not** actually created or modified.\n\n" +
		"**Try:**\n" +
		"- Send your request again (the model may succeed on retry)\n" +
		"- Use a more capable model\n" +
		"- Simplify/rephrase your request\n"
)

// TimedOutMarker prefixes the message appended when the hard timeout fires.
const TimedOutMarker = "⏱️ **Agent timed out**"

// HardKillMarker prefixes the message appended when a tool-call loop is stopped.
const HardKillMarker = "🛑 **Agent stopped**"

func rateLimitNotice(delay time.Duration) string {
	return fmt.Sprintf("\n\n⏳ Rate limit hit — waiting %s before retrying with trimmed history...\n", delay)
}

func timedOutMessage(elapsed time.Duration) string {
	return fmt.Sprintf(
		"\n\n%s after %ds. Stopping to avoid wasting resources. "+
			"Please refine your request or install any missing nodes/models.\n",
		TimedOutMarker, int(elapsed.Seconds()),
	)
}

func hardKillMessage(toolName string, repeats int) string {
	return fmt.Sprintf(
		"\n\n%s: detected `%s` called %d times with identical arguments. The model is stuck in a loop.\n\n"+
			"**What you can try:**\n"+
			"- Rephrase your request with more specific details\n"+
			"- Check if the required nodes/models are installed in ComfyUI\n"+
			"- Try a different model (larger models follow instructions better)\n",
		HardKillMarker, toolName, repeats,
	)
}

func handoffMarker(agentName string) string {
	return fmt.Sprintf("\n▸ **%s**\n\n", agentName)
}
