//	@title			Agent Mode API
//	@version		1.0
//	@description	Runs a tool-using ComfyUI workflow agent and streams its output.

//	@BasePath	/api/v0

//	@tag.name			agent-mode
//	@tag.description	Agent mode runs

//	@tag.name			health
//	@tag.description	Operational endpoints for monitoring and health

package main

import (
	"os"

	"github.com/comfyflow/agentmode/cli"
	"github.com/comfyflow/agentmode/pkg/logger"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		logger.GetDefault().Error("Command failed", "error", err)
		os.Exit(1)
	}
}
