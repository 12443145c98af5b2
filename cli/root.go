package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentmode",
		Short:         "ComfyUI agent mode service",
		Long:          "Runs the workflow-building agent and streams its output over HTTP or to the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		ServeCmd(),
		RunCmd(),
	)
	return root
}

// addGlobalFlags registers the flags shared by every command.
func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML config file")
	flags.String("env-file", ".env", "Path to the environment variables file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source code location in logs")
	flags.String("model", "", "Model name")
	flags.String("base-url", "", "Provider base URL")
	flags.String("language", "", "Response language of the agent")
	flags.String("comfyui", "", "ComfyUI base URL")
	flags.SortFlags = false
}
