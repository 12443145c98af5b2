package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/comfyflow/agentmode/engine/agentmode"
	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/streaming"
	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent once and stream its output to stdout",
		Example: `  agentmode run --goal "build a txt2img workflow with SDXL"
  agentmode run --message "user=I want a portrait" --message "assistant=Which style?" --goal "watercolor"`,
		RunE: executeRun,
	}
	cmd.Flags().String("goal", "", "What the agent should do")
	cmd.Flags().StringArray("message", nil, "Earlier conversation message as role=content (repeatable)")
	cmd.Flags().String("session", "", "Session id sent to remote tool servers (generated when empty)")
	cmd.Flags().String("workflow", "", "Path to the current canvas workflow JSON")
	cmd.Flags().Bool("json", false, "Print every chunk as a JSON line")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func executeRun(cmd *cobra.Command, _ []string) error {
	req, err := buildRunRequest(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := newAgentService(ctx, config.FromContext(ctx), nil)
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	p := &chunkPrinter{w: out, json: asJSON, color: !asJSON && shouldUseColor(out)}
	for chunk := range svc.Stream(ctx, req) {
		if err := p.Print(chunk); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func buildRunRequest(cmd *cobra.Command) (agentmode.Request, error) {
	goal, err := cmd.Flags().GetString("goal")
	if err != nil {
		return agentmode.Request{}, err
	}
	raw, err := cmd.Flags().GetStringArray("message")
	if err != nil {
		return agentmode.Request{}, err
	}
	messages, err := parseMessages(raw)
	if err != nil {
		return agentmode.Request{}, err
	}
	if strings.TrimSpace(goal) == "" {
		return agentmode.Request{}, fmt.Errorf("--goal cannot be empty")
	}
	messages = append(messages, llmadapter.TextMessage(llmadapter.RoleUser, goal))
	session, err := cmd.Flags().GetString("session")
	if err != nil {
		return agentmode.Request{}, err
	}
	if session == "" {
		session = core.MustNewID().String()
	}
	req := agentmode.Request{SessionID: session, Messages: messages}
	path, err := cmd.Flags().GetString("workflow")
	if err != nil {
		return agentmode.Request{}, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return agentmode.Request{}, fmt.Errorf("failed to read workflow: %w", err)
		}
		if !json.Valid(data) {
			return agentmode.Request{}, fmt.Errorf("workflow file %s is not valid JSON", path)
		}
		req.Workflow = data
	}
	return req, nil
}

// parseMessages reads role=content pairs.
func parseMessages(raw []string) ([]llmadapter.Message, error) {
	out := make([]llmadapter.Message, 0, len(raw)+1)
	for _, item := range raw {
		role, content, ok := strings.Cut(item, "=")
		role = strings.ToLower(strings.TrimSpace(role))
		if !ok || role == "" {
			return nil, fmt.Errorf("invalid --message %q: expected role=content", item)
		}
		switch role {
		case llmadapter.RoleUser, llmadapter.RoleAssistant, llmadapter.RoleSystem:
		default:
			return nil, fmt.Errorf("invalid --message role %q", role)
		}
		out = append(out, llmadapter.TextMessage(role, content))
	}
	return out, nil
}

var canvasLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7AA2F7")).Bold(true)

// shouldUseColor reports whether w is a terminal that accepts ANSI colors.
func shouldUseColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// chunkPrinter turns accumulated chunks into terminal output.
type chunkPrinter struct {
	w       io.Writer
	json    bool
	color   bool
	printed string
}

func (p *chunkPrinter) Print(c streaming.Chunk) error {
	if p.json {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(data))
		return err
	}
	delta := c.Text
	if strings.HasPrefix(c.Text, p.printed) {
		delta = c.Text[len(p.printed):]
	} else if p.printed != "" {
		delta = "\n" + c.Text
	}
	p.printed = c.Text
	if _, err := io.WriteString(p.w, delta); err != nil {
		return err
	}
	if !c.Finished {
		return nil
	}
	if _, err := io.WriteString(p.w, "\n"); err != nil {
		return err
	}
	if len(c.Ext) == 0 {
		return nil
	}
	payload := c.Payload()
	if !p.color {
		_, err := fmt.Fprintf(p.w, "\n[canvas update] %s\n", payload)
		return err
	}
	_, err := fmt.Fprintf(p.w, "\n%s\n%s", canvasLabelStyle.Render("[canvas update]"), pretty.Color(pretty.Pretty(payload), nil))
	return err
}
