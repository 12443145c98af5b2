package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const (
	constrainedTemplate = "constrained.tmpl"
	fullTemplate        = "full.tmpl"
)

var (
	constrainedSteps = []string{
		"plan_tasks: split the goal into steps",
		"search_nodes: find the class_type of every node you need",
		"get_node_details: learn the inputs and outputs of each node",
		"list_available_models: get real file names for model inputs",
		"build the complete workflow JSON and call save_workflow",
		"report the result",
	}
	fullSteps = []string{
		"plan_tasks: split the goal",
		"search_nodes / list_available_models: check that nodes and models exist",
		"recall_workflow or gen_workflow: produce the workflow JSON",
		"save_workflow(workflow_data=<JSON from the previous step>): place it on the canvas",
		"validate_workflow: confirm it works",
		"report to the user",
	}
)

// Data feeds the instruction templates.
type Data struct {
	AgentName      string
	Language       string
	Steps          []string
	ToolBudget     int
	MaxToolRetries int
}

// Renderer renders agent instructions for a provider capability.
type Renderer struct {
	tpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tpl, err := template.New("instructions").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		ParseFS(TemplateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse instruction templates: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

// Render returns the constrained or the full instructions.
func (r *Renderer) Render(agentName, language string, constrained bool) (string, error) {
	data := Data{
		AgentName:      agentName,
		Language:       language,
		Steps:          fullSteps,
		ToolBudget:     15,
		MaxToolRetries: 2,
	}
	name := fullTemplate
	if constrained {
		name = constrainedTemplate
		data.Steps = constrainedSteps
	}
	var buf bytes.Buffer
	if err := r.tpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
