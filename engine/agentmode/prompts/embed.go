package prompts

import "embed"

// TemplateFS holds the agent instruction templates.
//
//go:embed templates/*.tmpl
var TemplateFS embed.FS
