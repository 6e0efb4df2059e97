// ABOUTME: Embedded workspace templates rendered into each agent's gateway workspace
// ABOUTME: One markdown file per concern: instructions, persona, operator, tools, heartbeat

package provisioning

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"text/template"
)

//go:embed templates/*.md.tmpl
var templateFS embed.FS

// ErrTemplate marks failures while rendering workspace files.
var ErrTemplate = errors.New("rendering workspace template")

// Workspace file names.
const (
	FileAgents    = "AGENTS.md"
	FileSoul      = "SOUL.md"
	FileUser      = "USER.md"
	FileIdentity  = "IDENTITY.md"
	FileTools     = "TOOLS.md"
	FileHeartbeat = "HEARTBEAT.md"
	FileBootstrap = "BOOTSTRAP.md"
)

// workspaceFiles are pushed on every provisioning run, in this order.
var workspaceFiles = []string{FileAgents, FileSoul, FileUser, FileIdentity, FileTools, FileHeartbeat}

// TemplateData is the view every workspace template renders against.
type TemplateData struct {
	AgentName          string
	AgentID            string
	SessionKey         string
	Role               string
	CommunicationStyle string
	Emoji              string
	IsMain             bool
	GatewayName        string
	BoardName          string
	WorkspaceRoot      string
	BaseURL            string
	AuthToken          string
	UserName           string
	UserEmail          string
	HeartbeatEvery     string
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("workspace").Option("missingkey=error").ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing workspace templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the content of one workspace file.
func (r *Renderer) Render(file string, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, file+".tmpl", data); err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrTemplate, file, err)
	}
	return buf.String(), nil
}
