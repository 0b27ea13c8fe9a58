package reporting

import (
	"html/template"
	"time"

	"github.com/petrijr/synapse/pkg/api"
)

// RunView is the JSON shape of a run header.
type RunView struct {
	RunID     string        `json:"run_id"`
	StartedAt string        `json:"started_at"`
	Workflow  string        `json:"workflow"`
	Status    api.RunStatus `json:"status"`
}

// NodeView is the JSON shape of one step attempt. Duration is in seconds.
type NodeView struct {
	ID       int64          `json:"id"`
	AgentID  string         `json:"agent_id"`
	Name     string         `json:"name"`
	Input    api.Context    `json:"input"`
	Output   any            `json:"output"`
	Duration float64        `json:"duration"`
	Attempt  int            `json:"attempt"`
	Error    *api.ErrorInfo `json:"error"`
	TS       string         `json:"ts"`
	Model    string         `json:"model"`
}

// ContextView is the JSON shape of one context version.
type ContextView struct {
	Version int         `json:"version"`
	Node    string      `json:"node"`
	Ctx     api.Context `json:"ctx"`
	TS      string      `json:"ts"`
}

func newRunView(run api.Run, status api.RunStatus) RunView {
	return RunView{
		RunID:     run.ID,
		StartedAt: formatTime(run.StartedAt),
		Workflow:  run.WorkflowRef,
		Status:    status,
	}
}

func newNodeView(a *api.StepAttempt) NodeView {
	input := a.Input
	if input == nil {
		input = api.Context{}
	}
	output := a.Output
	if output == nil {
		output = map[string]any{}
	}
	return NodeView{
		ID:       a.ID,
		AgentID:  a.AgentID,
		Name:     string(a.StepName),
		Input:    input,
		Output:   output,
		Duration: a.Duration.Seconds(),
		Attempt:  a.Attempt,
		Error:    a.Error,
		TS:       formatTime(a.Timestamp),
		Model:    a.Model,
	}
}

func newContextView(v *api.ContextVersion) ContextView {
	snap := v.Snapshot
	if snap == nil {
		snap = api.Context{}
	}
	return ContextView{
		Version: v.Version,
		Node:    string(v.StepName),
		Ctx:     snap,
		TS:      formatTime(v.Timestamp),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>synapse runs</title></head>
<body>
<h1>Recent runs</h1>
{{if .}}<table>
<tr><th>Run</th><th>Started</th><th>Workflow</th><th>Status</th></tr>
{{range .}}<tr>
<td><a href="/api/nodes/{{.RunID}}">{{.RunID}}</a> (<a href="/api/contexts/{{.RunID}}">contexts</a>)</td>
<td>{{.StartedAt}}</td><td>{{.Workflow}}</td><td>{{.Status}}</td>
</tr>
{{end}}</table>{{else}}<p>No runs recorded yet.</p>{{end}}
</body>
</html>
`))
