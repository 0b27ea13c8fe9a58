package api

const (
	// InputKey holds the run's original input in every Context.
	InputKey = "input"

	// LastOutputKey holds the output of the most recently completed step.
	LastOutputKey = "last_output"

	// TerminalStep is the step name recorded on the final context version
	// of a run that finished normally.
	TerminalStep StepName = "end"
)

// Context is the data threaded through a run. The engine owns it; steps
// only ever see a copy.
type Context map[string]any

// NewContext returns a Context seeded with the run input.
func NewContext(input string) Context {
	return Context{InputKey: input}
}

// Input returns the original run input, or "" if it is not a string.
func (c Context) Input() string {
	s, _ := c[InputKey].(string)
	return s
}

// LastOutput returns the output of the previous step, if any.
func (c Context) LastOutput() any {
	return c[LastOutputKey]
}

// Clone returns a deep copy of c. Nested maps and slices are copied so the
// result can be handed to a step or a trace store without aliasing.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = CloneValue(v)
	}
	return out
}

// Merge applies a successful step output to c. The output is always stored
// under LastOutputKey; when it is a map, its keys are also copied into c,
// except for the reserved keys.
func (c Context) Merge(output any) {
	c[LastOutputKey] = CloneValue(output)

	var fields map[string]any
	switch m := output.(type) {
	case map[string]any:
		fields = m
	case Context:
		fields = m
	default:
		return
	}
	for k, v := range fields {
		if k == InputKey || k == LastOutputKey {
			continue
		}
		c[k] = CloneValue(v)
	}
}

// CloneValue deep-copies maps and slices of the shapes produced by JSON
// decoding. Other values are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Context:
		return t.Clone()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
