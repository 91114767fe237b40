package provider

// Agent identifiers clients may put in the "agent" field. The table is fixed;
// anything else is rejected by Route.
const (
	AgentCloudflare = "cloudflare"
	AgentOpenAI     = "openai"
	AgentGemini     = "gemini"
)

// Registry is the static agent→adapter lookup table. It is built once at
// startup, shared read-only by every session, and never mutated afterwards.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry(generators map[string]Generator) *Registry {
	table := make(map[string]Generator, len(generators))
	for name, g := range generators {
		table[name] = g
	}
	return &Registry{generators: table}
}

// Route resolves an agent identifier to its adapter. Unknown values, even
// syntactically valid ones, fail with *UnsupportedAgentError carrying the
// offending value.
func (r *Registry) Route(agent string) (Generator, error) {
	g, ok := r.generators[agent]
	if !ok {
		return nil, &UnsupportedAgentError{Agent: agent}
	}
	return g, nil
}

// Agents lists the registered identifiers, for diagnostics.
func (r *Registry) Agents() []string {
	out := make([]string, 0, len(r.generators))
	for name := range r.generators {
		out = append(out, name)
	}
	return out
}
