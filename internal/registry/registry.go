// Package registry holds the static table of selectable models, mapping a
// human-readable label to the provider and wire-level model id.
package registry

// Model describes one selectable model/provider pairing.
type Model struct {
	Label    string
	ID       string
	Provider string
}

// Registry is a static label lookup table.
type Registry struct {
	models []Model
}

// Default returns the built-in model table.
func Default() *Registry {
	return &Registry{models: []Model{
		{Label: "OpenAI: GPT-4o-mini", ID: "gpt-4o-mini", Provider: "openai"},
		{Label: "OpenAI: GPT-4o", ID: "gpt-4o", Provider: "openai"},
		{Label: "Anthropic: Claude 3.5 Sonnet", ID: "claude-3-5-sonnet-latest", Provider: "anthropic"},
		{Label: "Anthropic: Claude 3.5 Haiku", ID: "claude-3-5-haiku-latest", Provider: "anthropic"},
		{Label: "Meta: Llama 3.1 70B", ID: "llama-3.1-70b-versatile", Provider: "groq"},
	}}
}

// Lookup returns the entry for label.
func (r *Registry) Lookup(label string) (Model, bool) {
	for _, m := range r.models {
		if m.Label == label {
			return m, true
		}
	}
	return Model{}, false
}

// ProviderFor resolves a label to its provider. An unknown label yields the
// empty string; callers stamp that as-is rather than failing.
func (r *Registry) ProviderFor(label string) string {
	m, _ := r.Lookup(label)
	return m.Provider
}

// Models lists the table in declaration order.
func (r *Registry) Models() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}
