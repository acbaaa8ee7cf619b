package agents

// Type tags the kind of work a simulated agent performs.
type Type string

const (
	TypeOrchestrator  Type = "orchestrator"
	TypeText          Type = "text"
	TypeImage         Type = "image"
	TypeData          Type = "data"
	TypeResearch      Type = "research"
	TypeCode          Type = "code"
	TypeTranslation   Type = "translation"
	TypeSummarization Type = "summarization"
)

// Agent is a fixture entity representing one simulated AI worker. The
// roster is static: agents are loaded once and never created at runtime.
type Agent struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    Type    `json:"type"`
	Cost    float64 `json:"cost"`
	Balance float64 `json:"balance"`
}

// Roster holds the fixed set of known agent identities.
type Roster struct {
	agents []Agent
	byID   map[string]Agent
}

// DefaultRoster returns the demo network fixture.
func DefaultRoster() *Roster {
	return NewRoster([]Agent{
		{ID: "main-orchestrator", Name: "Synapse Orchestrator", Type: TypeOrchestrator, Cost: 0, Balance: 1000},
		{ID: "text-generator", Name: "Text Generator", Type: TypeText, Cost: 5, Balance: 100},
		{ID: "image-creator", Name: "Image Creator", Type: TypeImage, Cost: 10, Balance: 100},
		{ID: "data-analyzer", Name: "Data Analyzer", Type: TypeData, Cost: 8, Balance: 100},
		{ID: "research-agent", Name: "Research Agent", Type: TypeResearch, Cost: 7, Balance: 100},
		{ID: "code-generator", Name: "Code Generator", Type: TypeCode, Cost: 12, Balance: 100},
		{ID: "translator", Name: "Translator", Type: TypeTranslation, Cost: 4, Balance: 100},
		{ID: "summarizer", Name: "Summarizer", Type: TypeSummarization, Cost: 3, Balance: 100},
	})
}

func NewRoster(list []Agent) *Roster {
	r := &Roster{
		agents: make([]Agent, len(list)),
		byID:   make(map[string]Agent, len(list)),
	}
	copy(r.agents, list)
	for _, a := range list {
		r.byID[a.ID] = a
	}
	return r
}

// All returns the roster in fixture order.
func (r *Roster) All() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Get looks an agent up by ID.
func (r *Roster) Get(id string) (Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Orchestrator returns the agent anchoring every mapped chain.
func (r *Roster) Orchestrator() Agent {
	return r.firstOfType(TypeOrchestrator)
}

// DefaultWorker is the fallback agent when hierarchy resolution fails.
func (r *Roster) DefaultWorker() Agent {
	return r.firstOfType(TypeText)
}

func (r *Roster) firstOfType(t Type) Agent {
	for _, a := range r.agents {
		if a.Type == t {
			return a
		}
	}
	if len(r.agents) > 0 {
		return r.agents[0]
	}
	return Agent{}
}
