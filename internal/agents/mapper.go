package agents

import (
	"sort"
	"strings"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/crewai"
)

// keywordRules maps domain keywords in reported step names to agent types.
// Checked only after exact and substring resolution both miss.
var keywordRules = []struct {
	keywords []string
	agent    Type
}{
	{[]string{"text", "writer", "generator", "content"}, TypeText},
	{[]string{"image", "visual", "picture", "art"}, TypeImage},
	{[]string{"data", "analy"}, TypeData},
	{[]string{"research", "search", "investigat"}, TypeResearch},
	{[]string{"code", "program", "develop"}, TypeCode},
	{[]string{"translat", "language"}, TypeTranslation},
	{[]string{"summar", "brief", "digest"}, TypeSummarization},
}

// ChainFromHierarchy maps the backend's reported execution hierarchy onto
// the local roster. The chain is always anchored at the orchestrator and
// always has at least two hops so downstream settlement has work to do.
// Resolution is heuristic and best-effort; misses degrade to the default
// worker rather than failing the run.
func (r *Roster) ChainFromHierarchy(hierarchy []crewai.HierarchyEntry) []Agent {
	chain := []Agent{r.Orchestrator()}
	seen := map[string]struct{}{chain[0].ID: {}}

	ordered := make([]crewai.HierarchyEntry, len(hierarchy))
	copy(ordered, hierarchy)
	sort.SliceStable(ordered, func(i, j int) bool {
		return entryLevel(ordered[i]) < entryLevel(ordered[j])
	})

	for _, entry := range ordered {
		agent, ok := r.resolve(entry.Name)
		if !ok {
			agent = r.DefaultWorker()
		}
		if _, dup := seen[agent.ID]; dup {
			continue
		}
		seen[agent.ID] = struct{}{}
		chain = append(chain, agent)
	}

	if len(chain) == 1 {
		chain = append(chain, r.DefaultWorker())
	}
	return chain
}

func entryLevel(e crewai.HierarchyEntry) int {
	if e.Level == nil {
		return 0
	}
	return *e.Level
}

// resolve matches one reported step name against the roster, most specific
// rule first: exact name, substring either direction, then keywords.
func (r *Roster) resolve(name string) (Agent, bool) {
	normalized := normalizeName(name)
	if normalized == "" {
		return Agent{}, false
	}

	for _, a := range r.agents {
		if strings.ToLower(a.Name) == normalized {
			return a, true
		}
	}

	for _, a := range r.agents {
		rosterName := strings.ToLower(a.Name)
		if strings.Contains(normalized, rosterName) || strings.Contains(rosterName, normalized) {
			return a, true
		}
	}

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return r.firstOfType(rule.agent), true
			}
		}
	}

	return Agent{}, false
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.Join(strings.Fields(name), " ")
	return strings.ToLower(strings.TrimSpace(name))
}
