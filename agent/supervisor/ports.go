package supervisor

import "github.com/BaSui01/agentrelay/types"

// portStep keeps one slot per agent between successive defaults.
const portStep = 2

// allocatePorts fills in the ports left at zero. Defaults are
// base + 2·n with n the registry size, advanced by portStep while a port is
// used by any existing record or by the other role.
func allocatePorts(existing map[string]*types.AgentRecord, dialogueBase, logicBase, dialogue, logic int) (int, int) {
	used := make(map[int]struct{}, 2*len(existing))
	for _, rec := range existing {
		used[rec.DialoguePort] = struct{}{}
		used[rec.LogicPort] = struct{}{}
	}
	taken := func(p int) bool {
		_, ok := used[p]
		return ok
	}

	n := len(existing)
	if dialogue == 0 {
		dialogue = dialogueBase + portStep*n
		for taken(dialogue) || (logic != 0 && dialogue == logic) {
			dialogue += portStep
		}
	}
	if logic == 0 {
		logic = logicBase + portStep*n
		for taken(logic) || logic == dialogue {
			logic += portStep
		}
	}
	return dialogue, logic
}
