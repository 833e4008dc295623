package ir

// Change actions.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionReplace = "REPLACE"
	ActionDelete  = "DELETE"
	ActionNoop    = "NOOP"
)

// Plan represents the difference between a deployed template and a desired one.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  []*OutputChange   `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	StackName   string `json:"stackName"`
	DesiredHash string `json:"desiredHash"`
	PriorHash   string `json:"priorHash,omitempty"`
}

type ResourceChange struct {
	Address string                   `json:"address"`
	Type    string                   `json:"type"`
	Action  string                   `json:"action"`
	Desired *Resource                `json:"desired,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type OutputChange struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// HasChanges reports whether applying the plan would modify anything.
func (p *Plan) HasChanges() bool {
	return len(p.Changes) > 0 || len(p.Outputs) > 0
}
