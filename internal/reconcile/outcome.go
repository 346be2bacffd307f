package reconcile

// Action is the decision taken for one identity.
type Action int

const (
	ActionFailed Action = iota
	ActionCreated
	ActionUpdated
	ActionSkipped
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result records the outcome of reconciling one identity.
type Result struct {
	Email            string
	Action           Action
	AccountID        string
	PrivilegeChanged bool
	Err              error
}

func (r Result) fail(err error) Result {
	r.Action = ActionFailed
	r.Err = err
	return r
}

// Outcome counts the identities created, updated and skipped in one run.
// Failed identities appear in none of the counters.
type Outcome struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Total returns the number of identities accounted for.
func (o Outcome) Total() int {
	return o.Created + o.Updated + o.Skipped
}

// Tally folds results into an Outcome.
func Tally(results []Result) Outcome {
	var o Outcome
	for _, r := range results {
		switch r.Action {
		case ActionCreated:
			o.Created++
		case ActionUpdated:
			o.Updated++
		case ActionSkipped:
			o.Skipped++
		}
	}
	return o
}
