package domain

// ReasonRule is an operator-defined explanation rule.
// Its CEL condition is evaluated against the claim signals and, when true,
// Reason is appended to the claim's reasons. Reason rules never change the
// fraud score or risk level.
type ReasonRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// CEL expression returning bool
	Condition string `json:"condition"`

	Reason  string `json:"reason"`
	Enabled bool   `json:"enabled"`
}

// ReasonResult is the outcome of one reason rule for a claim.
type ReasonResult struct {
	RuleID    string `json:"ruleId"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
	Err       string `json:"error,omitempty"`
}
