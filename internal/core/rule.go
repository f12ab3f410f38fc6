package core

import "time"

// Operator is a rule condition comparison
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpRegex       Operator = "regex"
)

// Operators lists every supported operator
var Operators = []Operator{OpEquals, OpContains, OpStartsWith, OpEndsWith, OpGreaterThan, OpLessThan, OpIn, OpRegex}

// Field is an email attribute a condition can read
type Field string

const (
	FieldSender          Field = "sender"
	FieldSubject         Field = "subject"
	FieldDomain          Field = "domain"
	FieldScore           Field = "score"
	FieldURLCount        Field = "url_count"
	FieldStatus          Field = "status"
	FieldBody            Field = "body"
	FieldRiskLevel       Field = "risk_level"
	FieldAttachmentCount Field = "attachment_count"
	FieldSenderBlocked   Field = "sender_blocked"
	FieldDomainTrusted   Field = "domain_trusted"
)

// ActionType is a rule action variant
type ActionType string

const (
	ActionMarkStatus    ActionType = "mark_status"
	ActionAutoReport    ActionType = "auto_report"
	ActionFlagForReview ActionType = "flag_for_review"
	ActionDelete        ActionType = "delete"
	ActionAddLabel      ActionType = "add_label"
	ActionBlockSender   ActionType = "block_sender"
	ActionTrustDomain   ActionType = "trust_domain"
)

// Condition is one field/operator/value test
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
}

// Action is one rule effect with its parameters
type Action struct {
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// EmailRule is a user-defined automation rule
type EmailRule struct {
	ID           int64
	OwnerID      string
	Name         string
	Conditions   []Condition
	Actions      []Action
	Enabled      bool
	Priority     int
	MatchedCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
