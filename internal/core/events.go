package core

import "time"

// Event types published to collaborators
const (
	EventEmailAnalyzed = "email.analyzed"
	EventRuleMatched   = "rule.matched"
	EventReportSent    = "report.sent"
	EventReportFailed  = "report.failed"
)

// Event is a structured notification about a state change
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// NewEmailAnalyzedEvent builds the email.analyzed event
func NewEmailAnalyzedEvent(emailID string, score int, level RiskLevel) Event {
	return Event{
		Type:       EventEmailAnalyzed,
		OccurredAt: time.Now().UTC(),
		Data:       map[string]any{"email_id": emailID, "score": score, "level": string(level)},
	}
}

// NewRuleMatchedEvent builds the rule.matched event
func NewRuleMatchedEvent(ruleID int64, emailID string, actions []string) Event {
	return Event{
		Type:       EventRuleMatched,
		OccurredAt: time.Now().UTC(),
		Data:       map[string]any{"rule_id": ruleID, "email_id": emailID, "actions": actions},
	}
}

// NewReportEvent builds report.sent or report.failed depending on the report status
func NewReportEvent(r *Report) Event {
	t := EventReportSent
	if r.Status != ReportSent {
		t = EventReportFailed
	}
	return Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Data:       map[string]any{"report_id": r.ID, "email_id": r.EmailID},
	}
}
