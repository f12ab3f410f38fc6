package httpapi

import (
	"time"

	"github.com/mikey/phishguard/internal/core"
)

// EmailResponse is the JSON form of a stored email
type EmailResponse struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id,omitempty"`
	From        string            `json:"from"`
	To          []string          `json:"to,omitempty"`
	Subject     string            `json:"subject"`
	URLs        []string          `json:"urls,omitempty"`
	Attachments []core.Attachment `json:"attachments,omitempty"`
	Score       int               `json:"score"`
	RiskLevel   string            `json:"risk_level,omitempty"`
	Flags       []string          `json:"flags,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Status      string            `json:"status"`
	Flagged     bool              `json:"flagged"`
	DomainInfo  *core.DomainInfo  `json:"domain_info,omitempty"`
	IPInfo      *core.IPInfo      `json:"ip_info,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	AnalyzedAt  *time.Time        `json:"analyzed_at,omitempty"`
	ReportedAt  *time.Time        `json:"reported_at,omitempty"`
}

func newEmailResponse(e *core.Email) EmailResponse {
	return EmailResponse{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		From:        e.From,
		To:          e.To,
		Subject:     e.Subject,
		URLs:        e.URLs,
		Attachments: e.Attachments,
		Score:       e.Score,
		RiskLevel:   string(e.RiskLevel),
		Flags:       e.Flags,
		Labels:      e.Labels,
		Status:      string(e.Status),
		Flagged:     e.Flagged,
		DomainInfo:  e.DomainInfo,
		IPInfo:      e.IPInfo,
		CreatedAt:   e.CreatedAt,
		AnalyzedAt:  e.AnalyzedAt,
		ReportedAt:  e.ReportedAt,
	}
}

// AssessmentResponse is the JSON form of an analysis run
type AssessmentResponse struct {
	EmailID  string             `json:"email_id"`
	Score    int                `json:"score"`
	Level    string             `json:"level"`
	Partials core.PartialScores `json:"partials"`
	Flags    []string           `json:"flags,omitempty"`
	Degraded []string           `json:"degraded,omitempty"`
}

func newAssessmentResponse(emailID string, a *core.Assessment) AssessmentResponse {
	return AssessmentResponse{
		EmailID:  emailID,
		Score:    a.Score,
		Level:    string(a.Level),
		Partials: a.Partials,
		Flags:    a.Flags,
		Degraded: a.Degraded,
	}
}

// ReportResponse is the JSON form of an abuse report
type ReportResponse struct {
	ID             string     `json:"id"`
	EmailID        string     `json:"email_id"`
	RuleID         *int64     `json:"rule_id,omitempty"`
	RecipientEmail string     `json:"recipient_email"`
	RecipientType  string     `json:"recipient_type"`
	Language       string     `json:"language"`
	Subject        string     `json:"subject"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

func newReportResponses(reports []*core.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, ReportResponse{
			ID:             r.ID,
			EmailID:        r.EmailID,
			RuleID:         r.RuleID,
			RecipientEmail: r.RecipientEmail,
			RecipientType:  string(r.RecipientType),
			Language:       r.Language,
			Subject:        r.Subject,
			Status:         string(r.Status),
			RetryCount:     r.RetryCount,
			ErrorMessage:   r.ErrorMessage,
			CreatedAt:      r.CreatedAt,
			SentAt:         r.SentAt,
		})
	}
	return out
}
