package core

import "time"

// ReportStatus is the delivery state of an abuse report
type ReportStatus string

const (
	ReportPending ReportStatus = "pending"
	ReportSent    ReportStatus = "sent"
	ReportFailed  ReportStatus = "failed"
)

// RecipientType classifies who receives an abuse report
type RecipientType string

const (
	RecipientRegistrar     RecipientType = "registrar"
	RecipientCloudProvider RecipientType = "cloud_provider"
	RecipientNationalCERT  RecipientType = "national_cert"
	RecipientCustom        RecipientType = "custom"
)

// ParseRecipientType converts a string into a RecipientType
func ParseRecipientType(s string) (RecipientType, bool) {
	switch t := RecipientType(s); t {
	case RecipientRegistrar, RecipientCloudProvider, RecipientNationalCERT, RecipientCustom:
		return t, true
	}
	return "", false
}

// Report is one abuse report addressed to one recipient
type Report struct {
	ID             string
	EmailID        string
	RuleID         *int64
	RecipientEmail string
	RecipientType  RecipientType
	Language       string
	Subject        string
	Content        string
	Status         ReportStatus
	RetryCount     int
	CreatedAt      time.Time
	SentAt         *time.Time
	ErrorMessage   string
}

// Recipient is a resolved report destination
type Recipient struct {
	Address string
	Type    RecipientType
}

// DispatchRequest describes a report dispatch, from a rule action or a manual trigger
type DispatchRequest struct {
	Language string
	// Types restricts which recipient kinds are resolved, empty means all
	Types []RecipientType
	// Custom is an explicit extra recipient address
	Custom string
	RuleID *int64
}
