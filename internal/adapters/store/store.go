// Package store holds the record repositories: in-memory, SQLite and Postgres.
package store

import (
	"io"

	"github.com/mikey/phishguard/internal/core"
)

// Stores groups the repositories of one backend
type Stores struct {
	Emails      core.EmailRepository
	Rules       core.RuleRepository
	Reports     core.ReportRepository
	Preferences core.PreferenceStore

	closer io.Closer
}

// Close releases the backend connection, if any
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func cloneReport(r *core.Report) *core.Report {
	c := *r
	if r.RuleID != nil {
		id := *r.RuleID
		c.RuleID = &id
	}
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	return &c
}

func cloneRule(r *core.EmailRule) *core.EmailRule {
	c := *r
	c.Conditions = append([]core.Condition(nil), r.Conditions...)
	c.Actions = make([]core.Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = core.Action{Type: a.Type}
		if a.Params != nil {
			c.Actions[i].Params = make(map[string]string, len(a.Params))
			for k, v := range a.Params {
				c.Actions[i].Params[k] = v
			}
		}
	}
	return &c
}

func clonePrefs(p *core.UserPreferences) *core.UserPreferences {
	c := *p
	c.BlockedSenders = append([]string(nil), p.BlockedSenders...)
	c.TrustedDomains = append([]string(nil), p.TrustedDomains...)
	return &c
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
