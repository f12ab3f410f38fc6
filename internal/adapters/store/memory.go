package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/phishguard/internal/core"
)

// NewMemory creates in-memory repositories, used by the one-shot checker and tests
func NewMemory() *Stores {
	return &Stores{
		Emails:      NewMemoryEmailStore(),
		Rules:       NewMemoryRuleStore(),
		Reports:     NewMemoryReportStore(),
		Preferences: NewMemoryPreferenceStore(),
	}
}

// MemoryEmailStore is an in-memory EmailRepository
type MemoryEmailStore struct {
	mu     sync.RWMutex
	emails map[string]*core.Email
}

// NewMemoryEmailStore creates an empty email store
func NewMemoryEmailStore() *MemoryEmailStore {
	return &MemoryEmailStore{emails: make(map[string]*core.Email)}
}

// Save implements core.EmailRepository
func (s *MemoryEmailStore) Save(_ context.Context, email *core.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[email.ID] = email.Clone()
	return nil
}

// Get implements core.EmailRepository
func (s *MemoryEmailStore) Get(_ context.Context, id string) (*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return e.Clone(), nil
}

// ListByOwner implements core.EmailRepository
func (s *MemoryEmailStore) ListByOwner(_ context.Context, ownerID string) ([]*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Email
	for _, e := range s.emails {
		if e.OwnerID == ownerID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type matchKey struct {
	ruleID  int64
	emailID string
}

// MemoryRuleStore is an in-memory RuleRepository
type MemoryRuleStore struct {
	mu      sync.RWMutex
	nextID  int64
	rules   map[int64]*core.EmailRule
	matches map[matchKey]time.Time
}

// NewMemoryRuleStore creates an empty rule store
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		rules:   make(map[int64]*core.EmailRule),
		matches: make(map[matchKey]time.Time),
	}
}

// Save implements core.RuleRepository
func (s *MemoryRuleStore) Save(_ context.Context, rule *core.EmailRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		s.nextID++
		rule.ID = s.nextID
	} else if rule.ID > s.nextID {
		s.nextID = rule.ID
	}
	if existing, ok := s.rules[rule.ID]; ok && rule.MatchedCount < existing.MatchedCount {
		// matched_count only moves forward
		rule.MatchedCount = existing.MatchedCount
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// Get implements core.RuleRepository
func (s *MemoryRuleStore) Get(_ context.Context, id int64) (*core.EmailRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneRule(r), nil
}

// ListEnabled implements core.RuleRepository
func (s *MemoryRuleStore) ListEnabled(_ context.Context, ownerID string) ([]*core.EmailRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.EmailRule
	for _, r := range s.rules {
		if r.Enabled && r.OwnerID == ownerID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListByOwner implements core.RuleRepository
func (s *MemoryRuleStore) ListByOwner(_ context.Context, ownerID string) ([]*core.EmailRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.EmailRule
	for _, r := range s.rules {
		if r.OwnerID == ownerID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IncrementMatchCount implements core.RuleRepository
func (s *MemoryRuleStore) IncrementMatchCount(_ context.Context, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return core.ErrNotFound
	}
	r.MatchedCount++
	return nil
}

// RecordMatch implements core.RuleRepository
func (s *MemoryRuleStore) RecordMatch(_ context.Context, ruleID int64, emailID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := matchKey{ruleID: ruleID, emailID: emailID}
	if _, ok := s.matches[key]; ok {
		return false, nil
	}
	s.matches[key] = time.Now().UTC()
	return true, nil
}

// MemoryReportStore is an in-memory ReportRepository
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string]*core.Report
}

// NewMemoryReportStore creates an empty report store
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[string]*core.Report)}
}

// Save implements core.ReportRepository
func (s *MemoryReportStore) Save(_ context.Context, report *core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ID] = cloneReport(report)
	return nil
}

// Get implements core.ReportRepository
func (s *MemoryReportStore) Get(_ context.Context, id string) (*core.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneReport(r), nil
}

// ListByEmail implements core.ReportRepository
func (s *MemoryReportStore) ListByEmail(_ context.Context, emailID string) ([]*core.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Report
	for _, r := range s.reports {
		if r.EmailID == emailID {
			out = append(out, cloneReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryPreferenceStore is an in-memory PreferenceStore
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]*core.UserPreferences
}

// NewMemoryPreferenceStore creates an empty preference store
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]*core.UserPreferences)}
}

// Get implements core.PreferenceStore
func (s *MemoryPreferenceStore) Get(_ context.Context, ownerID string) (*core.UserPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[ownerID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return clonePrefs(p), nil
}

// Save implements core.PreferenceStore
func (s *MemoryPreferenceStore) Save(_ context.Context, prefs *core.UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.OwnerID] = clonePrefs(prefs)
	return nil
}

// BlockSender implements core.PreferenceStore
func (s *MemoryPreferenceStore) BlockSender(_ context.Context, ownerID, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrDefault(ownerID)
	p.BlockedSenders = appendUnique(p.BlockedSenders, strings.ToLower(sender))
	return nil
}

// TrustDomain implements core.PreferenceStore
func (s *MemoryPreferenceStore) TrustDomain(_ context.Context, ownerID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrDefault(ownerID)
	p.TrustedDomains = appendUnique(p.TrustedDomains, strings.ToLower(domain))
	return nil
}

func (s *MemoryPreferenceStore) getOrDefault(ownerID string) *core.UserPreferences {
	p, ok := s.prefs[ownerID]
	if !ok {
		p = core.DefaultPreferences(ownerID)
		s.prefs[ownerID] = p
	}
	return p
}
