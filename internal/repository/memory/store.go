// Package memory is a process-local repository used for development runs
// without a database and as the fixture store in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

// Store keeps every record in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	actions       map[string]*models.Action
	opportunities map[string]*models.Opportunity
	logs          map[string]*models.ExecutionLog
	logOrder      []string
	content       map[string]*models.ContentRecord
	collections   map[string]*models.Collection
	memberships   map[string]*models.CollectionMembership
	preferences   map[string]*models.NotificationPreferences
}

func NewStore() *Store {
	return &Store{
		actions:       map[string]*models.Action{},
		opportunities: map[string]*models.Opportunity{},
		logs:          map[string]*models.ExecutionLog{},
		content:       map[string]*models.ContentRecord{},
		collections:   map[string]*models.Collection{},
		memberships:   map[string]*models.CollectionMembership{},
		preferences:   map[string]*models.NotificationPreferences{},
	}
}

// ===== [SEEDING] =====

func (s *Store) PutAction(action *models.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *action
	s.actions[action.ID] = &cp
}

func (s *Store) PutOpportunity(opportunity *models.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *opportunity
	s.opportunities[opportunity.ID] = &cp
}

func (s *Store) PutContent(record *models.ContentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[record.ID] = copyContent(record)
}

func (s *Store) PutCollection(collection *models.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *collection
	s.collections[collection.ID] = &cp
}

// Memberships returns every membership of a collection.
func (s *Store) Memberships(collectionID string) []*models.CollectionMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CollectionMembership
	for _, m := range s.memberships {
		if m.CollectionID == collectionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

// ===== [ACTIONS] =====

func (s *Store) GetAction(ctx context.Context, id string) (*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *action
	return &cp, nil
}

func (s *Store) ListActions(ctx context.Context, filter repository.ActionFilter) ([]*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchActions(filter)
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.Action, 0, len(matched))
	for _, a := range matched {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CountActions(ctx context.Context, filter repository.ActionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchActions(filter)), nil
}

func (s *Store) matchActions(filter repository.ActionFilter) []*models.Action {
	var matched []*models.Action
	for _, a := range s.actions {
		if filter.OpportunityID != "" && a.OpportunityID != filter.OpportunityID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if containsStatus(filter.ExcludeStatuses, a.Status) {
			continue
		}
		if filter.Tier != 0 && a.Tier != filter.Tier {
			continue
		}
		if filter.AutoExecutable != nil && a.AutoExecutable != *filter.AutoExecutable {
			continue
		}
		if filter.MaxAttempts > 0 && a.ExecutionAttempts >= filter.MaxAttempts {
			continue
		}
		if filter.NotExecuted && a.ExecutedAt != nil {
			continue
		}
		matched = append(matched, a)
	}
	return matched
}

func (s *Store) UpdateAction(ctx context.Context, id string, update repository.ActionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Status != nil {
		action.Status = *update.Status
	}
	if update.ExecutionResult != nil {
		result := *update.ExecutionResult
		action.ExecutionResult = &result
	}
	if update.ExecutedAt != nil {
		at := *update.ExecutedAt
		action.ExecutedAt = &at
	}
	if update.RolledBackAt != nil {
		at := *update.RolledBackAt
		action.RolledBackAt = &at
	}
	return nil
}

func (s *Store) IncrementExecutionAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	action.ExecutionAttempts++
	action.LastAttemptAt = &at
	return action.ExecutionAttempts, nil
}

// ===== [OPPORTUNITIES] =====

func (s *Store) GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opportunity, ok := s.opportunities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *opportunity
	return &cp, nil
}

func (s *Store) UpdateOpportunity(ctx context.Context, id string, update repository.OpportunityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opportunity, ok := s.opportunities[id]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Status != nil {
		opportunity.Status = *update.Status
	}
	if update.ImplementedAt != nil {
		at := *update.ImplementedAt
		opportunity.ImplementedAt = &at
	}
	return nil
}

func (s *Store) ListOpportunities(ctx context.Context, filter repository.OpportunityFilter) ([]*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Opportunity
	for _, o := range s.opportunities {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if !filter.ImplementedSince.IsZero() && (o.ImplementedAt == nil || o.ImplementedAt.Before(filter.ImplementedSince)) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EstimatedRevenueImpact > out[j].EstimatedRevenueImpact
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ===== [EXECUTION LOGS] =====

func (s *Store) CreateExecutionLog(ctx context.Context, log *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logs[log.ID]; exists {
		return repository.ErrConflict
	}
	cp := *log
	s.logs[log.ID] = &cp
	s.logOrder = append(s.logOrder, log.ID)
	return nil
}

func (s *Store) GetExecutionLog(ctx context.Context, id string) (*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *log
	return &cp, nil
}

func (s *Store) CountExecutionLogs(ctx context.Context, filter repository.ExecutionLogFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, log := range s.logs {
		if len(filter.ExecutedBy) > 0 && !containsTrigger(filter.ExecutedBy, log.ExecutedBy) {
			continue
		}
		if !filter.Since.IsZero() && log.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.Success != nil && log.Success != *filter.Success {
			continue
		}
		if filter.RolledBack != nil && (log.RolledBackAt != nil) != *filter.RolledBack {
			continue
		}
		if !filter.RolledBackSince.IsZero() && (log.RolledBackAt == nil || log.RolledBackAt.Before(filter.RolledBackSince)) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) ListRecentExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExecutionLog
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *s.logs[s.logOrder[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkExecutionLogRolledBack(ctx context.Context, id string, at time.Time, by string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if log.RolledBackAt != nil {
		return repository.ErrConflict
	}
	log.RolledBackAt = &at
	log.RolledBackBy = by
	log.RollbackReason = reason
	return nil
}

// ===== [CONTENT] =====

func (s *Store) GetContent(ctx context.Context, id string) (*models.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.content[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyContent(record), nil
}

func (s *Store) UpdateContent(ctx context.Context, id string, update repository.ContentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.content[id]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Description != nil {
		record.Description = *update.Description
	}
	if update.MetaDescription != nil {
		record.MetaDescription = *update.MetaDescription
	}
	if update.SetTags {
		record.Tags = append([]string(nil), update.Tags...)
	}
	record.UpdatedAt = time.Now()
	return nil
}

// ===== [COLLECTIONS] =====

func (s *Store) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	collection, ok := s.collections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *collection
	return &cp, nil
}

func (s *Store) FindSystemCollectionByName(ctx context.Context, name string) (*models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.collections {
		if c.IsSystem && c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) CreateCollection(ctx context.Context, collection *models.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[collection.ID]; exists {
		return repository.ErrConflict
	}
	cp := *collection
	s.collections[collection.ID] = &cp
	return nil
}

func (s *Store) HasMembership(ctx context.Context, collectionID, contentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.CollectionID == collectionID && m.ContentID == contentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddMembership(ctx context.Context, membership *models.CollectionMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.CollectionID == membership.CollectionID && m.ContentID == membership.ContentID {
			return repository.ErrConflict
		}
	}
	cp := *membership
	s.memberships[membership.ID] = &cp
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.memberships, id)
	return nil
}

// ===== [PREFERENCES] =====

func (s *Store) GetNotificationPreferences(ctx context.Context, recipient string) (*models.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs, ok := s.preferences[recipient]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *prefs
	return &cp, nil
}

func (s *Store) SaveNotificationPreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *prefs
	s.preferences[prefs.Recipient] = &cp
	return nil
}

func copyContent(record *models.ContentRecord) *models.ContentRecord {
	cp := *record
	cp.Tags = append([]string(nil), record.Tags...)
	cp.Themes = append([]string(nil), record.Themes...)
	return &cp
}

func containsStatus(list []models.ActionStatus, status models.ActionStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func containsTrigger(list []models.Trigger, trigger models.Trigger) bool {
	for _, t := range list {
		if t == trigger {
			return true
		}
	}
	return false
}
