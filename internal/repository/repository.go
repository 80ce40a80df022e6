package repository

import (
	"context"
	"errors"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a conditional write lost to a concurrent change.
	ErrConflict = errors.New("record conflict")
)

// ActionFilter selects actions. Zero-valued fields do not constrain the query.
// Results are ordered oldest first.
type ActionFilter struct {
	OpportunityID   string
	Statuses        []models.ActionStatus
	ExcludeStatuses []models.ActionStatus
	Tier            models.Tier
	AutoExecutable  *bool
	MaxAttempts     int // attempts strictly below this value
	NotExecuted     bool
	Limit           int
}

// ActionUpdate carries the fields to change on an action. Nil fields are left untouched.
type ActionUpdate struct {
	Status          *models.ActionStatus
	ExecutionResult *models.ExecutionOutcome
	ExecutedAt      *time.Time
	RolledBackAt    *time.Time
}

// OpportunityUpdate carries the fields to change on an opportunity.
type OpportunityUpdate struct {
	Status        *models.OpportunityStatus
	ImplementedAt *time.Time
}

// OpportunityFilter selects opportunities. Results are ordered by estimated
// revenue impact, highest first.
type OpportunityFilter struct {
	Status           models.OpportunityStatus
	ImplementedSince time.Time
	Limit            int
}

// ExecutionLogFilter selects execution logs for counting. Since matches the
// execution time; RolledBackSince matches the rollback time and implies the
// log was rolled back.
type ExecutionLogFilter struct {
	ExecutedBy      []models.Trigger
	Since           time.Time
	Success         *bool
	RolledBack      *bool
	RolledBackSince time.Time
}

// ContentUpdate carries the fields to change on a content record.
type ContentUpdate struct {
	Description     *string
	MetaDescription *string
	Tags            []string
	SetTags         bool
}

// ActionStore persists actions.
type ActionStore interface {
	GetAction(ctx context.Context, id string) (*models.Action, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]*models.Action, error)
	CountActions(ctx context.Context, filter ActionFilter) (int, error)
	UpdateAction(ctx context.Context, id string, update ActionUpdate) error
	// IncrementExecutionAttempts adds one attempt and stamps lastAttemptAt,
	// returning the new attempt count.
	IncrementExecutionAttempts(ctx context.Context, id string, at time.Time) (int, error)
}

// OpportunityStore persists opportunities.
type OpportunityStore interface {
	GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error)
	UpdateOpportunity(ctx context.Context, id string, update OpportunityUpdate) error
	ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]*models.Opportunity, error)
}

// ExecutionLogStore persists the execution audit trail.
type ExecutionLogStore interface {
	CreateExecutionLog(ctx context.Context, log *models.ExecutionLog) error
	GetExecutionLog(ctx context.Context, id string) (*models.ExecutionLog, error)
	CountExecutionLogs(ctx context.Context, filter ExecutionLogFilter) (int, error)
	ListRecentExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error)
	// MarkExecutionLogRolledBack stamps rollback metadata once. A log that is
	// already stamped yields ErrConflict.
	MarkExecutionLogRolledBack(ctx context.Context, id string, at time.Time, by string, reason string) error
}

// ContentStore persists the content records handlers act upon.
type ContentStore interface {
	GetContent(ctx context.Context, id string) (*models.ContentRecord, error)
	UpdateContent(ctx context.Context, id string, update ContentUpdate) error
}

// CollectionStore persists collections and their memberships.
type CollectionStore interface {
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	FindSystemCollectionByName(ctx context.Context, name string) (*models.Collection, error)
	CreateCollection(ctx context.Context, collection *models.Collection) error
	HasMembership(ctx context.Context, collectionID, contentID string) (bool, error)
	AddMembership(ctx context.Context, membership *models.CollectionMembership) error
	DeleteMembership(ctx context.Context, id string) error
}

// PreferenceStore persists per-recipient notification preferences.
type PreferenceStore interface {
	GetNotificationPreferences(ctx context.Context, recipient string) (*models.NotificationPreferences, error)
	SaveNotificationPreferences(ctx context.Context, prefs *models.NotificationPreferences) error
}

// Repository is everything the executor reads and writes.
type Repository interface {
	ActionStore
	OpportunityStore
	ExecutionLogStore
}
