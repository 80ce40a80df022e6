package actions

import (
	"context"
	"errors"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
)

// Known action types.
const (
	ActionTypeAffiliateLink   = "add_affiliate_link"
	ActionTypeMetaDescription = "update_meta_description"
	ActionTypeAddToCollection = "add_to_collection"
)

var (
	ErrContentNotFound    = errors.New("content record not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrAlreadyMember      = errors.New("content is already a member of the collection")
	ErrMissingContentID   = errors.New("action data has no content_id")
)

// Handler performs one action type. The executor always calls
// PrepareRollback before Execute.
type Handler interface {
	ActionType() string
	Tier() models.Tier
	// Validate returns a non-nil error describing why the action cannot run.
	Validate(ctx context.Context, action *models.Action) error
	// PrepareRollback captures the state needed to undo Execute. It may return nil.
	PrepareRollback(ctx context.Context, action *models.Action) (*models.RollbackData, error)
	// Execute applies the action. A returned error is treated exactly like a
	// Result with Success=false.
	Execute(ctx context.Context, action *models.Action) (*Result, error)
	Rollback(ctx context.Context, data *models.RollbackData) error
}

// Result is what a handler reports after Execute.
type Result struct {
	Success      bool
	Output       map[string]interface{}
	Error        string
	RollbackData *models.RollbackData
}
