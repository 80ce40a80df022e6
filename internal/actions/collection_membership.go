package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
	"github.com/google/uuid"
)

type collectionPayload struct {
	ContentID      string `json:"content_id"`
	CollectionID   string `json:"collection_id,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type collectionRollbackState struct {
	MembershipID string `json:"membership_id"`
	CollectionID string `json:"collection_id"`
	ContentID    string `json:"content_id"`
}

// CollectionMembershipHandler adds a content record to a curated collection.
type CollectionMembershipHandler struct {
	content     repository.ContentStore
	collections repository.CollectionStore
	clock       func() time.Time
	newID       func() string
}

func NewCollectionMembershipHandler(content repository.ContentStore, collections repository.CollectionStore) *CollectionMembershipHandler {
	return &CollectionMembershipHandler{
		content:     content,
		collections: collections,
		clock:       time.Now,
		newID:       uuid.NewString,
	}
}

func (h *CollectionMembershipHandler) ActionType() string { return ActionTypeAddToCollection }

func (h *CollectionMembershipHandler) Tier() models.Tier { return models.TierAuto }

func (h *CollectionMembershipHandler) Validate(ctx context.Context, action *models.Action) error {
	payload, err := h.decode(action)
	if err != nil {
		return err
	}

	if _, err := h.content.GetContent(ctx, payload.ContentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrContentNotFound, payload.ContentID)
		}
		return err
	}

	collection, err := h.findCollection(ctx, payload)
	if err != nil {
		return err
	}
	if collection == nil {
		// Named system collection does not exist yet; Execute creates it.
		return nil
	}

	member, err := h.collections.HasMembership(ctx, collection.ID, payload.ContentID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if member {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyMember, payload.ContentID, collection.ID)
	}

	return nil
}

// PrepareRollback has nothing to capture: the membership row to delete only
// exists once Execute has created it.
func (h *CollectionMembershipHandler) PrepareRollback(ctx context.Context, action *models.Action) (*models.RollbackData, error) {
	return nil, nil
}

func (h *CollectionMembershipHandler) Execute(ctx context.Context, action *models.Action) (*Result, error) {
	log := logger.For(logger.ComponentHandler)

	payload, err := h.decode(action)
	if err != nil {
		return nil, err
	}

	collection, err := h.findCollection(ctx, payload)
	if err != nil {
		return nil, err
	}

	createdCollection := false
	if collection == nil {
		collection = &models.Collection{
			ID:        h.newID(),
			Name:      payload.CollectionName,
			IsSystem:  true,
			CreatedAt: h.clock(),
		}
		if err := h.collections.CreateCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("failed to create collection %q: %w", payload.CollectionName, err)
		}
		createdCollection = true
		log.Infof("Created system collection %q (%s)", collection.Name, collection.ID)
	}

	note := "Added automatically"
	if payload.Reason != "" {
		note = fmt.Sprintf("Added automatically: %s", payload.Reason)
	}

	membership := &models.CollectionMembership{
		ID:           h.newID(),
		CollectionID: collection.ID,
		ContentID:    payload.ContentID,
		Note:         note,
		CreatedAt:    h.clock(),
	}
	if err := h.collections.AddMembership(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to add %s to collection %s: %w", payload.ContentID, collection.ID, err)
	}

	rollbackData, err := models.NewRollbackData(ActionTypeAddToCollection, collectionRollbackState{
		MembershipID: membership.ID,
		CollectionID: collection.ID,
		ContentID:    payload.ContentID,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Added content %s to collection %s", payload.ContentID, collection.ID)

	return &Result{
		Success: true,
		Output: map[string]interface{}{
			"membership_id":      membership.ID,
			"collection_id":      collection.ID,
			"collection_name":    collection.Name,
			"created_collection": createdCollection,
		},
		RollbackData: rollbackData,
	}, nil
}

// Rollback deletes the exact membership row created by Execute.
func (h *CollectionMembershipHandler) Rollback(ctx context.Context, data *models.RollbackData) error {
	var state collectionRollbackState
	if err := data.Decode(ActionTypeAddToCollection, &state); err != nil {
		return err
	}
	if state.MembershipID == "" {
		return fmt.Errorf("rollback data has no membership_id")
	}
	return h.collections.DeleteMembership(ctx, state.MembershipID)
}

func (h *CollectionMembershipHandler) decode(action *models.Action) (*collectionPayload, error) {
	var payload collectionPayload
	if err := action.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("invalid action data: %w", err)
	}
	if payload.ContentID == "" {
		return nil, ErrMissingContentID
	}
	payload.CollectionName = strings.TrimSpace(payload.CollectionName)
	if payload.CollectionID == "" && payload.CollectionName == "" {
		return nil, fmt.Errorf("action data needs collection_id or collection_name")
	}
	return &payload, nil
}

// findCollection resolves the target collection. A nil collection with a nil
// error means the named system collection has not been created yet.
func (h *CollectionMembershipHandler) findCollection(ctx context.Context, payload *collectionPayload) (*models.Collection, error) {
	if payload.CollectionID != "" {
		collection, err := h.collections.GetCollection(ctx, payload.CollectionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, payload.CollectionID)
		}
		return collection, err
	}

	collection, err := h.collections.FindSystemCollectionByName(ctx, payload.CollectionName)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return collection, err
}
