package actions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAction(t *testing.T, actionType string, data interface{}) *models.Action {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &models.Action{
		ID:         "action-1",
		ActionType: actionType,
		ActionData: raw,
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func seedContent(store *memory.Store) {
	store.PutContent(&models.ContentRecord{
		ID:             "content-1",
		Title:          "Autumn Leaves Pattern Pack",
		ContentType:    "Pattern",
		Style:          "Watercolor",
		Themes:         []string{"autumn", "botanical"},
		Author:         "Mira Lane",
		SourcePlatform: "etsy",
		SourceURL:      "https://www.etsy.com/listing/12345/autumn-leaves",
		Description:    "A set of seamless autumn patterns.",
		Tags:           []string{"seasonal"},
	})
}

func TestRegistry_UnknownTypesAreManual(t *testing.T) {
	store := memory.NewStore()
	r := NewDefaultRegistry(store, store)

	assert.Equal(t, models.TierManual, r.ExecutionTier("delete_everything"))
	assert.False(t, r.IsAutoExecutable("delete_everything"))

	_, ok := r.Get("delete_everything")
	assert.False(t, ok)

	assert.Equal(t, models.TierAuto, r.ExecutionTier(ActionTypeAffiliateLink))
	assert.True(t, r.IsAutoExecutable(ActionTypeMetaDescription))
	assert.Equal(t, []string{ActionTypeAffiliateLink, ActionTypeAddToCollection, ActionTypeMetaDescription}, r.Types())
}

func TestAffiliateLink_ExecuteAndRollback(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContent(store)
	h := NewAffiliateLinkHandler(store)
	action := newAction(t, ActionTypeAffiliateLink, map[string]string{"content_id": "content-1"})

	require.NoError(t, h.Validate(ctx, action))

	pre, err := h.PrepareRollback(ctx, action)
	require.NoError(t, err)

	result, err := h.Execute(ctx, action)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Output["links_added"])

	record, err := store.GetContent(ctx, "content-1")
	require.NoError(t, err)
	assert.Contains(t, record.Description, affiliateSectionStart)
	assert.Contains(t, record.Description, "ref=revenuemonkey")
	assert.True(t, record.HasTag("affiliate"))

	require.NoError(t, h.Rollback(ctx, pre))
	record, err = store.GetContent(ctx, "content-1")
	require.NoError(t, err)
	assert.Equal(t, "A set of seamless autumn patterns.", record.Description)
	assert.Equal(t, []string{"seasonal"}, record.Tags)
}

func TestAffiliateLink_IdempotentSection(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContent(store)
	h := NewAffiliateLinkHandler(store)
	action := newAction(t, ActionTypeAffiliateLink, map[string]string{"content_id": "content-1"})

	_, err := h.Execute(ctx, action)
	require.NoError(t, err)
	second, err := h.Execute(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Output["links_added"])

	explicit := newAction(t, ActionTypeAffiliateLink, map[string]string{
		"content_id": "content-1",
		"url":        "https://mira.gumroad.com/l/autumn",
		"label":      "Buy the bundle",
	})
	third, err := h.Execute(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Output["links_added"])

	record, err := store.GetContent(ctx, "content-1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(record.Description, affiliateSectionStart))
	assert.Len(t, parseAffiliateSection(record.Description), 2)
}

func TestAffiliateLink_ValidateRejectsUnlistedURL(t *testing.T) {
	store := memory.NewStore()
	seedContent(store)
	h := NewAffiliateLinkHandler(store)

	action := newAction(t, ActionTypeAffiliateLink, map[string]string{
		"content_id": "content-1",
		"url":        "https://totally-legit-deals.biz/buy",
	})
	err := h.Validate(context.Background(), action)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not match an allowed pattern")

	missing := newAction(t, ActionTypeAffiliateLink, map[string]string{"content_id": "nope"})
	assert.ErrorIs(t, h.Validate(context.Background(), missing), ErrContentNotFound)
}

func TestMetaDescription_ValidateLength(t *testing.T) {
	store := memory.NewStore()
	seedContent(store)
	h := NewMetaDescriptionHandler(store)

	short := newAction(t, ActionTypeMetaDescription, map[string]string{"content_id": "content-1", "meta_description": "Too short"})
	assert.Error(t, h.Validate(context.Background(), short))

	ok := newAction(t, ActionTypeMetaDescription, map[string]string{
		"content_id":       "content-1",
		"meta_description": "Watercolor autumn pattern pack with twelve seamless botanical tiles.",
	})
	assert.NoError(t, h.Validate(context.Background(), ok))

	long := newAction(t, ActionTypeMetaDescription, map[string]string{"content_id": "content-1", "meta_description": strings.Repeat("x", 161)})
	assert.Error(t, h.Validate(context.Background(), long))
}

func TestMetaDescription_SynthesizeAndRollback(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContent(store)
	h := NewMetaDescriptionHandler(store)
	action := newAction(t, ActionTypeMetaDescription, map[string]string{"content_id": "content-1"})

	result, err := h.Execute(ctx, action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Output["generated"])

	record, err := store.GetContent(ctx, "content-1")
	require.NoError(t, err)
	assert.Equal(t, "Premium watercolor pattern by Mira Lane featuring autumn and botanical. Autumn Leaves Pattern Pack.", record.MetaDescription)

	require.NoError(t, h.Rollback(ctx, result.RollbackData))
	record, err = store.GetContent(ctx, "content-1")
	require.NoError(t, err)
	assert.Equal(t, "", record.MetaDescription)
}

func TestSynthesizeMetaDescription_Truncates(t *testing.T) {
	record := &models.ContentRecord{
		IsFree:      true,
		ContentType: "Brush Set",
		Author:      "Somebody",
		Themes:      []string{"ink", "charcoal", "graphite", "pastel", "gouache", "oil"},
		Title:       strings.Repeat("Very long title ", 10),
	}

	out := SynthesizeMetaDescription(record)
	assert.LessOrEqual(t, len([]rune(out)), MaxSynthesizedDescriptionLength)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.True(t, strings.HasPrefix(out, "Free brush set by Somebody"))
}

func TestCollectionMembership_DuplicateIsValidationError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContent(store)
	store.PutCollection(&models.Collection{ID: "col-1", Name: "Autumn Picks"})
	h := NewCollectionMembershipHandler(store, store)

	action := newAction(t, ActionTypeAddToCollection, map[string]string{"content_id": "content-1", "collection_id": "col-1"})
	require.NoError(t, h.Validate(ctx, action))

	result, err := h.Execute(ctx, action)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.ErrorIs(t, h.Validate(ctx, action), ErrAlreadyMember)

	missing := newAction(t, ActionTypeAddToCollection, map[string]string{"content_id": "content-1", "collection_id": "col-x"})
	assert.ErrorIs(t, h.Validate(ctx, missing), ErrCollectionNotFound)
}

func TestCollectionMembership_FindOrCreateAndRollbackByID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContent(store)
	h := NewCollectionMembershipHandler(store, store)

	action := newAction(t, ActionTypeAddToCollection, map[string]string{
		"content_id":      "content-1",
		"collection_name": "Trending This Week",
		"reason":          "high click-through",
	})
	require.NoError(t, h.Validate(ctx, action))

	result, err := h.Execute(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["created_collection"])

	collection, err := store.FindSystemCollectionByName(ctx, "Trending This Week")
	require.NoError(t, err)
	members := store.Memberships(collection.ID)
	require.Len(t, members, 1)
	assert.Equal(t, "Added automatically: high click-through", members[0].Note)

	// An unrelated membership in the same collection survives rollback.
	require.NoError(t, store.AddMembership(ctx, &models.CollectionMembership{ID: "other", CollectionID: collection.ID, ContentID: "content-2"}))

	require.NoError(t, h.Rollback(ctx, result.RollbackData))
	members = store.Memberships(collection.ID)
	require.Len(t, members, 1)
	assert.Equal(t, "other", members[0].ID)
}

func TestCollectionMembership_PrepareRollbackIsEmpty(t *testing.T) {
	store := memory.NewStore()
	h := NewCollectionMembershipHandler(store, store)

	data, err := h.PrepareRollback(context.Background(), &models.Action{})
	assert.NoError(t, err)
	assert.True(t, data.IsEmpty())
}
