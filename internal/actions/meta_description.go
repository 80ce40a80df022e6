package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

const (
	MinMetaDescriptionLength        = 50
	MaxMetaDescriptionLength        = 160
	MaxSynthesizedDescriptionLength = 155
)

type metaDescriptionPayload struct {
	ContentID       string `json:"content_id"`
	MetaDescription string `json:"meta_description,omitempty"`
}

type metaRollbackState struct {
	ContentID       string `json:"content_id"`
	MetaDescription string `json:"meta_description"`
}

// MetaDescriptionHandler replaces a record's SEO meta description.
type MetaDescriptionHandler struct {
	content repository.ContentStore
}

func NewMetaDescriptionHandler(content repository.ContentStore) *MetaDescriptionHandler {
	return &MetaDescriptionHandler{content: content}
}

func (h *MetaDescriptionHandler) ActionType() string { return ActionTypeMetaDescription }

func (h *MetaDescriptionHandler) Tier() models.Tier { return models.TierAuto }

func (h *MetaDescriptionHandler) Validate(ctx context.Context, action *models.Action) error {
	payload, err := h.decode(action)
	if err != nil {
		return err
	}

	if _, err := h.loadContent(ctx, payload.ContentID); err != nil {
		return err
	}

	if payload.MetaDescription != "" {
		n := utf8.RuneCountInString(payload.MetaDescription)
		if n < MinMetaDescriptionLength || n > MaxMetaDescriptionLength {
			return fmt.Errorf("meta description must be %d-%d characters, got %d",
				MinMetaDescriptionLength, MaxMetaDescriptionLength, n)
		}
	}

	return nil
}

func (h *MetaDescriptionHandler) PrepareRollback(ctx context.Context, action *models.Action) (*models.RollbackData, error) {
	payload, err := h.decode(action)
	if err != nil {
		return nil, err
	}
	record, err := h.loadContent(ctx, payload.ContentID)
	if err != nil {
		return nil, err
	}
	return models.NewRollbackData(ActionTypeMetaDescription, metaRollbackState{
		ContentID:       record.ID,
		MetaDescription: record.MetaDescription,
	})
}

func (h *MetaDescriptionHandler) Execute(ctx context.Context, action *models.Action) (*Result, error) {
	payload, err := h.decode(action)
	if err != nil {
		return nil, err
	}
	record, err := h.loadContent(ctx, payload.ContentID)
	if err != nil {
		return nil, err
	}

	description := payload.MetaDescription
	generated := false
	if description == "" {
		description = SynthesizeMetaDescription(record)
		generated = true
	}

	rollbackData, err := models.NewRollbackData(ActionTypeMetaDescription, metaRollbackState{
		ContentID:       record.ID,
		MetaDescription: record.MetaDescription,
	})
	if err != nil {
		return nil, err
	}

	if err := h.content.UpdateContent(ctx, record.ID, repository.ContentUpdate{MetaDescription: &description}); err != nil {
		return nil, fmt.Errorf("failed to update meta description for %s: %w", record.ID, err)
	}

	logger.For(logger.ComponentHandler).Infof("Updated meta description for content %s (generated: %v)", record.ID, generated)

	return &Result{
		Success: true,
		Output: map[string]interface{}{
			"meta_description": description,
			"previous":         record.MetaDescription,
			"generated":        generated,
		},
		RollbackData: rollbackData,
	}, nil
}

func (h *MetaDescriptionHandler) Rollback(ctx context.Context, data *models.RollbackData) error {
	var state metaRollbackState
	if err := data.Decode(ActionTypeMetaDescription, &state); err != nil {
		return err
	}
	if state.ContentID == "" {
		return ErrMissingContentID
	}
	return h.content.UpdateContent(ctx, state.ContentID, repository.ContentUpdate{MetaDescription: &state.MetaDescription})
}

func (h *MetaDescriptionHandler) decode(action *models.Action) (*metaDescriptionPayload, error) {
	var payload metaDescriptionPayload
	if err := action.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("invalid action data: %w", err)
	}
	if payload.ContentID == "" {
		return nil, ErrMissingContentID
	}
	payload.MetaDescription = strings.TrimSpace(payload.MetaDescription)
	return &payload, nil
}

func (h *MetaDescriptionHandler) loadContent(ctx context.Context, id string) (*models.ContentRecord, error) {
	record, err := h.content.GetContent(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, id)
	}
	return record, err
}

// SynthesizeMetaDescription builds a description from the record's structured
// attributes, truncated with an ellipsis to MaxSynthesizedDescriptionLength.
func SynthesizeMetaDescription(record *models.ContentRecord) string {
	var b strings.Builder

	if record.IsFree {
		b.WriteString("Free ")
	} else {
		b.WriteString("Premium ")
	}
	if record.Style != "" {
		b.WriteString(strings.ToLower(record.Style))
		b.WriteString(" ")
	}
	contentType := record.ContentType
	if contentType == "" {
		contentType = "content"
	}
	b.WriteString(strings.ToLower(contentType))

	if record.Author != "" {
		b.WriteString(" by ")
		b.WriteString(record.Author)
	}
	if len(record.Themes) > 0 {
		b.WriteString(" featuring ")
		b.WriteString(joinThemes(record.Themes))
	}
	b.WriteString(".")
	if record.Title != "" {
		b.WriteString(" ")
		b.WriteString(record.Title)
		b.WriteString(".")
	}

	return truncateWithEllipsis(b.String(), MaxSynthesizedDescriptionLength)
}

func joinThemes(themes []string) string {
	switch len(themes) {
	case 1:
		return themes[0]
	case 2:
		return themes[0] + " and " + themes[1]
	default:
		return strings.Join(themes[:len(themes)-1], ", ") + " and " + themes[len(themes)-1]
	}
}

func truncateWithEllipsis(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max-3]), " ,.") + "..."
}
