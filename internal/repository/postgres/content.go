package postgres

import (
	"context"
	"fmt"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

// ===== [CONTENT] =====

func (s *Store) GetContent(ctx context.Context, id string) (*models.ContentRecord, error) {
	var c models.ContentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content_type, style, themes, author, source_platform, source_url,
		        is_free, description, meta_description, tags, updated_at
		 FROM content_records WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.ContentType, &c.Style, &c.Themes, &c.Author, &c.SourcePlatform, &c.SourceURL,
			&c.IsFree, &c.Description, &c.MetaDescription, &c.Tags, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) UpdateContent(ctx context.Context, id string, update repository.ContentUpdate) error {
	sets := &set{}
	if update.Description != nil {
		sets.add("description", *update.Description)
	}
	if update.MetaDescription != nil {
		sets.add("meta_description", *update.MetaDescription)
	}
	if update.SetTags {
		tags := update.Tags
		if tags == nil {
			tags = []string{}
		}
		sets.add("tags", tags)
	}
	sets.cols = append(sets.cols, "updated_at = now()")

	query, args := sets.update("content_records", id)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update content %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CreateContent(ctx context.Context, c *models.ContentRecord) error {
	themes, tags := c.Themes, c.Tags
	if themes == nil {
		themes = []string{}
	}
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO content_records (id, title, content_type, style, themes, author, source_platform, source_url,
		                              is_free, description, meta_description, tags, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		c.ID, c.Title, c.ContentType, c.Style, themes, c.Author, c.SourcePlatform, c.SourceURL,
		c.IsFree, c.Description, c.MetaDescription, tags)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

// ===== [COLLECTIONS] =====

func (s *Store) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var c models.Collection
	err := s.pool.QueryRow(ctx, "SELECT id, name, is_system, created_at FROM collections WHERE id = $1", id).
		Scan(&c.ID, &c.Name, &c.IsSystem, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) FindSystemCollectionByName(ctx context.Context, name string) (*models.Collection, error) {
	var c models.Collection
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_system, created_at FROM collections
		 WHERE is_system AND name = $1 ORDER BY created_at ASC LIMIT 1`, name).
		Scan(&c.ID, &c.Name, &c.IsSystem, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCollection(ctx context.Context, collection *models.Collection) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO collections (id, name, is_system, created_at) VALUES ($1, $2, $3, $4)",
		collection.ID, collection.Name, collection.IsSystem, collection.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}
	return nil
}

func (s *Store) HasMembership(ctx context.Context, collectionID, contentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM collection_memberships WHERE collection_id = $1 AND content_id = $2)",
		collectionID, contentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func (s *Store) AddMembership(ctx context.Context, m *models.CollectionMembership) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_memberships (id, collection_id, content_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.CollectionID, m.ContentID, m.Note, m.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM collection_memberships WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete membership %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ===== [PREFERENCES] =====

func (s *Store) GetNotificationPreferences(ctx context.Context, recipient string) (*models.NotificationPreferences, error) {
	var p models.NotificationPreferences
	err := s.pool.QueryRow(ctx,
		`SELECT recipient, email_enabled, slack_enabled, critical_enabled, opportunity_enabled,
		        execution_enabled, digest_enabled, quiet_hours_start, quiet_hours_end
		 FROM notification_preferences WHERE recipient = $1`, recipient).
		Scan(&p.Recipient, &p.EmailEnabled, &p.SlackEnabled, &p.CriticalEnabled, &p.OpportunityEnabled,
			&p.ExecutionEnabled, &p.DigestEnabled, &p.QuietHoursStart, &p.QuietHoursEnd)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) SaveNotificationPreferences(ctx context.Context, p *models.NotificationPreferences) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_preferences (recipient, email_enabled, slack_enabled, critical_enabled,
		     opportunity_enabled, execution_enabled, digest_enabled, quiet_hours_start, quiet_hours_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (recipient) DO UPDATE SET
		     email_enabled = EXCLUDED.email_enabled,
		     slack_enabled = EXCLUDED.slack_enabled,
		     critical_enabled = EXCLUDED.critical_enabled,
		     opportunity_enabled = EXCLUDED.opportunity_enabled,
		     execution_enabled = EXCLUDED.execution_enabled,
		     digest_enabled = EXCLUDED.digest_enabled,
		     quiet_hours_start = EXCLUDED.quiet_hours_start,
		     quiet_hours_end = EXCLUDED.quiet_hours_end`,
		p.Recipient, p.EmailEnabled, p.SlackEnabled, p.CriticalEnabled, p.OpportunityEnabled,
		p.ExecutionEnabled, p.DigestEnabled, p.QuietHoursStart, p.QuietHoursEnd)
	if err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", p.Recipient, err)
	}
	return nil
}
