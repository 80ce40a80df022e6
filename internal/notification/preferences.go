package notification

import (
	"context"
	"errors"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

// Category groups event types for per-recipient toggles.
type Category string

const (
	CategoryCritical    Category = "critical"
	CategoryOpportunity Category = "opportunity"
	CategoryExecution   Category = "execution"
	CategoryDigest      Category = "digest"
)

// InQuietHours reports whether hour falls in [start, end). When start > end
// the range wraps midnight. An empty range (start == end) never matches.
func InQuietHours(start, end, hour int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// allows reports whether prefs enable category.
func allows(prefs *models.NotificationPreferences, category Category) bool {
	switch category {
	case CategoryCritical:
		return prefs.CriticalEnabled
	case CategoryOpportunity:
		return prefs.OpportunityEnabled
	case CategoryExecution:
		return prefs.ExecutionEnabled
	case CategoryDigest:
		return prefs.DigestEnabled
	default:
		return false
	}
}

// preferences loads stored preferences for recipient, defaulting to fully
// enabled when none exist or the store is unavailable.
func (s *Service) preferences(ctx context.Context, recipient string) *models.NotificationPreferences {
	if s.prefs == nil || recipient == "" {
		return models.DefaultNotificationPreferences(recipient)
	}
	prefs, err := s.prefs.GetNotificationPreferences(ctx, recipient)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warnf("Failed to load notification preferences for %s, using defaults: %v", recipient, err)
		}
		return models.DefaultNotificationPreferences(recipient)
	}
	return prefs
}

// quiet reports whether recipient's quiet hours cover the current hour.
// Recipient-level hours override the service default.
func (s *Service) quiet(prefs *models.NotificationPreferences) bool {
	start, end := s.config.QuietHoursStart, s.config.QuietHoursEnd
	if prefs.QuietHoursStart != nil && prefs.QuietHoursEnd != nil {
		start, end = *prefs.QuietHoursStart, *prefs.QuietHoursEnd
	}
	if start < 0 || end < 0 {
		return false
	}
	return InQuietHours(start, end, s.clock().Hour())
}
