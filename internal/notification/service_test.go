package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	messages []Message
	ok       bool
}

func (c *fakeChat) Send(ctx context.Context, msg Message) bool {
	c.messages = append(c.messages, msg)
	return c.ok
}

type sentEmail struct {
	to      string
	subject string
	html    string
}

type fakeEmail struct {
	sent []sentEmail
}

func (e *fakeEmail) Send(ctx context.Context, to, subject, html string) bool {
	e.sent = append(e.sent, sentEmail{to: to, subject: subject, html: html})
	return true
}

func intPtr(v int) *int { return &v }

type serviceFixture struct {
	chat  *fakeChat
	email *fakeEmail
	store *memory.Store
	clock *testClock
	svc   *Service
}

func newServiceFixture(t *testing.T, hour int, cfg Config) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		chat:  &fakeChat{ok: true},
		email: &fakeEmail{},
		store: memory.NewStore(),
		clock: newTestClock(hour),
	}
	if cfg.QuietHoursStart == 0 && cfg.QuietHoursEnd == 0 {
		cfg.QuietHoursStart, cfg.QuietHoursEnd = -1, -1
	}
	f.svc = NewService(cfg, f.chat, f.email, f.store, WithClock(f.clock.Now))
	return f
}

func opportunity(impact float64) *models.Opportunity {
	return &models.Opportunity{ID: "opp-1", Title: "Add affiliate links", Confidence: 0.85, EstimatedRevenueImpact: impact}
}

func action() *models.Action {
	return &models.Action{ID: "action-1", OpportunityID: "opp-1", ActionType: "add_affiliate_link"}
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"wrap late evening", 22, 8, 23, true},
		{"wrap early morning", 22, 8, 3, true},
		{"wrap midday", 22, 8, 12, false},
		{"wrap at end", 22, 8, 8, false},
		{"wrap at start", 22, 8, 22, true},
		{"same day inside", 9, 17, 12, true},
		{"same day at end", 9, 17, 17, false},
		{"same day before", 9, 17, 8, false},
		{"empty range", 5, 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InQuietHours(tt.start, tt.end, tt.hour))
		})
	}
}

func TestService_HighImpactOpportunityIsImmediate(t *testing.T) {
	f := newServiceFixture(t, 12, Config{Recipients: []string{"owner@example.com"}})

	f.svc.NotifyOpportunityDetected(context.Background(), opportunity(75))

	require.Len(t, f.chat.messages, 1)
	assert.Contains(t, f.chat.messages[0].Title, "Add affiliate links")
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "owner@example.com", f.email.sent[0].to)
	assert.Equal(t, 0, f.svc.Queue().Depth())
}

func TestService_ThresholdIsInclusive(t *testing.T) {
	f := newServiceFixture(t, 12, Config{})

	f.svc.NotifyOpportunityDetected(context.Background(), opportunity(DefaultHighImpactThreshold))

	assert.Len(t, f.chat.messages, 1)
}

func TestService_LowImpactOpportunityIsBatched(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 12, Config{})

	f.svc.NotifyOpportunityDetected(ctx, opportunity(12))

	assert.Empty(t, f.chat.messages)
	assert.Equal(t, map[string]int{KeyOpportunities: 1}, f.svc.Queue().Pending())

	assert.Equal(t, 0, f.svc.FlushExpired(ctx))
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.svc.FlushExpired(ctx))

	require.Len(t, f.chat.messages, 1)
	assert.Contains(t, f.chat.messages[0].Title, "New opportunity")
}

func TestService_ExecutionFailuresAreAlwaysQueued(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 12, Config{})

	for i := 0; i < 19; i++ {
		f.svc.NotifyExecutionFailed(ctx, action(), opportunity(75), fmt.Sprintf("network timeout %d", i))
	}
	assert.Empty(t, f.chat.messages)
	assert.Equal(t, 19, f.svc.Queue().Depth())

	f.svc.NotifyExecutionFailed(ctx, action(), opportunity(75), "network timeout 19")

	require.Len(t, f.chat.messages, 1)
	assert.Equal(t, "20 Execution Failures", f.chat.messages[0].Title)
	assert.Equal(t, 0, f.svc.Queue().Depth())
}

func TestService_QuietHoursSuppressNonCritical(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 23, Config{QuietHoursStart: 22, QuietHoursEnd: 8})

	f.svc.NotifyOpportunityDetected(ctx, opportunity(75))
	f.svc.NotifyExecutionFailed(ctx, action(), opportunity(75), "network timeout")

	assert.Empty(t, f.chat.messages)
	assert.Equal(t, 0, f.svc.Queue().Depth())

	f.svc.NotifyCircuitBreaker(ctx, true, 3)

	require.Len(t, f.chat.messages, 1)
	assert.Contains(t, f.chat.messages[0].Title, "circuit breaker open")
	assert.Equal(t, PriorityCritical, f.chat.messages[0].Priority)
}

func TestService_QuietHoursOutsideRange(t *testing.T) {
	f := newServiceFixture(t, 12, Config{QuietHoursStart: 22, QuietHoursEnd: 8})

	f.svc.NotifyOpportunityDetected(context.Background(), opportunity(75))

	assert.Len(t, f.chat.messages, 1)
}

func TestService_RecipientQuietHoursOverrideDefault(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, Config{Recipients: []string{"night@example.com", "day@example.com"}})
	prefs := models.DefaultNotificationPreferences("day@example.com")
	prefs.QuietHoursStart, prefs.QuietHoursEnd = intPtr(22), intPtr(8)
	require.NoError(t, f.store.SaveNotificationPreferences(ctx, prefs))

	f.svc.NotifyOpportunityDetected(ctx, opportunity(75))

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "night@example.com", f.email.sent[0].to)
	assert.Len(t, f.chat.messages, 1)
}

func TestService_BatchHonoursQuietHoursAtEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, Config{Recipients: []string{"night@example.com", "day@example.com"}})
	prefs := models.DefaultNotificationPreferences("day@example.com")
	prefs.QuietHoursStart, prefs.QuietHoursEnd = intPtr(22), intPtr(8)
	require.NoError(t, f.store.SaveNotificationPreferences(ctx, prefs))

	f.svc.NotifyOpportunityDetected(ctx, &models.Opportunity{ID: "opp-night", Title: "Night find", EstimatedRevenueImpact: 5})
	f.clock.Advance(9 * time.Minute)
	f.svc.NotifyOpportunityDetected(ctx, &models.Opportunity{ID: "opp-late", Title: "Late find", EstimatedRevenueImpact: 5})

	f.clock.Advance(9 * time.Hour)
	f.svc.NotifyOpportunityDetected(ctx, &models.Opportunity{ID: "opp-day", Title: "Day find", EstimatedRevenueImpact: 5})
	assert.Equal(t, 0, f.svc.Queue().Depth())

	byRecipient := map[string]string{}
	for _, sent := range f.email.sent {
		byRecipient[sent.to] = sent.subject
	}
	assert.Equal(t, map[string]string{
		"night@example.com": "3 Opportunities",
		"day@example.com":   "New opportunity: Day find",
	}, byRecipient)

	require.Len(t, f.chat.messages, 1)
	assert.Equal(t, "3 Opportunities", f.chat.messages[0].Title)
}

func TestService_CategoryToggles(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 12, Config{Recipients: []string{"owner@example.com"}})
	prefs := models.DefaultNotificationPreferences("owner@example.com")
	prefs.ExecutionEnabled = false
	prefs.DigestEnabled = false
	require.NoError(t, f.store.SaveNotificationPreferences(ctx, prefs))

	f.svc.NotifyExecutionFailed(ctx, action(), opportunity(75), "network timeout")
	f.svc.NotifyExecutionSuccess(ctx, action(), opportunity(75), &models.ExecutionLog{ExecutedBy: models.TriggerAuto})
	f.svc.SendDailyDigest(ctx, DailyDigest{Date: f.clock.Now()})

	assert.Empty(t, f.chat.messages)
	assert.Empty(t, f.email.sent)
	assert.Equal(t, 0, f.svc.Queue().Depth())

	f.svc.NotifyCriticalError(ctx, errors.New("database unreachable"), "sweep")
	require.Len(t, f.chat.messages, 1)
	assert.Equal(t, "Critical error: sweep", f.chat.messages[0].Title)
	assert.Len(t, f.email.sent, 1)
}

func TestService_ChannelToggles(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 12, Config{Recipients: []string{"owner@example.com"}})
	prefs := models.DefaultNotificationPreferences("owner@example.com")
	prefs.EmailEnabled = false
	require.NoError(t, f.store.SaveNotificationPreferences(ctx, prefs))

	f.svc.NotifyCircuitBreaker(ctx, false, 0)

	assert.Len(t, f.chat.messages, 1)
	assert.Empty(t, f.email.sent)
}

func TestService_ApprovalAndRejectionAreImmediate(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 12, Config{})

	f.svc.NotifyOpportunityApproved(ctx, opportunity(5), action(), "owner")
	f.svc.NotifyOpportunityRejected(ctx, nil, action(), "owner", "off brand")

	require.Len(t, f.chat.messages, 2)
	assert.Contains(t, f.chat.messages[1].Body, "unknown opportunity")
	assert.Contains(t, f.chat.messages[1].Body, "off brand")
}

func TestService_NilSendersAreSafe(t *testing.T) {
	svc := NewService(Config{QuietHoursStart: -1, QuietHoursEnd: -1}, nil, nil, nil)

	assert.NotPanics(t, func() {
		svc.NotifyCircuitBreaker(context.Background(), true, 3)
		svc.NotifyRunComplete(context.Background(), RunSummary{RunID: "run-1"})
		svc.FlushAll(context.Background())
	})
}

func TestRenderEmail_EscapesContent(t *testing.T) {
	html := renderEmail(Message{
		Title:  "Failed <script>",
		Body:   "boom",
		Fields: []Field{{Title: "Action", Value: "a&b"}},
		URL:    "https://app.example.com/actions/1",
	})

	assert.Contains(t, html, "Failed &lt;script&gt;")
	assert.Contains(t, html, "a&amp;b")
	assert.Contains(t, html, `href="https://app.example.com/actions/1"`)
}
