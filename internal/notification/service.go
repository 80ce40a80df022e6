// Package notification routes engine events to chat and email senders,
// applying recipient preferences, quiet hours and batching.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"go.uber.org/zap"
)

const DefaultHighImpactThreshold = 50.0

// Batch keys.
const (
	KeyOpportunities     = "opportunities"
	KeyExecutions        = "executions"
	KeyExecutionFailures = "execution_failures"
	KeyRuns              = "runs"
)

// Decision is what the service did with an event.
type Decision string

const (
	DecisionImmediate  Decision = "immediate"
	DecisionQueued     Decision = "queued"
	DecisionSuppressed Decision = "suppressed"
)

// Field is a labelled value rendered alongside a message body.
type Field struct {
	Title string
	Value string
}

// Message is the channel-neutral form of one delivery.
type Message struct {
	Title    string
	Body     string
	Fields   []Field
	Priority Priority
	URL      string
}

// ChatSender delivers to a chat channel. Send must return false rather than
// fail when the sender is unconfigured.
type ChatSender interface {
	Send(ctx context.Context, msg Message) bool
}

// EmailSender delivers one HTML email. Send must return false rather than
// fail when the sender is unconfigured.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) bool
}

// PreferenceReader loads per-recipient preferences.
type PreferenceReader interface {
	GetNotificationPreferences(ctx context.Context, recipient string) (*models.NotificationPreferences, error)
}

// Config holds routing policy. QuietHoursStart and QuietHoursEnd are the
// default quiet range for recipients without their own; -1 disables it.
type Config struct {
	HighImpactThreshold float64
	StandardBatch       BatchPolicy
	QuietHoursStart     int
	QuietHoursEnd       int
	Recipients          []string
}

type Service struct {
	config  Config
	chat    ChatSender
	email   EmailSender
	prefs   PreferenceReader
	queue   *Queue
	metrics *metrics.Metrics
	clock   func() time.Time
	log     *zap.SugaredLogger
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService builds a service. chat, email and prefs may each be nil.
func NewService(cfg Config, chat ChatSender, email EmailSender, prefs PreferenceReader, opts ...Option) *Service {
	if cfg.HighImpactThreshold <= 0 {
		cfg.HighImpactThreshold = DefaultHighImpactThreshold
	}
	s := &Service{
		config: cfg,
		chat:   chat,
		email:  email,
		prefs:  prefs,
		clock:  time.Now,
		log:    logger.For(logger.ComponentNotification),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = NewQueue(cfg.StandardBatch, s.clock)
	return s
}

// Queue exposes the batching buffer for inspection.
func (s *Service) Queue() *Queue {
	return s.queue
}

// audience is who should receive one delivery.
type audience struct {
	chat   bool
	emails []string
}

func (a audience) empty() bool {
	return !a.chat && len(a.emails) == 0
}

func (a audience) hasEmail(to string) bool {
	for _, e := range a.emails {
		if e == to {
			return true
		}
	}
	return false
}

// resolve applies category toggles and, when asked, quiet hours for every
// recipient. Critical events ignore quiet hours.
func (s *Service) resolve(ctx context.Context, category Category, respectQuietHours bool) audience {
	recipients := s.config.Recipients
	if len(recipients) == 0 {
		recipients = []string{""}
	}

	var aud audience
	for _, recipient := range recipients {
		prefs := s.preferences(ctx, recipient)
		if !allows(prefs, category) {
			continue
		}
		if respectQuietHours && category != CategoryCritical && s.quiet(prefs) {
			continue
		}
		if prefs.SlackEnabled {
			aud.chat = true
		}
		if prefs.EmailEnabled && recipient != "" {
			aud.emails = append(aud.emails, recipient)
		}
	}
	return aud
}

// dispatch is the single routing path for every event.
func (s *Service) dispatch(ctx context.Context, category Category, payload Payload, batchKey string, immediate bool) Decision {
	aud := s.resolve(ctx, category, true)
	if aud.empty() {
		s.log.Debugf("Notification suppressed: %s (%s)", payload.Title, payload.Type)
		return DecisionSuppressed
	}

	if immediate {
		s.deliver(ctx, aud, messageFor(payload))
		return DecisionImmediate
	}

	payload.audience = aud
	ready := s.queue.Add(batchKey, payload)
	s.log.Debugf("Notification queued under %s: %s", batchKey, payload.Title)
	if ready {
		if batch, ok := s.queue.Flush(batchKey); ok {
			s.deliverBatch(ctx, batch)
		}
	}
	s.metrics.SetQueueDepth(s.queue.Depth())
	return DecisionQueued
}

// FlushExpired delivers every batch that has met its size or age threshold
// and returns how many batches were sent.
func (s *Service) FlushExpired(ctx context.Context) int {
	batches := s.queue.FlushExpired()
	for _, batch := range batches {
		s.deliverBatch(ctx, batch)
	}
	s.metrics.SetQueueDepth(s.queue.Depth())
	return len(batches)
}

// FlushAll delivers everything still queued.
func (s *Service) FlushAll(ctx context.Context) int {
	batches := s.queue.FlushAll()
	for _, batch := range batches {
		s.deliverBatch(ctx, batch)
	}
	s.metrics.SetQueueDepth(s.queue.Depth())
	return len(batches)
}

// deliverBatch sends each destination only the items it was eligible for
// when they were queued, so quiet hours at enqueue still hold. Category
// toggles are re-checked at flush.
func (s *Service) deliverBatch(ctx context.Context, batch Batch) {
	if len(batch.Items) == 0 {
		return
	}
	current := s.resolve(ctx, categoryOf(batch.Items[0].Type), false)

	delivered := false
	if current.chat {
		if items := batch.itemsFor(func(a audience) bool { return a.chat }); len(items) > 0 {
			s.sendChat(ctx, batchMessage(Batch{Key: batch.Key, Priority: batch.Priority, Items: items}))
			delivered = true
		}
	}
	for _, to := range current.emails {
		if items := batch.itemsFor(func(a audience) bool { return a.hasEmail(to) }); len(items) > 0 {
			s.sendEmail(ctx, to, batchMessage(Batch{Key: batch.Key, Priority: batch.Priority, Items: items}))
			delivered = true
		}
	}

	if !delivered {
		s.log.Infof("Dropping batch %s (%d items): no recipients enabled", batch.Key, len(batch.Items))
	}
}

func (b Batch) itemsFor(eligible func(audience) bool) []Payload {
	var items []Payload
	for _, item := range b.Items {
		if eligible(item.audience) {
			items = append(items, item)
		}
	}
	return items
}

func (s *Service) deliver(ctx context.Context, aud audience, msg Message) {
	if aud.chat {
		s.sendChat(ctx, msg)
	}
	for _, to := range aud.emails {
		s.sendEmail(ctx, to, msg)
	}
}

func (s *Service) sendChat(ctx context.Context, msg Message) {
	if s.chat == nil {
		return
	}
	ok := s.chat.Send(ctx, msg)
	s.metrics.NotificationSent("slack", ok)
	if !ok {
		s.log.Warnf("Slack delivery failed: %s", msg.Title)
	}
}

func (s *Service) sendEmail(ctx context.Context, to string, msg Message) {
	if s.email == nil {
		return
	}
	ok := s.email.Send(ctx, to, msg.Title, renderEmail(msg))
	s.metrics.NotificationSent("email", ok)
	if !ok {
		s.log.Warnf("Email delivery to %s failed: %s", to, msg.Title)
	}
}

func messageFor(p Payload) Message {
	msg := Message{Title: p.Title, Body: p.Body, Priority: p.Priority}
	for _, key := range sortedMetadataKeys(p.Metadata) {
		if key == "url" {
			msg.URL = fmt.Sprint(p.Metadata[key])
			continue
		}
		msg.Fields = append(msg.Fields, Field{Title: humanize(key), Value: fmt.Sprint(p.Metadata[key])})
	}
	return msg
}

func batchMessage(batch Batch) Message {
	if len(batch.Items) == 1 {
		return messageFor(batch.Items[0])
	}
	var body strings.Builder
	for _, item := range batch.Items {
		fmt.Fprintf(&body, "• %s\n", item.Title)
	}
	return Message{
		Title:    fmt.Sprintf("%d %s", len(batch.Items), humanize(batch.Key)),
		Body:     strings.TrimRight(body.String(), "\n"),
		Priority: batch.Priority,
	}
}

func humanize(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
