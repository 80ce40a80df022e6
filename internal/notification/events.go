package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
)

// Event types.
const (
	TypeOpportunityDetected = "opportunity_detected"
	TypeOpportunityApproved = "opportunity_approved"
	TypeOpportunityRejected = "opportunity_rejected"
	TypeRunComplete         = "run_complete"
	TypeRunFailed           = "run_failed"
	TypeExecutionSuccess    = "execution_success"
	TypeExecutionFailed     = "execution_failed"
	TypeCriticalError       = "critical_error"
	TypeCircuitBreaker      = "circuit_breaker"
	TypeDailyDigest         = "daily_digest"
	TypeWeeklyReport        = "weekly_report"
)

var eventCategories = map[string]Category{
	TypeOpportunityDetected: CategoryOpportunity,
	TypeOpportunityApproved: CategoryOpportunity,
	TypeOpportunityRejected: CategoryOpportunity,
	TypeRunComplete:         CategoryExecution,
	TypeRunFailed:           CategoryCritical,
	TypeExecutionSuccess:    CategoryExecution,
	TypeExecutionFailed:     CategoryExecution,
	TypeCriticalError:       CategoryCritical,
	TypeCircuitBreaker:      CategoryCritical,
	TypeDailyDigest:         CategoryDigest,
	TypeWeeklyReport:        CategoryDigest,
}

func categoryOf(eventType string) Category {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	return CategoryCritical
}

// RunSummary describes one finished detection run.
type RunSummary struct {
	RunID              string
	OpportunitiesFound int
	ActionsCreated     int
	Duration           time.Duration
}

// DailyDigest is the end-of-day activity summary.
type DailyDigest struct {
	Date             time.Time
	AutoExecuted     int
	ApprovedExecuted int
	ManualExecuted   int
	Failed           int
	RolledBack       int
	BreakerOpen      bool
	HourlyRemaining  int
	DailyRemaining   int
}

// WeeklyReport is the weekly performance summary.
type WeeklyReport struct {
	WeekStart        time.Time
	Executions       int
	Failures         int
	RollBacks        int
	RevenueImpact    float64
	TopOpportunities []string
}

func (s *Service) NotifyOpportunityDetected(ctx context.Context, opportunity *models.Opportunity) {
	payload := Payload{
		Type:     TypeOpportunityDetected,
		Priority: PriorityStandard,
		Title:    "New opportunity: " + opportunity.Title,
		Body:     fmt.Sprintf("Estimated impact $%.2f/mo at %.0f%% confidence.", opportunity.EstimatedRevenueImpact, opportunity.Confidence*100),
		Metadata: map[string]interface{}{
			"opportunity_id": opportunity.ID,
			"impact":         fmt.Sprintf("$%.2f/mo", opportunity.EstimatedRevenueImpact),
		},
	}
	highImpact := opportunity.EstimatedRevenueImpact >= s.config.HighImpactThreshold
	if highImpact {
		payload.Priority = PriorityCritical
	}
	s.dispatch(ctx, CategoryOpportunity, payload, KeyOpportunities, highImpact)
}

func (s *Service) NotifyOpportunityApproved(ctx context.Context, opportunity *models.Opportunity, action *models.Action, approvedBy string) {
	s.dispatch(ctx, CategoryOpportunity, Payload{
		Type:     TypeOpportunityApproved,
		Priority: PriorityStandard,
		Title:    "Action approved: " + action.ActionType,
		Body:     fmt.Sprintf("%s approved action %s for %s.", approvedBy, action.ID, opportunityTitle(opportunity)),
		Metadata: map[string]interface{}{"action_id": action.ID, "approved_by": approvedBy},
	}, "", true)
}

func (s *Service) NotifyOpportunityRejected(ctx context.Context, opportunity *models.Opportunity, action *models.Action, rejectedBy, reason string) {
	s.dispatch(ctx, CategoryOpportunity, Payload{
		Type:     TypeOpportunityRejected,
		Priority: PriorityStandard,
		Title:    "Action rejected: " + action.ActionType,
		Body:     fmt.Sprintf("%s rejected action %s for %s: %s", rejectedBy, action.ID, opportunityTitle(opportunity), reason),
		Metadata: map[string]interface{}{"action_id": action.ID, "rejected_by": rejectedBy},
	}, "", true)
}

func (s *Service) NotifyExecutionSuccess(ctx context.Context, action *models.Action, opportunity *models.Opportunity, log *models.ExecutionLog) {
	metadata := map[string]interface{}{"action_id": action.ID}
	if log != nil {
		metadata["trigger"] = string(log.ExecutedBy)
		metadata["duration"] = fmt.Sprintf("%dms", log.DurationMs)
	}
	s.dispatch(ctx, CategoryExecution, Payload{
		Type:     TypeExecutionSuccess,
		Priority: PriorityStandard,
		Title:    fmt.Sprintf("Executed %s for %s", action.ActionType, opportunityTitle(opportunity)),
		Body:     fmt.Sprintf("Action %s completed.", action.ID),
		Metadata: metadata,
	}, KeyExecutions, false)
}

// NotifyExecutionFailed always queues: bursts of handler failures arrive as one batch.
func (s *Service) NotifyExecutionFailed(ctx context.Context, action *models.Action, opportunity *models.Opportunity, errMsg string) {
	s.dispatch(ctx, CategoryExecution, Payload{
		Type:     TypeExecutionFailed,
		Priority: PriorityStandard,
		Title:    fmt.Sprintf("Failed %s for %s", action.ActionType, opportunityTitle(opportunity)),
		Body:     errMsg,
		Metadata: map[string]interface{}{"action_id": action.ID, "attempts": action.ExecutionAttempts + 1},
	}, KeyExecutionFailures, false)
}

func (s *Service) NotifyCircuitBreaker(ctx context.Context, open bool, failures int) {
	payload := Payload{
		Type:     TypeCircuitBreaker,
		Priority: PriorityCritical,
		Title:    "Auto-execution halted: circuit breaker open",
		Body:     fmt.Sprintf("%d executions failed within the last hour. Automatic execution is paused until the breaker is reset.", failures),
		Metadata: map[string]interface{}{"failures": failures},
	}
	if !open {
		payload.Title = "Auto-execution resumed: circuit breaker reset"
		payload.Body = "The circuit breaker was reset and automatic execution will resume on the next sweep."
		payload.Metadata = nil
	}
	s.dispatch(ctx, CategoryCritical, payload, "", true)
}

func (s *Service) NotifyCriticalError(ctx context.Context, err error, where string) {
	s.dispatch(ctx, CategoryCritical, Payload{
		Type:     TypeCriticalError,
		Priority: PriorityCritical,
		Title:    "Critical error: " + where,
		Body:     err.Error(),
	}, "", true)
}

func (s *Service) NotifyRunComplete(ctx context.Context, run RunSummary) {
	s.dispatch(ctx, CategoryExecution, Payload{
		Type:     TypeRunComplete,
		Priority: PriorityStandard,
		Title:    fmt.Sprintf("Run %s complete", run.RunID),
		Body:     fmt.Sprintf("Found %d opportunities and created %d actions in %s.", run.OpportunitiesFound, run.ActionsCreated, run.Duration.Round(time.Second)),
	}, KeyRuns, false)
}

func (s *Service) NotifyRunFailed(ctx context.Context, runID string, err error) {
	s.dispatch(ctx, CategoryCritical, Payload{
		Type:     TypeRunFailed,
		Priority: PriorityCritical,
		Title:    fmt.Sprintf("Run %s failed", runID),
		Body:     err.Error(),
	}, "", true)
}

func (s *Service) SendDailyDigest(ctx context.Context, digest DailyDigest) {
	breaker := "closed"
	if digest.BreakerOpen {
		breaker = "OPEN"
	}
	body := fmt.Sprintf("%d auto, %d approved and %d manual executions. %d failed, %d rolled back.",
		digest.AutoExecuted, digest.ApprovedExecuted, digest.ManualExecuted, digest.Failed, digest.RolledBack)
	s.dispatch(ctx, CategoryDigest, Payload{
		Type:     TypeDailyDigest,
		Priority: PriorityStandard,
		Title:    "Daily digest for " + digest.Date.Format("2006-01-02"),
		Body:     body,
		Metadata: map[string]interface{}{
			"circuit_breaker":  breaker,
			"hourly_remaining": digest.HourlyRemaining,
			"daily_remaining":  digest.DailyRemaining,
		},
	}, "", true)
}

func (s *Service) SendWeeklyReport(ctx context.Context, report WeeklyReport) {
	metadata := map[string]interface{}{
		"executions":     report.Executions,
		"failures":       report.Failures,
		"rollbacks":      report.RollBacks,
		"revenue_impact": fmt.Sprintf("$%.2f/mo", report.RevenueImpact),
	}
	body := "No opportunities implemented this week."
	if len(report.TopOpportunities) > 0 {
		var buf bytes.Buffer
		buf.WriteString("Top opportunities:")
		for _, title := range report.TopOpportunities {
			buf.WriteString("\n• " + title)
		}
		body = buf.String()
	}
	s.dispatch(ctx, CategoryDigest, Payload{
		Type:     TypeWeeklyReport,
		Priority: PriorityStandard,
		Title:    "Weekly report from " + report.WeekStart.Format("2006-01-02"),
		Body:     body,
		Metadata: metadata,
	}, "", true)
}

func opportunityTitle(opportunity *models.Opportunity) string {
	if opportunity == nil {
		return "unknown opportunity"
	}
	return opportunity.Title
}

func sortedMetadataKeys(metadata map[string]interface{}) []string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var emailTemplate = template.Must(template.New("email").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p style="white-space: pre-line">{{.Body}}</p>
{{- if .Fields}}
<table>
{{- range .Fields}}
<tr><td><strong>{{.Title}}</strong></td><td>{{.Value}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .URL}}
<p><a href="{{.URL}}">Open in dashboard</a></p>
{{- end}}
</body></html>`))

func renderEmail(msg Message) string {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, msg); err != nil {
		return "<p>" + template.HTMLEscapeString(msg.Title) + "</p>"
	}
	return buf.String()
}
