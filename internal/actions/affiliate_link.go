package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

const (
	affiliateSectionStart = "<!-- affiliate-links:start -->"
	affiliateSectionEnd   = "<!-- affiliate-links:end -->"
	affiliateTag          = "affiliate"
	defaultReferralCode   = "revenuemonkey"
)

// Only links on these hosts and shapes are ever written into content.
var allowedAffiliatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://(www\.)?amazon\.[a-z.]+/.+[?&]tag=[\w-]+`),
	regexp.MustCompile(`^https://amzn\.to/\w+$`),
	regexp.MustCompile(`^https://(www\.)?etsy\.com/.+`),
	regexp.MustCompile(`^https://[\w-]+\.gumroad\.com/.+`),
	regexp.MustCompile(`^https://(www\.)?patreon\.com/.+`),
	regexp.MustCompile(`^https://(www\.)?ko-fi\.com/.+`),
	regexp.MustCompile(`^https://shareasale\.com/r\.cfm\?.+`),
}

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)

// IsAllowedAffiliateURL reports whether raw matches the affiliate allow-list.
func IsAllowedAffiliateURL(raw string) bool {
	for _, p := range allowedAffiliatePatterns {
		if p.MatchString(raw) {
			return true
		}
	}
	return false
}

type affiliateLinkPayload struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url,omitempty"`
	Label     string `json:"label,omitempty"`
}

type affiliateRollbackState struct {
	ContentID   string   `json:"content_id"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type affiliateLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// AffiliateLinkHandler appends a machine-parseable affiliate link section to a
// content record's description and tags the record.
type AffiliateLinkHandler struct {
	content      repository.ContentStore
	referralCode string
}

func NewAffiliateLinkHandler(content repository.ContentStore) *AffiliateLinkHandler {
	return &AffiliateLinkHandler{content: content, referralCode: defaultReferralCode}
}

func (h *AffiliateLinkHandler) ActionType() string { return ActionTypeAffiliateLink }

func (h *AffiliateLinkHandler) Tier() models.Tier { return models.TierAuto }

func (h *AffiliateLinkHandler) Validate(ctx context.Context, action *models.Action) error {
	payload, err := h.decode(action)
	if err != nil {
		return err
	}

	if _, err := h.loadContent(ctx, payload.ContentID); err != nil {
		return err
	}

	if payload.URL != "" && !IsAllowedAffiliateURL(payload.URL) {
		return fmt.Errorf("affiliate url %q does not match an allowed pattern", payload.URL)
	}

	return nil
}

func (h *AffiliateLinkHandler) PrepareRollback(ctx context.Context, action *models.Action) (*models.RollbackData, error) {
	payload, err := h.decode(action)
	if err != nil {
		return nil, err
	}
	record, err := h.loadContent(ctx, payload.ContentID)
	if err != nil {
		return nil, err
	}
	return models.NewRollbackData(ActionTypeAffiliateLink, affiliateRollbackState{
		ContentID:   record.ID,
		Description: record.Description,
		Tags:        record.Tags,
	})
}

func (h *AffiliateLinkHandler) Execute(ctx context.Context, action *models.Action) (*Result, error) {
	log := logger.For(logger.ComponentHandler)

	payload, err := h.decode(action)
	if err != nil {
		return nil, err
	}
	record, err := h.loadContent(ctx, payload.ContentID)
	if err != nil {
		return nil, err
	}

	candidates := h.candidateLinks(record, payload)
	if len(candidates) == 0 {
		return &Result{Success: false, Error: fmt.Sprintf("no affiliate links available for platform %q", record.SourcePlatform)}, nil
	}

	existing := parseAffiliateSection(record.Description)
	var added []affiliateLink
	for _, c := range candidates {
		if containsLink(existing, c.URL) || strings.Contains(record.Description, c.URL) {
			continue
		}
		added = append(added, c)
	}

	if len(added) == 0 {
		log.Infof("Content %s already carries every candidate affiliate link", record.ID)
		return &Result{
			Success: true,
			Output:  map[string]interface{}{"links_added": 0},
		}, nil
	}

	description := upsertAffiliateSection(record.Description, append(existing, added...))
	tags := record.Tags
	if !record.HasTag(affiliateTag) {
		tags = append(append([]string(nil), record.Tags...), affiliateTag)
	}

	rollbackData, err := models.NewRollbackData(ActionTypeAffiliateLink, affiliateRollbackState{
		ContentID:   record.ID,
		Description: record.Description,
		Tags:        record.Tags,
	})
	if err != nil {
		return nil, err
	}

	if err := h.content.UpdateContent(ctx, record.ID, repository.ContentUpdate{
		Description: &description,
		Tags:        tags,
		SetTags:     true,
	}); err != nil {
		return nil, fmt.Errorf("failed to update content %s: %w", record.ID, err)
	}

	log.Infof("Added %d affiliate links to content %s", len(added), record.ID)

	return &Result{
		Success: true,
		Output: map[string]interface{}{
			"links_added": len(added),
			"links":       added,
		},
		RollbackData: rollbackData,
	}, nil
}

func (h *AffiliateLinkHandler) Rollback(ctx context.Context, data *models.RollbackData) error {
	var state affiliateRollbackState
	if err := data.Decode(ActionTypeAffiliateLink, &state); err != nil {
		return err
	}
	if state.ContentID == "" {
		return ErrMissingContentID
	}

	return h.content.UpdateContent(ctx, state.ContentID, repository.ContentUpdate{
		Description: &state.Description,
		Tags:        state.Tags,
		SetTags:     true,
	})
}

func (h *AffiliateLinkHandler) decode(action *models.Action) (*affiliateLinkPayload, error) {
	var payload affiliateLinkPayload
	if err := action.DecodeData(&payload); err != nil {
		return nil, fmt.Errorf("invalid action data: %w", err)
	}
	if payload.ContentID == "" {
		return nil, ErrMissingContentID
	}
	return &payload, nil
}

func (h *AffiliateLinkHandler) loadContent(ctx context.Context, id string) (*models.ContentRecord, error) {
	record, err := h.content.GetContent(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// candidateLinks returns the explicit link when one is supplied, otherwise
// links derived from the record's source platform.
func (h *AffiliateLinkHandler) candidateLinks(record *models.ContentRecord, payload *affiliateLinkPayload) []affiliateLink {
	if payload.URL != "" {
		label := payload.Label
		if label == "" {
			label = "Get it here"
		}
		return []affiliateLink{{Label: label, URL: payload.URL}}
	}

	if record.SourceURL == "" {
		return nil
	}

	var link affiliateLink
	switch strings.ToLower(record.SourcePlatform) {
	case "etsy":
		link = affiliateLink{Label: "View on Etsy", URL: withQuery(record.SourceURL, "ref", h.referralCode)}
	case "gumroad":
		link = affiliateLink{Label: "Buy on Gumroad", URL: withQuery(record.SourceURL, "a", h.referralCode)}
	case "patreon":
		link = affiliateLink{Label: "Support on Patreon", URL: withQuery(record.SourceURL, "ref", h.referralCode)}
	case "ko-fi", "kofi":
		link = affiliateLink{Label: "Support on Ko-fi", URL: withQuery(record.SourceURL, "ref", h.referralCode)}
	case "amazon":
		link = affiliateLink{Label: "Buy on Amazon", URL: withQuery(record.SourceURL, "tag", h.referralCode)}
	default:
		return nil
	}

	if !IsAllowedAffiliateURL(link.URL) {
		return nil
	}
	return []affiliateLink{link}
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func containsLink(links []affiliateLink, target string) bool {
	for _, l := range links {
		if l.URL == target {
			return true
		}
	}
	return false
}

// parseAffiliateSection returns the links inside an existing affiliate section.
func parseAffiliateSection(text string) []affiliateLink {
	start := strings.Index(text, affiliateSectionStart)
	end := strings.Index(text, affiliateSectionEnd)
	if start < 0 || end < start {
		return nil
	}

	var links []affiliateLink
	for _, m := range markdownLinkPattern.FindAllStringSubmatch(text[start:end], -1) {
		links = append(links, affiliateLink{Label: m[1], URL: m[2]})
	}
	return links
}

func renderAffiliateSection(links []affiliateLink) string {
	var b strings.Builder
	b.WriteString(affiliateSectionStart)
	b.WriteString("\n**Support the creator**\n")
	for _, l := range links {
		fmt.Fprintf(&b, "- [%s](%s)\n", l.Label, l.URL)
	}
	b.WriteString(affiliateSectionEnd)
	return b.String()
}

// upsertAffiliateSection replaces an existing section in place or appends a new one.
func upsertAffiliateSection(text string, links []affiliateLink) string {
	section := renderAffiliateSection(links)

	start := strings.Index(text, affiliateSectionStart)
	end := strings.Index(text, affiliateSectionEnd)
	if start >= 0 && end > start {
		return text[:start] + section + text[end+len(affiliateSectionEnd):]
	}

	if strings.TrimSpace(text) == "" {
		return section
	}
	return strings.TrimRight(text, "\n") + "\n\n" + section
}
