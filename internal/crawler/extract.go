package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultDateSeparator splits the raw publish line; the date is the last segment.
const DefaultDateSeparator = "."

// RecordExtractor turns one listing card into a JobRecord.
type RecordExtractor struct {
	locators  Locators
	separator string
	logger    *zap.Logger
}

// NewRecordExtractor builds an extractor. An empty separator uses DefaultDateSeparator.
func NewRecordExtractor(locators Locators, separator string, logger *zap.Logger) *RecordExtractor {
	if separator == "" {
		separator = DefaultDateSeparator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordExtractor{
		locators:  locators,
		separator: separator,
		logger:    logger,
	}
}

// Extract reads card into a record. The only error it returns wraps
// ErrRequiredField, meaning the card must be skipped; optional fields that
// cannot be resolved are left nil.
func (x *RecordExtractor) Extract(ctx context.Context, card Element) (JobRecord, error) {
	jobURL, err := x.jobURL(ctx, card)
	if err != nil {
		return JobRecord{}, err
	}

	record := JobRecord{
		JobURL:      jobURL,
		Title:       x.optionalText(ctx, card, "title", x.locators.Title),
		Salary:      x.optionalText(ctx, card, "salary", x.locators.Salary),
		Country:     x.optionalText(ctx, card, "country", x.locators.Country),
		Experience:  x.optionalText(ctx, card, "experience", x.locators.Experience),
		JobStatus:   x.optionalText(ctx, card, "job_status", x.locators.JobStatus),
		Description: x.optionalText(ctx, card, "description", x.locators.Description),
		Badges:      x.badges(ctx, card),
	}
	if raw := x.optionalText(ctx, card, "publish_date", x.locators.PublishedDate); raw != nil {
		record.PublishDate = x.publishDate(*raw)
	}
	return record, nil
}

func (x *RecordExtractor) jobURL(ctx context.Context, card Element) (string, error) {
	anchor, err := card.FindOne(ctx, x.locators.Title)
	if err != nil {
		return "", fmt.Errorf("%w: job_url: locate title anchor: %w", ErrRequiredField, err)
	}
	href, err := anchor.Attribute(ctx, "href")
	if err != nil {
		return "", fmt.Errorf("%w: job_url: read href: %w", ErrRequiredField, err)
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: job_url: empty href", ErrRequiredField)
	}
	if n := utf8.RuneCountInString(href); n > MaxJobURLLength {
		return "", fmt.Errorf("%w: job_url: %d characters exceeds %d", ErrRequiredField, n, MaxJobURLLength)
	}
	return href, nil
}

func (x *RecordExtractor) optionalText(ctx context.Context, card Element, field, locator string) *string {
	if locator == "" {
		return nil
	}
	el, err := card.FindOne(ctx, locator)
	if err != nil {
		x.logMiss(field, err)
		return nil
	}
	text, err := el.Text(ctx)
	if err != nil {
		x.logMiss(field, err)
		return nil
	}
	text = strings.TrimSpace(text)
	return &text
}

func (x *RecordExtractor) publishDate(raw string) *string {
	parts := strings.Split(raw, x.separator)
	date := strings.TrimSpace(parts[len(parts)-1])
	return &date
}

func (x *RecordExtractor) badges(ctx context.Context, card Element) []string {
	out := []string{}
	if x.locators.Badge == "" {
		return out
	}
	elements, err := card.FindAll(ctx, x.locators.Badge)
	if err != nil {
		x.logMiss("badges", err)
		return out
	}
	for _, el := range elements {
		text, err := el.Text(ctx)
		if err != nil {
			x.logMiss("badge", err)
			continue
		}
		out = append(out, strings.TrimSpace(text))
	}
	return out
}

func (x *RecordExtractor) logMiss(field string, err error) {
	if errors.Is(err, ErrNotFound) {
		x.logger.Debug("optional field absent", zap.String("field", field))
		return
	}
	x.logger.Debug("optional field lookup failed", zap.String("field", field), zap.Error(err))
}
