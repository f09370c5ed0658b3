// Package authenticity scores how likely an item originates from a subject's official channels.
package authenticity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"ContentIngestor/internal/domain"
)

// Signal names used in AuthenticityScore.Signals.
const (
	SignalDomain      = "domain"
	SignalAccount     = "account"
	SignalLength      = "length"
	SignalVerified    = "verified"
	SignalCrossListed = "cross_listed"
)

// Weights is the tunable table of per-signal contributions and thresholds.
type Weights struct {
	Domain            int `yaml:"domain"`
	Account           int `yaml:"account"`
	Length            int `yaml:"length"`
	Verified          int `yaml:"verified"`
	CrossListed       int `yaml:"crossListed"`
	MinBodyLength     int `yaml:"minBodyLength"`
	OffChannelCeiling int `yaml:"offChannelCeiling"`
}

// DefaultWeights returns the stock table.
func DefaultWeights() Weights {
	return Weights{
		Domain:            60,
		Account:           60,
		Length:            20,
		Verified:          10,
		CrossListed:       10,
		MinBodyLength:     100,
		OffChannelCeiling: 20,
	}
}

// MaxSignalWeight caps a single signal so that no signal alone yields a perfect score.
const MaxSignalWeight = 99

// Validate rejects tables that cannot produce a meaningful score.
func (w Weights) Validate() error {
	for name, v := range map[string]int{
		SignalDomain:      w.Domain,
		SignalAccount:     w.Account,
		SignalLength:      w.Length,
		SignalVerified:    w.Verified,
		SignalCrossListed: w.CrossListed,
	} {
		if v < 0 || v > MaxSignalWeight {
			return fmt.Errorf("weight %s must be within [0,%d], got %d", name, MaxSignalWeight, v)
		}
	}
	if w.MinBodyLength < 0 {
		return fmt.Errorf("min body length must be >= 0, got %d", w.MinBodyLength)
	}
	if w.OffChannelCeiling < 0 || w.OffChannelCeiling > 100 {
		return fmt.Errorf("off-channel ceiling must be within [0,100], got %d", w.OffChannelCeiling)
	}
	return nil
}

// Validator annotates items with an AuthenticityScore. It holds no mutable state.
type Validator struct {
	defaults  Weights
	overrides map[string]Weights
	logger    *slog.Logger
}

// Option customizes a Validator.
type Option func(*Validator)

// WithSubjectWeights tunes strictness for one subject.
func WithSubjectWeights(subjectID string, w Weights) Option {
	return func(v *Validator) {
		v.overrides[subjectID] = w
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator builds a validator over the default weight table.
func NewValidator(defaults Weights, opts ...Option) (*Validator, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default weights: %w", err)
	}

	v := &Validator{
		defaults:  defaults,
		overrides: map[string]Weights{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	for id, w := range v.overrides {
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("weights for %s: %w", id, err)
		}
	}
	v.logger = v.logger.With("component", "authenticity")
	return v, nil
}

// WeightsFor returns the table applied to a subject.
func (v *Validator) WeightsFor(subjectID string) Weights {
	if w, ok := v.overrides[subjectID]; ok {
		return w
	}
	return v.defaults
}

// CheckSubject verifies the subject carries the identifiers needed to score items of a platform.
func (v *Validator) CheckSubject(subject domain.Subject, platform domain.Platform) error {
	if platform.AccountBound() {
		if len(nonEmpty(subject.Accounts[platform])) == 0 {
			return fmt.Errorf("subject %s has no %s accounts: %w", subject.ID, platform, domain.ErrValidationConfig)
		}
		return nil
	}
	if len(nonEmpty(subject.OfficialDomains)) == 0 {
		return fmt.Errorf("subject %s has no official domains: %w", subject.ID, domain.ErrValidationConfig)
	}
	return nil
}

// Score evaluates every signal independently and returns the clamped total.
// Missing or malformed fields contribute zero.
func (v *Validator) Score(subject domain.Subject, item domain.ContentItem) domain.AuthenticityScore {
	w := v.WeightsFor(subject.ID)
	signals := make(map[string]int, 5)

	accountMismatch := false
	if item.Platform.AccountBound() {
		if matchesAccount(item.Platform, item.Author, subject.Accounts[item.Platform]) {
			signals[SignalAccount] = w.Account
		} else {
			signals[SignalAccount] = 0
			accountMismatch = true
		}
	} else {
		signals[SignalDomain] = 0
		if onOfficialDomain(item.URL, subject.OfficialDomains) {
			signals[SignalDomain] = w.Domain
		}
	}

	signals[SignalLength] = 0
	if utf8.RuneCountInString(strings.TrimSpace(item.Body)) >= w.MinBodyLength {
		signals[SignalLength] = w.Length
	}

	signals[SignalVerified] = 0
	if verified, ok := item.RawMetadata["verified"].(bool); ok && verified {
		signals[SignalVerified] = w.Verified
	}

	signals[SignalCrossListed] = 0
	if crossListed(item.RawMetadata, subject.OfficialDomains) {
		signals[SignalCrossListed] = w.CrossListed
	}

	sum := 0
	for _, c := range signals {
		sum += c
	}
	total := clamp(sum, 0, 100)

	capped := false
	if accountMismatch && total > w.OffChannelCeiling {
		total = w.OffChannelCeiling
		capped = true
	}

	return domain.AuthenticityScore{Total: total, Signals: signals, Capped: capped}
}

// Annotate stores the score on the item. Body and title are left untouched.
func (v *Validator) Annotate(subject domain.Subject, item *domain.ContentItem) {
	if item == nil {
		return
	}
	score := v.Score(subject, *item)
	item.Authenticity = &score
}

// ValidateBatch annotates every item and returns them in order. No item is dropped;
// the only error is cancellation, in which case the items scored so far are returned.
func (v *Validator) ValidateBatch(ctx context.Context, subject domain.Subject, items []domain.ContentItem) ([]domain.ContentItem, error) {
	out := make([]domain.ContentItem, 0, len(items))
	for i := range items {
		if err := ctx.Err(); err != nil {
			return out, domain.Cancelled(err)
		}
		item := items[i]
		v.Annotate(subject, &item)
		out = append(out, item)
	}

	v.logger.Debug("batch scored", "subject", subject.ID, "items", len(out))
	return out, nil
}

func onOfficialDomain(rawURL string, official []string) bool {
	host := domain.HostOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range official {
		d = normalizeDomain(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// normalizeDomain accepts bare domains as well as URLs in configuration.
func normalizeDomain(d string) string {
	d = strings.TrimSpace(d)
	if strings.Contains(d, "://") {
		return domain.HostOf(d)
	}
	d = strings.ToLower(strings.TrimSuffix(d, "/"))
	return strings.TrimPrefix(d, "www.")
}

func matchesAccount(platform domain.Platform, author string, accounts []string) bool {
	author = strings.TrimSpace(author)
	if author == "" {
		return false
	}
	for _, acc := range accounts {
		acc = strings.TrimSpace(acc)
		if acc == "" {
			continue
		}
		if platform == domain.PlatformYouTube {
			// Channel ids are case-sensitive.
			if author == acc {
				return true
			}
			continue
		}
		if strings.EqualFold(strings.TrimPrefix(author, "@"), strings.TrimPrefix(acc, "@")) {
			return true
		}
	}
	return false
}

func crossListed(meta map[string]any, official []string) bool {
	if len(meta) == 0 || len(official) == 0 {
		return false
	}
	if canonical, ok := meta["canonical_url"].(string); ok && onOfficialDomain(canonical, official) {
		return true
	}
	switch links := meta["links"].(type) {
	case []string:
		for _, l := range links {
			if onOfficialDomain(l, official) {
				return true
			}
		}
	case []any:
		for _, l := range links {
			if s, ok := l.(string); ok && onOfficialDomain(s, official) {
				return true
			}
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
