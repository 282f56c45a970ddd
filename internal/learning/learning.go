// Package learning records execution feedback, maintains the per-pattern
// frequency aggregates, and classifies failure risk from historical ratios.
package learning

import (
	"errors"
	"fmt"
	"sort"

	"orchestro/internal/cache"
	"orchestro/internal/logging"
	"orchestro/internal/store"
)

// Risk thresholds on failure_rate. A pattern is risky at all from the low
// threshold upward.
const (
	RiskThresholdLow    = 0.25
	RiskThresholdMedium = 0.50
	RiskThresholdHigh   = 0.75
)

// Defaults for failure-pattern detection.
const (
	DefaultMinOccurrences   = 3
	DefaultFailureThreshold = 0.5
)

// Risk level labels.
const (
	RiskNone   = "none"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Service wraps the store's learning operations with validation, risk
// classification, and caching.
type Service struct {
	store *store.Store
	cache *cache.Cache
}

// NewService builds a learning service.
func NewService(s *store.Store, c *cache.Cache) *Service {
	return &Service{store: s, cache: c}
}

// FeedbackInput is the argument record for AddFeedback.
type FeedbackInput struct {
	TaskID   string
	Feedback string
	Type     string
	Pattern  string
	Tags     []string
}

// AddFeedback validates and records one feedback learning. The pattern
// aggregate is updated in the same transaction and feedback_received is
// queued before the call returns.
func (l *Service) AddFeedback(in FeedbackInput) (*store.Learning, error) {
	timer := logging.StartTimer(logging.CategoryLearning, "AddFeedback")
	defer timer.Stop()

	if in.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", store.ErrValidation)
	}
	if in.Feedback == "" {
		return nil, fmt.Errorf("%w: feedback is required", store.ErrValidation)
	}
	if in.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", store.ErrValidation)
	}
	switch in.Type {
	case store.FeedbackSuccess, store.FeedbackFailure, store.FeedbackImprovement:
	default:
		return nil, fmt.Errorf("%w: type must be success, failure, or improvement", store.ErrValidation)
	}
	if _, err := l.store.GetTask(in.TaskID); err != nil {
		return nil, err
	}

	tags := append([]string{}, in.Tags...)
	tags = appendMissing(tags, in.Type, "feedback")

	learning := &store.Learning{
		TaskID:  in.TaskID,
		Context: fmt.Sprintf("Task %s execution", in.TaskID),
		Action:  fmt.Sprintf("Applied pattern: %s", in.Pattern),
		Result:  in.Feedback,
		Lesson:  in.Feedback,
		Type:    in.Type,
		Pattern: in.Pattern,
		Tags:    tags,
	}
	if err := l.store.InsertFeedback(learning); err != nil {
		return nil, err
	}
	l.cache.InvalidatePattern("learnings:*")
	l.cache.InvalidatePattern("patterns:*")
	return learning, nil
}

func appendMissing(tags []string, extra ...string) []string {
	seen := map[string]bool{}
	for _, t := range tags {
		seen[t] = true
	}
	for _, t := range extra {
		if !seen[t] {
			tags = append(tags, t)
			seen[t] = true
		}
	}
	return tags
}

// SimilarLearnings finds learnings whose text overlaps the query context.
func (l *Service) SimilarLearnings(q store.SimilarQuery) ([]store.Learning, error) {
	return l.store.SimilarLearnings(q)
}

// ListLearnings returns recent learnings through the cache.
func (l *Service) ListLearnings(limit int) ([]store.Learning, error) {
	key := fmt.Sprintf("learnings:list:%d", limit)
	v, err := l.cache.GetOrSet(key, cache.DefaultTTL, func() (any, error) {
		return l.store.ListLearnings(limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Learning), nil
}

// TopPatterns returns the most frequent patterns through the cache.
func (l *Service) TopPatterns(limit int) ([]store.PatternFrequency, error) {
	key := fmt.Sprintf("patterns:top:%d", limit)
	v, err := l.cache.GetOrSet(key, cache.DefaultTTL, func() (any, error) {
		return l.store.TopPatterns(limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.PatternFrequency), nil
}

// TrendingPatterns ranks patterns by recent-window activity.
func (l *Service) TrendingPatterns(days, limit int) ([]store.TrendingPattern, error) {
	return l.store.TrendingPatterns(days, limit)
}

// PatternStats returns the raw aggregate for one pattern.
func (l *Service) PatternStats(pattern string) (*store.PatternFrequency, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", store.ErrValidation)
	}
	return l.store.PatternStats(pattern)
}

// FailurePattern is one detected recurring failure.
type FailurePattern struct {
	Pattern      string  `json:"pattern"`
	Frequency    int     `json:"frequency"`
	FailureCount int     `json:"failure_count"`
	FailureRate  float64 `json:"failure_rate"`
	RiskLevel    string  `json:"risk_level"`
}

// DetectFailurePatterns returns patterns seen at least minOccurrences times
// whose failure rate meets the threshold, worst first. Non-positive inputs
// take the defaults.
func (l *Service) DetectFailurePatterns(minOccurrences int, failureThreshold float64) ([]FailurePattern, error) {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}

	aggregates, err := l.store.PatternsWithMinFrequency(minOccurrences)
	if err != nil {
		return nil, err
	}

	failures := []FailurePattern{}
	for _, pf := range aggregates {
		rate := store.Round2(float64(pf.FailureCount) / float64(pf.Frequency))
		if rate < failureThreshold {
			continue
		}
		level := RiskLow
		switch {
		case rate >= RiskThresholdHigh:
			level = RiskHigh
		case rate >= RiskThresholdMedium:
			level = RiskMedium
		}
		failures = append(failures, FailurePattern{
			Pattern:      pf.Pattern,
			Frequency:    pf.Frequency,
			FailureCount: pf.FailureCount,
			FailureRate:  rate,
			RiskLevel:    level,
		})
	}

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].FailureRate != failures[j].FailureRate {
			return failures[i].FailureRate > failures[j].FailureRate
		}
		return failures[i].Frequency > failures[j].Frequency
	})
	return failures, nil
}

// PatternRisk is the classification for one pattern.
type PatternRisk struct {
	Pattern        string  `json:"pattern"`
	IsRisky        bool    `json:"is_risky"`
	RiskLevel      string  `json:"risk_level"`
	FailureRate    float64 `json:"failure_rate"`
	Frequency      int     `json:"frequency"`
	Recommendation string  `json:"recommendation"`
}

// CheckPatternRisk classifies one pattern by its historical failure rate.
// Unseen patterns are not risky; they just have no data.
func (l *Service) CheckPatternRisk(pattern string) (*PatternRisk, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", store.ErrValidation)
	}

	pf, err := l.store.PatternStats(pattern)
	if err != nil {
		if isNotFound(err) {
			return &PatternRisk{
				Pattern:        pattern,
				IsRisky:        false,
				RiskLevel:      RiskNone,
				Recommendation: "No historical data for this pattern yet. Proceed and record feedback.",
			}, nil
		}
		return nil, err
	}
	if pf.Frequency == 0 {
		return &PatternRisk{
			Pattern:        pattern,
			IsRisky:        false,
			RiskLevel:      RiskNone,
			Recommendation: "No historical data for this pattern yet. Proceed and record feedback.",
		}, nil
	}

	rate := store.Round2(float64(pf.FailureCount) / float64(pf.Frequency))
	risk := &PatternRisk{
		Pattern:     pattern,
		FailureRate: rate,
		Frequency:   pf.Frequency,
	}
	switch {
	case rate >= RiskThresholdHigh:
		risk.IsRisky = true
		risk.RiskLevel = RiskHigh
		risk.Recommendation = fmt.Sprintf(
			"High risk: %.0f%% of %d uses failed. Strongly consider a different approach or break the work down further.",
			rate*100, pf.Frequency)
	case rate >= RiskThresholdMedium:
		risk.IsRisky = true
		risk.RiskLevel = RiskMedium
		risk.Recommendation = fmt.Sprintf(
			"Medium risk: %.0f%% of %d uses failed. Review past failures before applying this pattern.",
			rate*100, pf.Frequency)
	case rate >= RiskThresholdLow:
		risk.IsRisky = true
		risk.RiskLevel = RiskLow
		risk.Recommendation = fmt.Sprintf(
			"Low risk: %.0f%% of %d uses failed. Proceed with the usual care.",
			rate*100, pf.Frequency)
	default:
		risk.IsRisky = false
		risk.RiskLevel = RiskNone
		risk.Recommendation = fmt.Sprintf(
			"This pattern has a good track record (%d of %d uses failed). Proceed.",
			pf.FailureCount, pf.Frequency)
	}
	return risk, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
