// Package stats computes derived statistics over alert history: mean time
// to acknowledge and resolve, severity and status distributions, and
// time-bucketed trends. It is a pure read path; nothing here mutates state.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"argus/core"
	"argus/storage"

	"go.uber.org/zap"
)

// Granularity selects the truncation boundary for trend buckets.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// IsValid checks the granularity against the supported set.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	default:
		return false
	}
}

// TrendBucket is one point of a trend series.
type TrendBucket struct {
	Bucket     time.Time             `json:"bucket"`
	Count      int                   `json:"count"`
	BySeverity map[core.Severity]int `json:"by_severity"`
}

// Summary is the aggregate snapshot served by the stats endpoint.
type Summary struct {
	TotalAlerts  int64                    `json:"total_alerts"`
	MTTASeconds  float64                  `json:"mtta_seconds"`
	MTTRSeconds  float64                  `json:"mttr_seconds"`
	BySeverity   map[core.Severity]int    `json:"by_severity"`
	ByStatus     map[core.AlertStatus]int `json:"by_status"`
	Acknowledged int                      `json:"acknowledged_count"`
	Resolved     int                      `json:"resolved_count"`
}

// Aggregator reads alert history and derives statistics on demand.
type Aggregator struct {
	store  storage.AlertStorage
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewAggregator creates a stats aggregator.
func NewAggregator(store storage.AlertStorage, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{store: store, now: time.Now, logger: logger}
}

// WithClock overrides the time source used for trend period anchoring.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// MTTA returns the mean seconds from creation to first acknowledgement over
// all acknowledged alerts. Zero when nothing has been acknowledged.
func (a *Aggregator) MTTA(ctx context.Context) (float64, error) {
	alerts, err := a.allAlerts(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	var count int
	for _, alert := range alerts {
		if alert.AcknowledgedAt == nil {
			continue
		}
		total += alert.AcknowledgedAt.Sub(alert.CreatedAt).Seconds()
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// MTTR returns the mean seconds from creation to resolution over all
// resolved alerts. Zero when nothing has been resolved.
func (a *Aggregator) MTTR(ctx context.Context) (float64, error) {
	alerts, err := a.allAlerts(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	var count int
	for _, alert := range alerts {
		if alert.ResolvedAt == nil {
			continue
		}
		total += alert.ResolvedAt.Sub(alert.CreatedAt).Seconds()
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// Distributions returns alert counts per severity and per status.
func (a *Aggregator) Distributions(ctx context.Context) (map[core.Severity]int, map[core.AlertStatus]int, error) {
	alerts, err := a.allAlerts(ctx)
	if err != nil {
		return nil, nil, err
	}
	bySeverity := make(map[core.Severity]int)
	byStatus := make(map[core.AlertStatus]int)
	for _, alert := range alerts {
		bySeverity[alert.Severity]++
		byStatus[alert.Status]++
	}
	return bySeverity, byStatus, nil
}

// Summary computes the full aggregate snapshot in one pass.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	alerts, err := a.allAlerts(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		TotalAlerts: int64(len(alerts)),
		BySeverity:  make(map[core.Severity]int),
		ByStatus:    make(map[core.AlertStatus]int),
	}
	var ackTotal, resolveTotal float64
	for _, alert := range alerts {
		summary.BySeverity[alert.Severity]++
		summary.ByStatus[alert.Status]++
		if alert.AcknowledgedAt != nil {
			ackTotal += alert.AcknowledgedAt.Sub(alert.CreatedAt).Seconds()
			summary.Acknowledged++
		}
		if alert.ResolvedAt != nil {
			resolveTotal += alert.ResolvedAt.Sub(alert.CreatedAt).Seconds()
			summary.Resolved++
		}
	}
	if summary.Acknowledged > 0 {
		summary.MTTASeconds = ackTotal / float64(summary.Acknowledged)
	}
	if summary.Resolved > 0 {
		summary.MTTRSeconds = resolveTotal / float64(summary.Resolved)
	}
	return summary, nil
}

// Trends buckets alerts created in the trailing period by truncating their
// creation timestamp to the granularity boundary. Buckets with no alerts are
// omitted; an empty period yields an empty series.
func (a *Aggregator) Trends(ctx context.Context, period time.Duration, granularity Granularity) ([]TrendBucket, error) {
	if !granularity.IsValid() {
		return nil, fmt.Errorf("unknown trend granularity %q", granularity)
	}
	if period <= 0 {
		return []TrendBucket{}, nil
	}
	end := a.now().UTC()
	start := end.Add(-period)
	alerts, err := a.store.GetAlertsByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]*TrendBucket)
	for _, alert := range alerts {
		key := truncateTo(alert.CreatedAt.UTC(), granularity)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &TrendBucket{Bucket: key, BySeverity: make(map[core.Severity]int)}
			buckets[key] = bucket
		}
		bucket.Count++
		bucket.BySeverity[alert.Severity]++
	}

	series := make([]TrendBucket, 0, len(buckets))
	for _, bucket := range buckets {
		series = append(series, *bucket)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Bucket.Before(series[j].Bucket) })
	return series, nil
}

func (a *Aggregator) allAlerts(ctx context.Context) ([]*core.Alert, error) {
	alerts, _, err := a.store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		return nil, fmt.Errorf("load alert history: %w", err)
	}
	return alerts, nil
}

// truncateTo snaps a timestamp down to the bucket boundary. Weeks start on
// Monday; months on the first.
func truncateTo(t time.Time, granularity Granularity) time.Time {
	switch granularity {
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}
