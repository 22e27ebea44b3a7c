package service

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"visitstats/internal/domain"
)

// HoursPerDay is the fixed number of buckets in a ByHourToday report
const HoursPerDay = 24

var (
	isoMinutePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T(\d{2}):(\d{2})`)
	isoDatePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// AggregateRecords folds records into one bucket each according to mode.
// TotalCount is always len(records); a record without any usable date is
// counted but not bucketed. Buckets are sorted ascending by key.
func AggregateRecords(records []*domain.VisitRecord, now time.Time, mode domain.BucketMode) *domain.AggregateReport {
	counts := make(map[string]int64)

	switch mode {
	case domain.ByHourToday:
		today := domain.BucketDate(now)
		for h := 0; h < HoursPerDay; h++ {
			counts[HourKey(h)] = 0
		}
		for _, rec := range records {
			if recordDate(rec) != today {
				continue
			}
			if hour, ok := recordHour(rec); ok {
				counts[HourKey(hour)]++
			}
		}

	case domain.ByDateTimeMinute:
		for _, rec := range records {
			if key, ok := minuteKey(rec); ok {
				counts[key]++
			}
		}

	default:
		for _, rec := range records {
			if date := recordDate(rec); date != "" {
				counts[date]++
			}
		}
	}

	buckets := make([]domain.BucketCount, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, domain.BucketCount{Key: key, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })

	return &domain.AggregateReport{
		TotalCount: int64(len(records)),
		Mode:       mode,
		Buckets:    buckets,
	}
}

// HourKey formats an hour of day as a sortable bucket key
func HourKey(hour int) string {
	return fmt.Sprintf("%02d", hour)
}

// recordDate prefers the stored bucket date, then the timestamp, then the dedup key
func recordDate(rec *domain.VisitRecord) string {
	if rec.BucketDate != "" {
		return rec.BucketDate
	}
	if d := isoDatePattern.FindString(rec.ArrivalTimestamp); d != "" {
		return d
	}
	if _, date, err := domain.SplitDedupKey(rec.DedupKey); err == nil {
		return date
	}
	return ""
}

func recordHour(rec *domain.VisitRecord) (int, bool) {
	if rec.ArrivalTimestamp == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339Nano, rec.ArrivalTimestamp); err == nil {
		return t.UTC().Hour(), true
	}
	m := isoMinutePattern.FindStringSubmatch(rec.ArrivalTimestamp)
	if m == nil {
		return 0, false
	}
	hour, err := strconv.Atoi(m[2])
	if err != nil || hour >= HoursPerDay {
		return 0, false
	}
	return hour, true
}

// minuteKey reads "YYYY-MM-DD HH:mm" straight from the ISO text, falling back
// to "{date} 00:00" when the timestamp is missing or malformed.
func minuteKey(rec *domain.VisitRecord) (string, bool) {
	if m := isoMinutePattern.FindStringSubmatch(rec.ArrivalTimestamp); m != nil {
		return m[1] + " " + m[2] + ":" + m[3], true
	}
	if date := recordDate(rec); date != "" {
		return date + " 00:00", true
	}
	return "", false
}
