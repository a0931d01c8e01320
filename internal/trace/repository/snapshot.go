package repository

import (
	"database/sql"
	"math"
	"sort"
	"time"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// snapshotGroup accumulates one flow's or one service's samples for a day.
type snapshotGroup struct {
	flowName  string
	service   string
	total     int64
	successes int64
	durations []float64
}

// aggregateSnapshot folds raw event rows into per-flow and per-service
// reliability snapshots. Percentiles are computed here rather than in SQL so
// the computation is identical across database drivers.
func aggregateSnapshot(day time.Time, rows *sql.Rows) ([]*traceDomain.ReliabilitySnapshot, error) {
	groups := make(map[string]*snapshotGroup)

	for rows.Next() {
		var eventType, status string
		var flowName, service sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(&eventType, &flowName, &service, &status, &durationMs); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan sync event")
		}

		var key string
		group := &snapshotGroup{}
		if eventType == string(traceDomain.EventAPICall) {
			key = "service:" + service.String
			group.service = service.String
		} else {
			key = "flow:" + flowName.String
			group.flowName = flowName.String
		}
		if existing, ok := groups[key]; ok {
			group = existing
		} else {
			groups[key] = group
		}

		group.total++
		if status == string(traceDomain.FlowSuccess) || status == string(traceDomain.CallSuccess) {
			group.successes++
		}
		if durationMs.Valid {
			group.durations = append(group.durations, float64(durationMs.Int64))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate sync events")
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	snapshots := make([]*traceDomain.ReliabilitySnapshot, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		sort.Float64s(group.durations)

		snapshot := &traceDomain.ReliabilitySnapshot{
			Day:       day,
			FlowName:  group.flowName,
			Service:   group.service,
			Total:     group.total,
			Successes: group.successes,
			P50Ms:     percentile(group.durations, 0.50),
			P95Ms:     percentile(group.durations, 0.95),
			P99Ms:     percentile(group.durations, 0.99),
		}
		if group.total > 0 {
			snapshot.SuccessRate = float64(group.successes) / float64(group.total)
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

// percentile returns the p-th percentile of sorted samples using linear
// interpolation between closest ranks. Returns 0 for an empty set.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
