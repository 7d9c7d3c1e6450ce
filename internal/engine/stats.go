package engine

import (
	"math"
	"time"

	"github.com/platformhq/webhook-delivery/internal/store"
)

// EndpointStats is the windowed health summary served by the stats API.
type EndpointStats struct {
	EndpointID    string    `json:"endpoint_id"`
	Since         time.Time `json:"since"`
	Total         int       `json:"total"`
	Successful    int       `json:"successful"`
	Failed        int       `json:"failed"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMs *float64  `json:"avg_duration_ms"`
}

// SuccessRate returns successful/total as a percentage rounded to two
// decimals. Zero total yields 0, never a division fault.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(successful)/float64(total)*10000) / 100
}

// BuildEndpointStats shapes raw counts into the API summary.
func BuildEndpointStats(endpointID string, since time.Time, c *store.DeliveryCounts) EndpointStats {
	return EndpointStats{
		EndpointID:    endpointID,
		Since:         since,
		Total:         c.Total,
		Successful:    c.Successful,
		Failed:        c.Failed,
		SuccessRate:   SuccessRate(c.Successful, c.Total),
		AvgDurationMs: c.AvgDurationMs,
	}
}
