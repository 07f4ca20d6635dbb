package flight

import "strings"

// Status is the canonical flight-leg status for rows in the report.
type Status string

// Stable values (these exact strings reach the output sheet and the store).
const (
	StatusScheduled Status = "scheduled"
	StatusDelayed   Status = "delayed"
	StatusDeparted  Status = "departed"
	StatusArrived   Status = "arrived"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// statusLookup maps the result page's status labels (the site renders them
// in Chinese, occasionally in English) onto the canonical enum.
var statusLookup = map[string]Status{
	"计划":        StatusScheduled,
	"计划航班":      StatusScheduled,
	"scheduled": StatusScheduled,
	"延误":        StatusDelayed,
	"晚点":        StatusDelayed,
	"delayed":   StatusDelayed,
	"起飞":        StatusDeparted,
	"已起飞":       StatusDeparted,
	"departed":  StatusDeparted,
	"到达":        StatusArrived,
	"已到达":       StatusArrived,
	"arrived":   StatusArrived,
	"取消":        StatusCancelled,
	"已取消":       StatusCancelled,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
}

// ParseStatus maps a raw status label to the enum. Unrecognized labels map
// to StatusUnknown rather than failing the leg.
func ParseStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := statusLookup[key]; ok {
		return s
	}
	return StatusUnknown
}
