package frontend

import (
	"fmt"
	"time"

	"procodus.dev/water-monitor/pkg/sensorrpc"
)

//go:generate templ generate

const timeLayout = "2006-01-02 15:04:05 MST"

// dashboardView is everything the index page shows.
type dashboardView struct {
	Latest  *sensorrpc.Reading
	History []sensorrpc.Reading
	LiveURL string
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
