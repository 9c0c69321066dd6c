package registry

import (
	"fmt"
	"time"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

// Evaluate reports a device online iff it was seen within two intervals of now.
// The boundary is inclusive.
func Evaluate(lastSeen, now time.Time, interval time.Duration) model.Status {
	if now.Sub(lastSeen) <= 2*interval {
		return model.StatusOnline
	}

	return model.StatusOffline
}

// View projects items into the listing served to viewers, evaluating status at now.
func View(items []Item, now time.Time, interval time.Duration) []model.DeviceView {
	views := make([]model.DeviceView, 0, len(items))
	for _, it := range items {
		status := Evaluate(it.Entry.LastSeen, now, interval)
		views = append(views, model.DeviceView{
			Snapshot:    it.Entry.Snapshot,
			Status:      status,
			Online:      status == model.StatusOnline,
			LastSeen:    it.Entry.LastSeen.Unix(),
			LastSeenAgo: Ago(now.Sub(it.Entry.LastSeen)),
		})
	}

	return views
}

// Ago renders an elapsed duration as a compact "x ago" string.
func Ago(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}

	if secs < 60 {
		return fmt.Sprintf("%ds ago", secs)
	}

	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dm ago", mins)
	}

	hrs := mins / 60
	if hrs < 24 {
		return fmt.Sprintf("%dh %dm ago", hrs, mins%60)
	}

	return fmt.Sprintf("%dd ago", hrs/24)
}
