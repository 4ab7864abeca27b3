package redisx

import "time"

const (
	// Cache lookup by tracking code: track:{tracking_code} -> order JSON
	KeyTracking = "track:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id atau order_id:phase)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLTracking = 5 * time.Minute
	TTLDedup    = 48 * time.Hour
)
