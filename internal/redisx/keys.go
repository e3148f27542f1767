package redisx

import "time"

const (
	// Webhook event dedup: dedup:webhook:{event_id}
	KeyWebhookDedup = "dedup:webhook:%s"

	// Remote mirror cache, keyed by the external product code.
	KeyMirrorPrice = "mirror:price:%s"
	KeyMirrorStock = "mirror:stock:%s"
)

var (
	TTLDedup = 48 * time.Hour

	// Defaults; the mirror takes its TTLs from config.
	TTLMirrorPrice = 1800 * time.Second
	TTLMirrorStock = 300 * time.Second
)
