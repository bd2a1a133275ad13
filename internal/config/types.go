package config

// Default service endpoints
const (
	DefaultSDKEndpoint       = "https://sdk.split.io/api"
	DefaultEventsEndpoint    = "https://events.split.io/api"
	DefaultAuthEndpoint      = "https://auth.split.io/api"
	DefaultStreamingEndpoint = "https://streaming.split.io/sse"
)

// Reconnect backoff bounds, in seconds
const (
	MinBackoffBase     = 1
	MaxBackoffBase     = 1800
	DefaultBackoffBase = 1
)

// Sync defaults, in seconds unless noted
const (
	DefaultFeaturesRefreshRate  = 3600
	DefaultSegmentsRefreshRate  = 1800
	DefaultTelemetryRefreshRate = 1800
	DefaultSSEConnectionTimeout = 80
	DefaultWorkerQueueSize      = 100 // items
)
