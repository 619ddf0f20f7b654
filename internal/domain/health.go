package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual backend.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// LifecycleMetrics is returned by GET /v1/admin/metrics/lifecycle.
type LifecycleMetrics struct {
	Transitions          map[string]float64 `json:"transitions"`
	FinalizationsOK      float64            `json:"finalizationsOk"`
	FinalizationsFailed  float64            `json:"finalizationsFailed"`
	PartialFinalizations float64            `json:"partialFinalizations"`
	ReconcileRepaired    float64            `json:"reconcileRepaired"`
	ReconcileFlagged     float64            `json:"reconcileFlagged"`
	AuthorizationDenials float64            `json:"authorizationDenials"`
	ConcurrentConflicts  float64            `json:"concurrentConflicts"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}
