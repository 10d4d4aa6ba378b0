package domain

// GlobalStats — агрегаты для дашборда Console API
type GlobalStats struct {
	TotalRuns       int64            `json:"total_runs"`
	BlockedSteps    int64            `json:"blocked_steps"`
	WaitingApproval int64            `json:"waiting_approval"`
	DenyRatio       float64          `json:"deny_ratio"`
	TopWorkflows    map[string]int64 `json:"top_workflows"`
	HourlyActivity  []ActivityPoint  `json:"hourly_activity"`
}

type ActivityPoint struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}
