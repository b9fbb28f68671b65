package analytics

import "time"

// DefaultSlowThreshold is the latency above which a conversation
// counts as slow.
const DefaultSlowThreshold = 15 * time.Second

// SummaryOptions tunes Summarize.
type SummaryOptions struct {
	SlowThreshold time.Duration
	CostModel     string
}

// Summary is the key-metrics block shown above the charts.
type Summary struct {
	Total             int     `json:"total"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	UniqueUsers       int     `json:"unique_users"`
	SlowTraces        int     `json:"slow_traces"`
	TotalTokens       int     `json:"total_tokens"`
	EstimatedCost     float64 `json:"estimated_cost"`
	CostModel         string  `json:"cost_model"`
}

// Summarize computes the key metrics of ds. Rows without a
// latency contribute zero to the mean and are never slow.
func Summarize(ds Dataset, opts SummaryOptions) Summary {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	slow := opts.SlowThreshold.Seconds()

	s := Summary{Total: ds.Len(), CostModel: opts.CostModel}
	users := make(map[string]bool)
	var latency float64
	for _, r := range ds.Rows {
		if r.Success {
			s.Successful++
		}
		users[r.UserName] = true
		latency += r.LatencySeconds
		if r.LatencySeconds > slow {
			s.SlowTraces++
		}
		if r.TotalTokens != nil {
			s.TotalTokens += *r.TotalTokens
		}
	}
	s.Failed = s.Total - s.Successful
	s.SuccessRate = successRate(s.Successful, s.Total)
	s.UniqueUsers = len(users)
	if s.Total > 0 {
		s.AvgLatencySeconds = latency / float64(s.Total)
	}
	s.EstimatedCost = EstimateCost(s.TotalTokens, opts.CostModel)
	return s
}
