package usecase

import "context"

// MetricsSummary represents aggregated inference insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	RejectedRequests           int64   `json:"rejected_requests"`
	SuccessRate                float64 `json:"success_rate"`
	AveragePercentage          float64 `json:"average_percentage"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates inference metrics from persisted logs.
func (uc *InferenceUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.audit == nil {
		return nil, ErrMetricsDisabled
	}
	aggregation, err := uc.audit.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		RejectedRequests:           aggregation.RejectedCount,
		AveragePercentage:          aggregation.AveragePercentage,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
