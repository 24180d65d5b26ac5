package service

// Observer hooks feed operation outcomes into metrics. Implementations
// must be safe for concurrent use; methods are called from worker
// goroutines.

type AppendObserver interface {
	ObserveAppend()
}

type ConsolidationObserver interface {
	ObserveConsolidation(res *ConsolidationResult)
}

type PromotionObserver interface {
	ObservePromotion(res *PromotionResult)
}

// MetricsObserver aggregates the per-service hooks so a composition
// root can wire one collector everywhere.
type MetricsObserver interface {
	AppendObserver
	ConsolidationObserver
	PromotionObserver
	RetrievalObserver
}
