package incident

// Route picks the next stage for the incident manager. The first tier in
// priority order that has logs and no result wins; otherwise aggregate.
func Route(state *AnalysisState) Stage {
	for _, tier := range tierOrder {
		if state.Available(tier) && !state.Done(tier) {
			return ToolStage(tier)
		}
	}
	return StageAggregate
}
