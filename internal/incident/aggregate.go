package incident

// Aggregate returns the completed tier results. It reads state only.
func Aggregate(state *AnalysisState) map[Tier]string {
	out := make(map[Tier]string, len(tierOrder))
	for _, tier := range tierOrder {
		if result := state.Results[tier]; result != "" {
			out[tier] = result
		}
	}
	return out
}

// OrderedTiers returns the tiers present in an aggregate, in stable tier order.
func OrderedTiers(aggregate map[Tier]string) []Tier {
	out := make([]Tier, 0, len(aggregate))
	for _, tier := range tierOrder {
		if _, ok := aggregate[tier]; ok {
			out = append(out, tier)
		}
	}
	return out
}
