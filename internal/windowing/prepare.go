package windowing

import "github.com/petasbytes/market-agent/internal/provider"

// Stats summarizes the result of window preparation.
//
// Fields:
// - Total: estimated tokens for included groups only.
// - Budget: the input token budget used.
// - IncludedGroups / SkippedGroups: groups kept and dropped (oldest first).
// - DroppedMessages: messages removed from the front of the history.
// - OverBudgetNewest: true when the newest single group alone exceeds Budget.
type Stats struct {
	Total            int
	Budget           int
	IncludedGroups   int
	SkippedGroups    int
	DroppedMessages  int
	OverBudgetNewest bool
}

// PrepareSendWindow returns the longest suffix of msgs (oldest→newest) made
// of whole groups whose estimated cost fits within budget.
//
// Rules:
// - Include whole groups scanning newest→oldest while total ≤ budget; stop at the first misfit.
// - If the newest group alone exceeds budget, return an empty window and set OverBudgetNewest.
// - If budget ≤ 0, return an empty window (OverBudgetNewest set when any groups exist).
func PrepareSendWindow(msgs []provider.Message, budget int, c TokenCounter) ([]provider.Message, Stats) {
	if len(msgs) == 0 {
		return nil, Stats{Budget: budget}
	}

	groups := GroupBlocks(msgs)
	if budget <= 0 {
		return nil, Stats{
			Budget:           budget,
			SkippedGroups:    len(groups),
			DroppedMessages:  len(msgs),
			OverBudgetNewest: true,
		}
	}

	total, included := 0, 0
	for gi := len(groups) - 1; gi >= 0; gi-- {
		cost := c.CountGroup(groups[gi], msgs)
		if total+cost > budget {
			if included == 0 {
				logger().Debug("window newest group over budget", "budget", budget, "cost", cost)
				return nil, Stats{
					Budget:           budget,
					SkippedGroups:    len(groups),
					DroppedMessages:  len(msgs),
					OverBudgetNewest: true,
				}
			}
			break
		}
		total += cost
		included++
	}

	start := groups[len(groups)-included].Start
	return msgs[start:], Stats{
		Total:           total,
		Budget:          budget,
		IncludedGroups:  included,
		SkippedGroups:   len(groups) - included,
		DroppedMessages: start,
	}
}
