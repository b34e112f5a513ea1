package service

import (
	"sort"
	"time"

	"github.com/insumed-ar/ventas-api/internal/models"
)

// Summarize derives the temporal view of an opportunity from its ordered
// history. For closed records the clock stops at the EARLIEST transition
// into a terminal state ever recorded: a record that was reopened and
// re-closed keeps a stable, auditable days-to-first-close instead of
// drifting with every re-close.
func Summarize(opp *models.Opportunity, history []models.TransitionRecord, now time.Time) models.OpportunitySummary {
	isClosed := opp.Estado.Terminal()

	end := now
	var closedAt *time.Time
	if isClosed {
		ordered := make([]models.TransitionRecord, len(history))
		copy(ordered, history)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
		for _, record := range ordered {
			if record.ToState.Terminal() {
				ts := record.CreatedAt
				closedAt = &ts
				end = ts
				break
			}
		}
		if closedAt == nil {
			// Terminal state with no matching history entry: the audit
			// trail is incomplete, fall back to the current time.
			ts := now
			closedAt = &ts
		}
	}

	elapsed := end.Sub(opp.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(elapsed / (24 * time.Hour))
	if elapsed%(24*time.Hour) != 0 {
		days++
	}

	return models.OpportunitySummary{
		DaysElapsed: days,
		IsClosed:    isClosed,
		ClosedAt:    closedAt,
	}
}
