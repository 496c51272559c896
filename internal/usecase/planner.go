package usecase

import (
	"strings"

	"EventArb/internal/domain/models"

	"github.com/shopspring/decimal"
)

const (
	timingAtT0 = "AT_T0"
	macroTPPct = 3.5
	macroSLPct = 1.8
	kindCPI    = "CPI"
	kindFOMC   = "FOMC"
)

// Planner maps a fired event to one action per symbol. Only macro releases
// trade; every other kind yields FLAT actions.
type Planner struct {
	notional decimal.Decimal
}

func NewPlanner(defaultNotional decimal.Decimal) *Planner {
	return &Planner{notional: defaultNotional}
}

func (p *Planner) Plan(ev models.Event) []models.PlannedAction {
	kind := strings.ToUpper(strings.TrimSpace(ev.Kind))
	actions := make([]models.PlannedAction, 0, len(ev.Symbols))
	for _, sym := range ev.Symbols {
		a := models.PlannedAction{
			EventID:  ev.ID,
			Symbol:   sym,
			Side:     models.SideFlat,
			Notional: p.notional,
			Timing:   timingAtT0,
		}
		if kind == kindCPI || kind == kindFOMC {
			a.Side = models.SideBuy
			a.TPPct = macroTPPct
			a.SLPct = macroSLPct
		}
		actions = append(actions, a)
	}
	return actions
}
