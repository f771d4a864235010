package game

// Labels for the next deal control
const (
	LabelNextDeal = "Next Deal"
	LabelWaiting  = "Waiting..."
)

// GatePhase is the ready gate's state machine position.
type GatePhase string

const (
	GateClosed GatePhase = "closed"
	GateOpen   GatePhase = "open"
)

// Phase returns whether the gate is open.
func (g Gate) Phase() GatePhase {
	if g.WaitingForReady {
		return GateOpen
	}
	return GateClosed
}

// IsReady reports whether the server has acknowledged id as ready.
func (g Gate) IsReady(id string) bool {
	return g.WaitingForReady && g.PlayersReady.Has(id)
}

// Control describes how a button should be shown.
type Control struct {
	Visible bool
	Enabled bool
	Label   string
}

// NextDealControl derives the "Next Deal" control from state. It is visible
// only while the gate is open, and disabled once the server lists the local
// session among the ready players. Clicking the control does not change
// state; only the server's echo does.
func NextDealControl(s *State) Control {
	if s == nil || !s.Gate.WaitingForReady {
		return Control{Label: LabelNextDeal}
	}
	if s.Gate.PlayersReady.Has(s.SelfID) {
		return Control{Visible: true, Enabled: false, Label: LabelWaiting}
	}
	return Control{Visible: true, Enabled: true, Label: LabelNextDeal}
}

// Actions lists which user actions the UI should offer.
type Actions struct {
	Bet   bool
	Check bool
	Ready bool
}

// AvailableActions derives the actions to offer from state. These are
// display hints; the server still decides whether an action is legal.
func AvailableActions(s *State) Actions {
	if s == nil || s.GameFinished {
		return Actions{}
	}

	var a Actions
	if s.DealInProgress && !s.Gate.WaitingForReady && s.IsMyTurn() {
		a.Bet = true
		a.Check = s.LastBet != ""
	}
	if c := NextDealControl(s); c.Visible && c.Enabled {
		a.Ready = true
	}
	return a
}
