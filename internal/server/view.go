package server

import "zkbattle/internal/game"

type proofView struct {
	Stage  string `json:"stage"`
	Target string `json:"target,omitempty"`
	Ref    string `json:"ref,omitempty"`
	Error  string `json:"error,omitempty"`
	Hit    bool   `json:"hit"`
}

// statusView is what a client may see. The opponent unit and salt stay
// server-side.
type statusView struct {
	SessionID     string          `json:"sessionId,omitempty"`
	Phase         string          `json:"phase"`
	Stake         int64           `json:"stake"`
	StakeDeducted bool            `json:"stakeDeducted"`
	Turn          string          `json:"turn"`
	Winner        string          `json:"winner,omitempty"`
	Aborted       bool            `json:"aborted"`
	Busy          bool            `json:"busy"`
	PlayerUnit    string          `json:"playerUnit,omitempty"`
	PlayerGrid    []string        `json:"playerGrid"`
	OpponentGrid  []string        `json:"opponentGrid"`
	ShotsFired    int             `json:"shotsFired"`
	Hits          int             `json:"hits"`
	ShotsTaken    int             `json:"shotsTaken"`
	HitsTaken     int             `json:"hitsTaken"`
	Commitment    string          `json:"commitment,omitempty"`
	Proof         proofView       `json:"proof"`
	Log           []game.LogEntry `json:"log"`
}

func cells(g game.Grid) []string {
	out := make([]string, len(g))
	for i, c := range g {
		out[i] = c.String()
	}
	return out
}

func newStatusView(s game.State, busy bool) statusView {
	v := statusView{
		SessionID:     s.SessionID,
		Phase:         s.Phase.String(),
		Stake:         s.Stake,
		StakeDeducted: s.StakeDeducted,
		Turn:          s.Turn.String(),
		Aborted:       s.Aborted,
		Busy:          busy,
		PlayerGrid:    cells(s.PlayerGrid),
		OpponentGrid:  cells(s.OpponentGrid),
		ShotsFired:    s.ShotsFired,
		Hits:          s.Hits,
		ShotsTaken:    s.ShotsTaken,
		HitsTaken:     s.HitsTaken,
		Commitment:    s.Commitment,
		Log:           s.Log.Recent(),
	}
	v.Proof = proofView{
		Stage: s.Proof.Stage.String(),
		Ref:   s.Proof.VerificationRef,
		Error: s.Proof.Error,
		Hit:   s.Proof.Hit,
	}
	if s.Winner != game.SideNone {
		v.Winner = s.Winner.String()
	}
	if s.PlayerUnit != game.NoUnit {
		v.PlayerUnit = game.CellName(s.PlayerUnit)
	}
	if s.Proof.Stage != game.StageIdle {
		v.Proof.Target = game.CellName(s.Proof.Target)
	}
	return v
}
