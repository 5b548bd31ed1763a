// Package codec encodes session snapshots for durable storage.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"zkbattle/internal/game"
)

// Version is bumped whenever game.State changes shape incompatibly.
const Version = 1

type envelope struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"savedAt"`
	State   game.State `json:"state"`
}

// Encode wraps s in a versioned envelope.
func Encode(s game.State, savedAt time.Time) ([]byte, error) {
	b, err := json.Marshal(envelope{Version: Version, SavedAt: savedAt.UTC(), State: s})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses and validates a snapshot. Any failure is reported as
// game.ErrPersistenceCorruption so callers can fall back to a fresh session.
func Decode(b []byte) (game.State, time.Time, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return game.State{}, time.Time{}, game.Wrap(game.CodePersistenceCorruption, "decode snapshot", err)
	}
	if env.Version != Version {
		return game.State{}, time.Time{}, game.Errorf(game.CodePersistenceCorruption, "snapshot version %d, want %d", env.Version, Version)
	}
	if err := Validate(env.State); err != nil {
		return game.State{}, time.Time{}, err
	}
	return env.State, env.SavedAt, nil
}

// Validate rejects states no sequence of reducer transitions can produce.
func Validate(s game.State) error {
	bad := func(format string, args ...any) error {
		return game.Errorf(game.CodePersistenceCorruption, "snapshot: "+format, args...)
	}
	if s.Phase > game.PhaseEnded {
		return bad("phase %d", s.Phase)
	}
	if s.SessionID == "" && s.Phase != game.PhaseSetup {
		return bad("%s without session id", s.Phase)
	}
	if s.Stake < 0 {
		return bad("negative stake %d", s.Stake)
	}
	if s.Phase >= game.PhasePlacement && !s.StakeDeducted && !s.Aborted {
		return bad("%s without escrowed stake", s.Phase)
	}
	for _, u := range []int{s.PlayerUnit, s.OpponentUnit} {
		if u != game.NoUnit && !game.ValidCell(u) {
			return bad("unit %d", u)
		}
	}
	if s.Phase == game.PhaseBattle && (s.PlayerUnit == game.NoUnit || s.OpponentUnit == game.NoUnit) {
		return bad("battle without units")
	}
	for i := range s.PlayerGrid {
		if s.PlayerGrid[i] > game.CellMiss || s.OpponentGrid[i] > game.CellMiss {
			return bad("cell %d state", i)
		}
	}
	if s.Turn > game.SideOpponent || s.Winner > game.SideOpponent {
		return bad("side out of range")
	}
	if s.Proof.Stage > game.StageVerificationFailure {
		return bad("stage %d", s.Proof.Stage)
	}
	if s.Proof.Stage != game.StageIdle && !game.ValidCell(s.Proof.Target) {
		return bad("proof target %d", s.Proof.Target)
	}
	if s.Log.Total != s.Seq {
		return bad("log total %d, seq %d", s.Log.Total, s.Seq)
	}
	return nil
}
