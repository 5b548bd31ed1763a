// Package notify is the boundary to notification delivery. Alerts are
// fire-and-forget: an Alerter must not block the caller.
package notify

import (
	"context"
	"log/slog"
)

type Type string

const (
	EnemyAttack Type = "enemy_attack"
	Win         Type = "win"
	Loss        Type = "loss"
	LowBalance  Type = "low_balance"
	Refund      Type = "refund"
)

type Alerter interface {
	Alert(ctx context.Context, t Type, sessionID, detail string)
}

// Log writes alerts to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Alert(ctx context.Context, t Type, sessionID, detail string) {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.InfoContext(ctx, "alert", "type", string(t), "session_id", sessionID, "detail", detail)
}

// Fanout delivers each alert to every member.
type Fanout []Alerter

func (f Fanout) Alert(ctx context.Context, t Type, sessionID, detail string) {
	for _, a := range f {
		if a != nil {
			a.Alert(ctx, t, sessionID, detail)
		}
	}
}

// Func adapts a function to Alerter.
type Func func(ctx context.Context, t Type, sessionID, detail string)

func (f Func) Alert(ctx context.Context, t Type, sessionID, detail string) { f(ctx, t, sessionID, detail) }
