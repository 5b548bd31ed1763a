// Package command turns raw pointer and voice input into canonical commands.
package command

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"zkbattle/internal/game"
)

// Command is one of Fire, Place, Abort or Reset.
type Command interface {
	isCommand()
	Kind() Kind
}

type Kind string

const (
	KindFire  Kind = "fire"
	KindPlace Kind = "place"
	KindAbort Kind = "abort"
	KindReset Kind = "reset"
)

type Fire struct{ Cell int }
type Place struct{ Cell int }
type Abort struct{}

// Reset clears a failed proof so the player can fire again.
type Reset struct{}

func (Fire) isCommand()  {}
func (Place) isCommand() {}
func (Abort) isCommand() {}
func (Reset) isCommand() {}

func (Fire) Kind() Kind  { return KindFire }
func (Place) Kind() Kind { return KindPlace }
func (Abort) Kind() Kind { return KindAbort }
func (Reset) Kind() Kind { return KindReset }

// Input is a raw event from a command source.
type Input interface {
	isInput()
}

// Pointer is a cell selection. Its meaning depends on the phase.
type Pointer struct{ Cell int }

// Transcript is speech-to-text output.
type Transcript struct{ Text string }

// Raw is an already-typed command, e.g. from the HTTP API.
type Raw struct {
	Kind Kind
	Cell string
}

func (Pointer) isInput()    {}
func (Transcript) isInput() {}
func (Raw) isInput()        {}

// Normalize maps in to a Command for a session in phase. Errors are
// validation errors: the caller treats them as no-ops.
func Normalize(in Input, phase game.Phase) (Command, error) {
	switch in := in.(type) {
	case Pointer:
		return fromPointer(in.Cell, phase)
	case Transcript:
		return parseTranscript(in.Text, phase)
	case Raw:
		return fromRaw(in, phase)
	}
	return nil, game.Errorf(game.CodeValidation, "unsupported input %T", in)
}

func fromPointer(cell int, phase game.Phase) (Command, error) {
	if !game.ValidCell(cell) {
		return nil, game.Errorf(game.CodeValidation, "cell %d out of range", cell)
	}
	switch phase {
	case game.PhasePlacement:
		return Place{Cell: cell}, nil
	case game.PhaseBattle:
		return Fire{Cell: cell}, nil
	}
	return nil, game.Errorf(game.CodeValidation, "pointer input ignored during %s", phase)
}

func fromRaw(in Raw, phase game.Phase) (Command, error) {
	switch in.Kind {
	case KindAbort:
		return Abort{}, nil
	case KindReset:
		return Reset{}, nil
	case KindFire, KindPlace:
		cell, err := game.ParseCell(in.Cell)
		if err != nil {
			return nil, game.Wrap(game.CodeValidation, fmt.Sprintf("bad cell %q", in.Cell), err)
		}
		if in.Kind == KindFire {
			return Fire{Cell: cell}, nil
		}
		return Place{Cell: cell}, nil
	case "":
		cell, err := game.ParseCell(in.Cell)
		if err != nil {
			return nil, game.Wrap(game.CodeValidation, fmt.Sprintf("bad cell %q", in.Cell), err)
		}
		return fromPointer(cell, phase)
	}
	return nil, game.Errorf(game.CodeValidation, "unknown command kind %q", in.Kind)
}

var verbs = map[string]Kind{
	"fire":      KindFire,
	"shoot":     KindFire,
	"attack":    KindFire,
	"strike":    KindFire,
	"target":    KindFire,
	"place":     KindPlace,
	"deploy":    KindPlace,
	"put":       KindPlace,
	"hide":      KindPlace,
	"abort":     KindAbort,
	"quit":      KindAbort,
	"surrender": KindAbort,
	"cancel":    KindAbort,
	"reset":     KindReset,
	"retry":     KindReset,
	"reload":    KindReset,
}

var fillers = map[string]bool{
	"at": true, "on": true, "to": true, "the": true, "cell": true,
	"square": true, "unit": true, "my": true, "please": true, "in": true,
}

var numbers = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"won": "1", "too": "2", "for": "4", "tree": "3",
}

// fold makes transcripts comparable: full-width digits and letters from
// some recognisers become ASCII, case is folded.
func fold(s string) string {
	s = width.Fold.String(norm.NFKC.String(s))
	return cases.Fold().String(s)
}

func parseTranscript(text string, phase game.Phase) (Command, error) {
	words := strings.FieldsFunc(fold(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == '-'
	})
	var (
		kind  Kind
		coord strings.Builder
	)
	for _, w := range words {
		if k, ok := verbs[w]; ok && kind == "" {
			kind = k
			continue
		}
		if fillers[w] {
			continue
		}
		if n, ok := numbers[w]; ok {
			w = n
		}
		coord.WriteString(w)
	}
	switch kind {
	case KindAbort:
		return Abort{}, nil
	case KindReset:
		return Reset{}, nil
	}
	if coord.Len() == 0 {
		return nil, game.Errorf(game.CodeValidation, "no target in %q", text)
	}
	cell, err := game.ParseCell(coord.String())
	if err != nil {
		return nil, game.Wrap(game.CodeValidation, fmt.Sprintf("no target in %q", text), err)
	}
	switch kind {
	case KindFire:
		return Fire{Cell: cell}, nil
	case KindPlace:
		return Place{Cell: cell}, nil
	}
	return fromPointer(cell, phase)
}
