package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ModeKind tags a MatchMode variant.
type ModeKind string

// Mode kinds.
const (
	ModeSolo   ModeKind = "solo"
	ModeDuo    ModeKind = "duo"
	ModeSquad  ModeKind = "squad"
	ModeCustom ModeKind = "custom"
)

// MaxTeamSize bounds custom NvN modes.
const MaxTeamSize = 8

// ErrInvalidMode is returned when a mode descriptor cannot be resolved.
var ErrInvalidMode = errors.New("invalid match mode")

// MatchMode is resolved once when a match is created and never re-parsed.
type MatchMode struct {
	kind    ModeKind
	players int
}

// Solo returns the one-player mode.
func Solo() MatchMode { return MatchMode{kind: ModeSolo, players: 1} }

// Duo returns the two-player mode.
func Duo() MatchMode { return MatchMode{kind: ModeDuo, players: 2} }

// Squad returns the four-player mode.
func Squad() MatchMode { return MatchMode{kind: ModeSquad, players: 4} }

// Custom returns an NvN mode with n players per team.
func Custom(n int) (MatchMode, error) {
	if n < 1 || n > MaxTeamSize {
		return MatchMode{}, fmt.Errorf("%w: team size %d out of range 1..%d", ErrInvalidMode, n, MaxTeamSize)
	}
	return MatchMode{kind: ModeCustom, players: n}, nil
}

// NewMatchMode rebuilds a mode from its stored kind and size.
func NewMatchMode(kind ModeKind, players int) (MatchMode, error) {
	switch kind {
	case ModeSolo:
		return Solo(), nil
	case ModeDuo:
		return Duo(), nil
	case ModeSquad:
		return Squad(), nil
	case ModeCustom:
		return Custom(players)
	}
	return MatchMode{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMode, kind)
}

// ParseMode resolves a descriptor such as "solo", "Squad" or "4v4".
func ParseMode(s string) (MatchMode, error) {
	d := strings.ToLower(strings.TrimSpace(s))
	switch d {
	case string(ModeSolo):
		return Solo(), nil
	case string(ModeDuo):
		return Duo(), nil
	case string(ModeSquad):
		return Squad(), nil
	}

	left, right, ok := strings.Cut(d, "v")
	if !ok {
		return MatchMode{}, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	a, errA := strconv.Atoi(left)
	b, errB := strconv.Atoi(right)
	if errA != nil || errB != nil || a != b {
		return MatchMode{}, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return Custom(a)
}

// Kind returns the variant tag.
func (m MatchMode) Kind() ModeKind { return m.kind }

// RequiredPlayers returns the roster size every entry must have.
func (m MatchMode) RequiredPlayers() int { return m.players }

// IsTeam reports whether entries carry more than one player.
func (m MatchMode) IsTeam() bool { return m.players > 1 }

// IsZero reports whether m was never resolved.
func (m MatchMode) IsZero() bool { return m.kind == "" }

// String returns the canonical descriptor.
func (m MatchMode) String() string {
	if m.kind == ModeCustom {
		return fmt.Sprintf("%dv%d", m.players, m.players)
	}
	return string(m.kind)
}

// MarshalJSON encodes the canonical descriptor.
func (m MatchMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON resolves a descriptor.
func (m *MatchMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
