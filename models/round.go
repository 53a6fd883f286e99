package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRound = errors.New("invalid round identifier")

// RoundKind различает ветки сетки double elimination.
type RoundKind int

const (
	RoundUpper RoundKind = iota + 1
	RoundLower
	RoundGrandFinal
	RoundGrandFinalReset
)

// UpperStage is the stage of a winner-bracket round.
type UpperStage string

const (
	StageQuarter UpperStage = "quarter"
	StageSemi    UpperStage = "semi"
	StageFinal   UpperStage = "final"
)

// MatchesInStage returns how many matches an upper stage contains.
func (s UpperStage) MatchesInStage() int {
	switch s {
	case StageQuarter:
		return 4
	case StageSemi:
		return 2
	case StageFinal:
		return 1
	default:
		return 0
	}
}

// StageForMatchCount is the inverse of MatchesInStage.
func StageForMatchCount(n int) (UpperStage, bool) {
	switch n {
	case 4:
		return StageQuarter, true
	case 2:
		return StageSemi, true
	case 1:
		return StageFinal, true
	default:
		return "", false
	}
}

// Round identifies a single bracket match position, e.g. upper-semi-2.
// Only the fields relevant to Kind are set; use the constructors.
type Round struct {
	Kind       RoundKind
	Stage      UpperStage
	LowerRound int
	Index      int
}

func UpperRound(stage UpperStage, index int) Round {
	return Round{Kind: RoundUpper, Stage: stage, Index: index}
}

func LowerRound(round, index int) Round {
	return Round{Kind: RoundLower, LowerRound: round, Index: index}
}

func GrandFinal() Round {
	return Round{Kind: RoundGrandFinal}
}

func GrandFinalReset() Round {
	return Round{Kind: RoundGrandFinalReset}
}

func (r Round) IsZero() bool {
	return r.Kind == 0
}

func (r Round) IsUpper() bool { return r.Kind == RoundUpper }
func (r Round) IsLower() bool { return r.Kind == RoundLower }

const (
	tokenGrandFinal      = "grand-final"
	tokenGrandFinalReset = "grand-final-reset"
	tokenUpperPrefix     = "upper-"
	tokenLowerPrefix     = "lower-round"
)

// String returns the storage token.
func (r Round) String() string {
	switch r.Kind {
	case RoundUpper:
		return fmt.Sprintf("%s%s-%d", tokenUpperPrefix, r.Stage, r.Index)
	case RoundLower:
		return fmt.Sprintf("%s%d-%d", tokenLowerPrefix, r.LowerRound, r.Index)
	case RoundGrandFinal:
		return tokenGrandFinal
	case RoundGrandFinalReset:
		return tokenGrandFinalReset
	default:
		return ""
	}
}

// ParseRound parses a storage token. Anything that is not one of the known
// shapes is rejected with ErrInvalidRound.
func ParseRound(token string) (Round, error) {
	switch {
	case token == tokenGrandFinal:
		return GrandFinal(), nil
	case token == tokenGrandFinalReset:
		return GrandFinalReset(), nil
	case strings.HasPrefix(token, tokenLowerPrefix):
		rest := strings.TrimPrefix(token, tokenLowerPrefix)
		roundStr, indexStr, ok := strings.Cut(rest, "-")
		if !ok {
			return Round{}, fmt.Errorf("%w: %q", ErrInvalidRound, token)
		}
		round, err := parsePositive(roundStr)
		if err != nil {
			return Round{}, fmt.Errorf("%w: %q: lower round number: %v", ErrInvalidRound, token, err)
		}
		index, err := parsePositive(indexStr)
		if err != nil {
			return Round{}, fmt.Errorf("%w: %q: match index: %v", ErrInvalidRound, token, err)
		}
		return LowerRound(round, index), nil
	case strings.HasPrefix(token, tokenUpperPrefix):
		rest := strings.TrimPrefix(token, tokenUpperPrefix)
		stageStr, indexStr, ok := strings.Cut(rest, "-")
		if !ok {
			return Round{}, fmt.Errorf("%w: %q", ErrInvalidRound, token)
		}
		stage := UpperStage(stageStr)
		if stage.MatchesInStage() == 0 {
			return Round{}, fmt.Errorf("%w: %q: unknown stage %q", ErrInvalidRound, token, stageStr)
		}
		index, err := parsePositive(indexStr)
		if err != nil {
			return Round{}, fmt.Errorf("%w: %q: match index: %v", ErrInvalidRound, token, err)
		}
		if index > stage.MatchesInStage() {
			return Round{}, fmt.Errorf("%w: %q: stage %s has only %d matches", ErrInvalidRound, token, stage, stage.MatchesInStage())
		}
		return UpperRound(stage, index), nil
	default:
		return Round{}, fmt.Errorf("%w: %q", ErrInvalidRound, token)
	}
}

func parsePositive(s string) (int, error) {
	// strconv.Atoi принимает "+1" и "01", нам нужны только канонические токены
	if s == "" || s[0] == '+' || (len(s) > 1 && s[0] == '0') {
		return 0, fmt.Errorf("not a canonical number: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func (r Round) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("%w: empty round", ErrInvalidRound)
	}
	return []byte(r.String()), nil
}

func (r *Round) UnmarshalText(text []byte) error {
	parsed, err := ParseRound(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer so rounds are stored as tokens.
func (r Round) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("%w: empty round", ErrInvalidRound)
	}
	return r.String(), nil
}

// Scan implements sql.Scanner. An unknown token in storage is an error.
func (r *Round) Scan(src interface{}) error {
	var token string
	switch v := src.(type) {
	case string:
		token = v
	case []byte:
		token = string(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidRound, src)
	}
	parsed, err := ParseRound(token)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
