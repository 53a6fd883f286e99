package services

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок. HTTP-слой маппит только их через errors.Is,
// конкретные ошибки ниже оборачивают одну из категорий.
var (
	ErrNotFound             = errors.New("requested resource not found")
	ErrValidationFailed     = errors.New("validation failed")
	ErrConflict             = errors.New("operation conflicts with the current state")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current caller")
	ErrUpstream             = errors.New("upstream service failed")
)

// Не найдено
var (
	ErrMatchNotFound      = fmt.Errorf("%w: match not found", ErrNotFound)
	ErrTeamNotFound       = fmt.Errorf("%w: team not found", ErrNotFound)
	ErrTournamentNotFound = fmt.Errorf("%w: tournament not found", ErrNotFound)
)

// Валидация
var (
	ErrTieNotAllowed       = fmt.Errorf("%w: scores must differ", ErrValidationFailed)
	ErrInvalidScore        = fmt.Errorf("%w: scores must not be negative", ErrValidationFailed)
	ErrInvalidRestoreRound = fmt.Errorf("%w: restore round must not be negative", ErrValidationFailed)
	ErrInvalidVeto         = fmt.Errorf("%w: invalid veto", ErrValidationFailed)
	ErrTeamNameRequired    = fmt.Errorf("%w: team name is required", ErrValidationFailed)
	ErrTournamentInvalid   = fmt.Errorf("%w: invalid tournament", ErrValidationFailed)
	ErrInvalidTeamCount    = fmt.Errorf("%w: a bracket needs between 3 and 8 teams", ErrValidationFailed)
	ErrInvalidServerID     = fmt.Errorf("%w: invalid game server id", ErrValidationFailed)
	ErrMatchIDMismatch     = fmt.Errorf("%w: event match id does not match the request path", ErrValidationFailed)
	ErrInvalidEvent        = fmt.Errorf("%w: invalid live event", ErrValidationFailed)
	ErrUnknownEventKind    = fmt.Errorf("%w: unknown event kind", ErrInvalidEvent)
)

// Конфликт состояний
var (
	ErrMatchAlreadyFinished   = fmt.Errorf("%w: match is already finished", ErrConflict)
	ErrMatchCancelled         = fmt.Errorf("%w: match is cancelled", ErrConflict)
	ErrMatchNotReady          = fmt.Errorf("%w: match teams are not decided yet", ErrConflict)
	ErrMatchAlreadyLive       = fmt.Errorf("%w: match is already live", ErrConflict)
	ErrMatchNotLive           = fmt.Errorf("%w: match is not live", ErrConflict)
	ErrMatchNotPaused         = fmt.Errorf("%w: match is not paused", ErrConflict)
	ErrMatchNotActive         = fmt.Errorf("%w: match is not accepting live events", ErrConflict)
	ErrLivePhaseTransition    = fmt.Errorf("%w: live phase transition not allowed", ErrConflict)
	ErrVetoLocked             = fmt.Errorf("%w: veto can no longer be changed", ErrConflict)
	ErrVetoIncomplete         = fmt.Errorf("%w: veto is not complete", ErrConflict)
	ErrNoServerAssigned       = fmt.Errorf("%w: no game server assigned to the match", ErrConflict)
	ErrTeamNameConflict       = fmt.Errorf("%w: team name is already in use", ErrConflict)
	ErrTournamentNameConflict = fmt.Errorf("%w: tournament name already exists", ErrConflict)
	ErrBracketFault           = fmt.Errorf("%w: bracket is inconsistent", ErrConflict)
)

// Внешние системы
var (
	ErrGameServerCommand = fmt.Errorf("%w: game server command failed", ErrUpstream)
)
