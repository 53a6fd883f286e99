package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

// handleRepositoryError - общий хелпер: переводит ошибки репозитория в
// ошибки сервисного слоя, остальное оборачивает с описанием операции.
func handleRepositoryError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrTeamNotFound):
		return ErrTeamNotFound
	case errors.Is(err, repositories.ErrTeamNameConflict):
		return ErrTeamNameConflict
	case errors.Is(err, repositories.ErrTournamentNameConflict):
		return ErrTournamentNameConflict
	case errors.Is(err, repositories.ErrSlotOccupied):
		return fmt.Errorf("%w: %v", ErrBracketFault, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func matchTeamIDs(m *models.Match) []int {
	ids := make([]int, 0, 2)
	if m.Team1.TeamID != nil {
		ids = append(ids, *m.Team1.TeamID)
	}
	if m.Team2.TeamID != nil {
		ids = append(ids, *m.Team2.TeamID)
	}
	return ids
}
