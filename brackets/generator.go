package brackets

import (
	"context"

	"github.com/Dosada05/tournament-engine/models"
)

type GenerateBracketParams struct {
	Tournament *models.Tournament
	// Standings содержат посев каждой зарегистрированной команды.
	Standings []*models.TournamentStanding
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error)

	GetName() string
}
