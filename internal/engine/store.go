package engine

import (
	"context"

	"github.com/playbeaver/encounter/internal/encounter"
)

// Store is the persistence gateway the engine mutates game state through.
// Game loads the full aggregate (teams, rosters, tasks, current and past
// progress records) as one connected object graph; the Save methods persist
// individual records from that graph, assigning IDs on first save.
//
// The engine never opens nested transactions: InTx hands the callback a
// transaction-bound Store and commits on nil, rolls back on error.
type Store interface {
	Game(ctx context.Context, id int64) (*encounter.Game, error)
	GameStates(ctx context.Context) (map[int64]encounter.GameState, error)

	SaveGame(ctx context.Context, g *encounter.Game) error
	SaveTeam(ctx context.Context, t *encounter.Team) error
	SaveTeamGameState(ctx context.Context, s *encounter.TeamGameState) error
	SaveTeamTaskState(ctx context.Context, s *encounter.TeamTaskState) error
	SaveAcceptedTip(ctx context.Context, a *encounter.AcceptedTip) error
	SaveAcceptedCode(ctx context.Context, a *encounter.AcceptedCode) error
	SaveAcceptedBadCode(ctx context.Context, a *encounter.AcceptedBadCode) error

	InTx(ctx context.Context, fn func(Store) error) error
}
