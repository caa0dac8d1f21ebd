package bot

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/chesshub/chessd/internal/oracle"
)

const mateScore = 10000

// heuristicEngine is the default Engine: one-ply material lookahead with
// no opening book or search tree. difficulty controls how wide a pool of
// "good enough" moves it's willing to pick from instead of always taking
// the single best one it found.
type heuristicEngine struct {
	orc oracle.Oracle
}

func newHeuristicEngine(orc oracle.Oracle) Engine {
	return &heuristicEngine{orc: orc}
}

type scoredMove struct {
	mv    oracle.Move
	score int
}

// FindBestMove scores every legal move by the material balance (from the
// mover's own perspective) one ply after playing it, favoring
// checkmate above all, then samples from the top slice of that ranking
// sized by difficulty.
func (e *heuristicEngine) FindBestMove(ctx context.Context, pos oracle.Position, difficulty int, budgetMs int) (oracle.Move, bool) {
	moves := e.orc.AllLegalMoves(pos)
	if len(moves) == 0 {
		return oracle.Move{}, false
	}

	side := e.orc.Turn(pos)
	scored := make([]scoredMove, 0, len(moves))
	for _, mv := range moves {
		res, err := e.orc.ApplyMove(pos, mv)
		if err != nil {
			continue
		}
		scored = append(scored, scoredMove{mv: mv, score: e.score(res, side)})
	}
	if len(scored) == 0 {
		return oracle.Move{}, false
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	pool := poolSize(len(scored), difficulty)
	pick := scored[rand.IntN(pool)]
	return pick.mv, true
}

// score rates a resulting position from side's perspective: a checkmate
// delivered by side outranks everything, a self-inflicted checkmate
// outranks nothing, and otherwise it's the material balance flipped to
// side's point of view.
func (e *heuristicEngine) score(res oracle.Result, side oracle.Color) int {
	if res.Outcome.Checkmate {
		if res.Outcome.WinnerColor == side {
			return mateScore
		}
		return -mateScore
	}

	material := e.orc.MaterialScore(res.Position)
	if side == oracle.Black {
		material = -material
	}
	return material
}

// poolSize narrows the candidate pool as difficulty rises: the weakest
// supported difficulty samples from every ranked move, the strongest
// picks only among the top few.
func poolSize(total, difficulty int) int {
	switch {
	case difficulty >= 4:
		if total > 2 {
			return 2
		}
	case difficulty == 3:
		half := (total + 1) / 2
		if half > 0 {
			return half
		}
	}
	if total < 1 {
		return 1
	}
	return total
}

// Dispose releases no resources; the heuristic engine holds none.
func (e *heuristicEngine) Dispose() {}
