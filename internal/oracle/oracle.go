// Package oracle is the narrow boundary between the game service and full
// chess rules validation. Callers only ever see Position strings (FEN),
// Move values, and Outcome flags - never the underlying rules engine's own
// types - so the engine could be swapped without touching internal/game.
package oracle

import (
	"fmt"

	"github.com/notnil/chess"
)

// Color identifies a side to move.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Position is an opaque serialized chess position (a FEN string).
type Position string

// InitialPosition is the canonical starting position.
const InitialPosition Position = Position(chess.StartingPosition().String())

// Move is a proposed or applied move.
type Move struct {
	From      string
	To        string
	Promotion string // optional, one of "q","r","b","n"
}

// Outcome describes the terminal state reached after a move, if any.
type Outcome struct {
	Terminal             bool
	Checkmate            bool
	Stalemate            bool
	InsufficientMaterial bool
	FiftyMoveRule        bool
	ThreefoldRepetition  bool
	WinnerColor          Color // valid only when Checkmate
}

// IsDraw reports whether a terminal Outcome is a draw rather than a win.
func (o Outcome) IsDraw() bool {
	return o.Terminal && !o.Checkmate
}

// Result is the outcome of a successful move application.
type Result struct {
	Position Position
	SAN      string
	Turn     Color
	Outcome  Outcome
}

// Oracle validates and applies chess moves and answers legality queries.
// All methods are pure functions of the supplied position; the oracle
// itself holds no per-game state.
type Oracle interface {
	// ApplyMove validates mv against pos and, if legal, returns the
	// resulting Result. Returns an error if the move is illegal.
	ApplyMove(pos Position, mv Move) (Result, error)
	// LegalDestinations returns the squares the piece on `square` may
	// legally move to for the side to move in pos. Returns an empty
	// slice if the square is empty, holds the wrong color's piece, or
	// pos is terminal.
	LegalDestinations(pos Position, square string) []string
	// Turn returns the side to move for pos.
	Turn(pos Position) Color
	// AllLegalMoves enumerates every legal move for the side to move in
	// pos. Used by the bot controller's heuristic engine instead of
	// reaching into the underlying chess library directly.
	AllLegalMoves(pos Position) []Move
	// MaterialScore returns a simple material count from White's
	// perspective (positive favors White, negative favors Black).
	MaterialScore(pos Position) int
}

type notnilOracle struct{}

// New returns the default Oracle implementation.
func New() Oracle {
	return notnilOracle{}
}

func gameFromPosition(pos Position) (*chess.Game, error) {
	fen, err := chess.FEN(string(pos))
	if err != nil {
		return nil, fmt.Errorf("oracle: invalid position: %w", err)
	}
	return chess.NewGame(fen), nil
}

func colorOf(c chess.Color) Color {
	if c == chess.White {
		return White
	}
	return Black
}

func (notnilOracle) Turn(pos Position) Color {
	g, err := gameFromPosition(pos)
	if err != nil {
		return White
	}
	return colorOf(g.Position().Turn())
}

func (notnilOracle) ApplyMove(pos Position, mv Move) (Result, error) {
	g, err := gameFromPosition(pos)
	if err != nil {
		return Result{}, err
	}

	uci := mv.From + mv.To + mv.Promotion
	move, err := chess.UCINotation{}.Decode(g.Position(), uci)
	if err != nil {
		return Result{}, fmt.Errorf("illegal move %s->%s: %w", mv.From, mv.To, err)
	}

	san := chess.AlgebraicNotation{}.Encode(g.Position(), move)

	if err := g.Move(move); err != nil {
		return Result{}, fmt.Errorf("illegal move %s->%s: %w", mv.From, mv.To, err)
	}

	outcome := outcomeFromGame(g)

	return Result{
		Position: Position(g.Position().String()),
		SAN:      san,
		Turn:     colorOf(g.Position().Turn()),
		Outcome:  outcome,
	}, nil
}

func outcomeFromGame(g *chess.Game) Outcome {
	method := g.Method()
	if method == chess.NoMethod {
		return Outcome{}
	}

	out := Outcome{Terminal: true}
	switch method {
	case chess.Checkmate:
		out.Checkmate = true
		if g.Outcome() == chess.WhiteWon {
			out.WinnerColor = White
		} else {
			out.WinnerColor = Black
		}
	case chess.Stalemate:
		out.Stalemate = true
	case chess.InsufficientMaterial:
		out.InsufficientMaterial = true
	case chess.FiftyMoveRule:
		out.FiftyMoveRule = true
	case chess.ThreefoldRepetition:
		out.ThreefoldRepetition = true
	default:
		// Resignation/DrawOffer are not reached through move application;
		// the game service drives those transitions directly.
		out.Terminal = false
	}
	return out
}

func (notnilOracle) LegalDestinations(pos Position, square string) []string {
	g, err := gameFromPosition(pos)
	if err != nil {
		return nil
	}

	sq, ok := parseSquare(square)
	if !ok {
		return nil
	}

	var dests []string
	for _, m := range g.ValidMoves() {
		if m.S1() == sq {
			dests = append(dests, m.S2().String())
		}
	}
	return dests
}

func (notnilOracle) AllLegalMoves(pos Position) []Move {
	g, err := gameFromPosition(pos)
	if err != nil {
		return nil
	}

	valid := g.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, m := range valid {
		out = append(out, Move{From: m.S1().String(), To: m.S2().String(), Promotion: promoLetter(m.Promo())})
	}
	return out
}

func promoLetter(pt chess.PieceType) string {
	switch pt {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	default:
		return ""
	}
}

func (notnilOracle) MaterialScore(pos Position) int {
	g, err := gameFromPosition(pos)
	if err != nil {
		return 0
	}

	score := 0
	for _, p := range g.Position().Board().SquareMap() {
		v := pieceValue(p.Type())
		if p.Color() == chess.White {
			score += v
		} else {
			score -= v
		}
	}
	return score
}

func pieceValue(pt chess.PieceType) int {
	switch pt {
	case chess.Pawn:
		return 1
	case chess.Knight, chess.Bishop:
		return 3
	case chess.Rook:
		return 5
	case chess.Queen:
		return 9
	default:
		return 0
	}
}

func parseSquare(s string) (chess.Square, bool) {
	if len(s) != 2 {
		return 0, false
	}
	for sq := chess.A1; sq <= chess.H8; sq++ {
		if sq.String() == s {
			return sq, true
		}
	}
	return 0, false
}
