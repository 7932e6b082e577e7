package main

import (
	"context"

	"github.com/valyala/fastrand"
)

// Visibility is the reveal state of a single clue. It only ever moves
// forward: Hidden → QuestionShown → AnswerShown, terminal at AnswerShown.
type Visibility int

const (
	Hidden Visibility = iota
	QuestionShown
	AnswerShown
)

// Advance returns the next visibility state. Calling it at AnswerShown
// returns AnswerShown again.
func (v Visibility) Advance() Visibility {
	switch v {
	case Hidden:
		return QuestionShown
	case QuestionShown:
		return AnswerShown
	default:
		return AnswerShown
	}
}

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case QuestionShown:
		return "question"
	default:
		return "answer"
	}
}

// Clue is one board cell: a question/answer pair plus its reveal state.
type Clue struct {
	Question   string
	Answer     string
	Visibility Visibility
}

// Category is one board column. A Category whose fetch failed keeps its
// slot with no clues, so board geometry stays stable.
type Category struct {
	Title string
	Clues []Clue
}

func (c Category) empty() bool {
	return len(c.Clues) == 0
}

// Board is the full game state for one session, ordered by column.
type Board []Category

func (b Board) allEmpty() bool {
	for _, category := range b {
		if !category.empty() {
			return false
		}
	}
	return true
}

// CellRef addresses one cell by column and row index.
type CellRef struct {
	Category int `json:"category"`
	Clue     int `json:"clue"`
}

// ClueAt resolves a cell reference to its clue, or false when the
// reference is out of range or points into an empty column.
func (b Board) ClueAt(ref CellRef) (*Clue, bool) {
	if ref.Category < 0 || ref.Category >= len(b) {
		return nil, false
	}
	if ref.Clue < 0 || ref.Clue >= len(b[ref.Category].Clues) {
		return nil, false
	}
	return &b[ref.Category].Clues[ref.Clue], true
}

// sampleClues draws n distinct clues from the pool uniformly at random,
// via a partial Fisher-Yates over an index slice. When the pool is
// smaller than n, the whole pool is returned. All sampled clues start
// hidden.
func sampleClues(pool []triviaClue, n int) []Clue {
	if n > len(pool) {
		n = len(pool)
	}

	idx := make([]int, len(pool))
	for i := range idx {
		idx[i] = i
	}

	clues := make([]Clue, 0, n)
	for i := 0; i < n; i++ {
		j := i + int(fastrand.Uint32n(uint32(len(idx)-i)))
		idx[i], idx[j] = idx[j], idx[i]

		src := pool[idx[i]]
		clues = append(clues, Clue{
			Question: src.Question,
			Answer:   src.Answer,
		})
	}

	return clues
}

// assembleBoard fetches category ids and then each category in turn,
// one request at a time, sampling cluesPer clues per column. A failed
// fetch leaves an empty slot and the sequence continues; the board
// always comes back with exactly count columns.
func assembleBoard(ctx context.Context, fetcher categoryFetcher, count, cluesPer int) Board {
	ids := fetcher.FetchCategoryIDs(ctx, count)

	board := make(Board, 0, count)
	for _, id := range ids {
		category, ok := fetcher.FetchCategory(ctx, id)
		if !ok {
			board = append(board, Category{})
			continue
		}

		board = append(board, Category{
			Title: category.Title,
			Clues: sampleClues(category.Clues, cluesPer),
		})
	}

	for len(board) < count {
		board = append(board, Category{})
	}

	return board
}
