package main

import (
	"testing"
	"time"
)

func testClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 64),
		playerID: playerID,
	}
}

// drain returns all messages buffered on the client's send channel.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func playingHub(fetcher categoryFetcher, board Board) (*Hub, *Client) {
	hub := newHub("testgame", fetcher)
	host := testClient("host")

	hub.hostPlayerID = host.playerID
	hub.clients[host] = true
	hub.phase = phasePlaying
	hub.board = board

	return hub, host
}

func TestCellStateText(t *testing.T) {
	t.Parallel()

	clue := Clue{Question: "the question", Answer: "the answer"}

	hidden := cellState(CellRef{Category: 0, Clue: 0}, clue)
	if hidden.Visibility != "hidden" || hidden.Text != "$100" {
		t.Errorf("expected hidden $100 cell, got %+v", hidden)
	}

	hidden = cellState(CellRef{Category: 3, Clue: 4}, clue)
	if hidden.Text != "$500" {
		t.Errorf("expected $500 for the bottom row, got %q", hidden.Text)
	}

	clue.Visibility = QuestionShown
	question := cellState(CellRef{}, clue)
	if question.Visibility != "question" || question.Text != "the question" {
		t.Errorf("expected question cell, got %+v", question)
	}

	clue.Visibility = AnswerShown
	answer := cellState(CellRef{}, clue)
	if answer.Visibility != "answer" || answer.Text != "the answer" {
		t.Errorf("expected answer cell, got %+v", answer)
	}
}

func TestRevealAdvancesThenStops(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	board := Board{
		{Title: "one", Clues: []Clue{{Question: "q", Answer: "a"}}},
	}
	hub, host := playingHub(nil, board)

	ref := CellRef{Category: 0, Clue: 0}

	// First activation shows the question.
	hub.handleReveal(cfg, revealRequest{client: host, ref: ref})
	if board[0].Clues[0].Visibility != QuestionShown {
		t.Fatalf("expected question shown, got %s", board[0].Clues[0].Visibility)
	}

	msgs := drain(host)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(msgs))
	}
	cell, ok := msgs[0].(CellMessage)
	if !ok {
		t.Fatalf("expected CellMessage, got %T", msgs[0])
	}
	if cell.Cell.Text != "q" {
		t.Errorf("expected question text, got %q", cell.Cell.Text)
	}

	// Second activation shows the answer.
	hub.handleReveal(cfg, revealRequest{client: host, ref: ref})
	if board[0].Clues[0].Visibility != AnswerShown {
		t.Fatalf("expected answer shown, got %s", board[0].Clues[0].Visibility)
	}

	msgs = drain(host)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(msgs))
	}
	if cell := msgs[0].(CellMessage); cell.Cell.Text != "a" {
		t.Errorf("expected answer text, got %q", cell.Cell.Text)
	}

	// Third activation is a no-op: no change, no broadcast.
	hub.handleReveal(cfg, revealRequest{client: host, ref: ref})
	if board[0].Clues[0].Visibility != AnswerShown {
		t.Fatalf("expected answer to stay shown, got %s", board[0].Clues[0].Visibility)
	}
	if msgs := drain(host); len(msgs) != 0 {
		t.Errorf("expected no broadcast for a terminal cell, got %d", len(msgs))
	}
}

func TestRevealOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	board := Board{
		{Title: "one", Clues: []Clue{{Question: "q", Answer: "a"}}},
		{},
	}
	hub, host := playingHub(nil, board)

	for _, ref := range []CellRef{
		{Category: 5, Clue: 0},
		{Category: 0, Clue: 5},
		{Category: 1, Clue: 0},
		{Category: -1, Clue: -1},
	} {
		hub.handleReveal(cfg, revealRequest{client: host, ref: ref})
	}

	if board[0].Clues[0].Visibility != Hidden {
		t.Error("expected out-of-range reveals to leave the board untouched")
	}
	if msgs := drain(host); len(msgs) != 0 {
		t.Errorf("expected no broadcasts, got %d", len(msgs))
	}
}

func TestRevealOnlyWhilePlaying(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	board := Board{
		{Title: "one", Clues: []Clue{{Question: "q", Answer: "a"}}},
	}
	hub, host := playingHub(nil, board)
	hub.phase = phaseLoading

	hub.handleReveal(cfg, revealRequest{client: host, ref: CellRef{}})

	if board[0].Clues[0].Visibility != Hidden {
		t.Error("expected reveal to be ignored outside the playing phase")
	}
}

func TestStartIgnoredWhileLoading(t *testing.T) {
	t.Parallel()

	cfg := &Config{categories: 6, cluesPerCategory: 5}
	fetcher := newFakeFetcher([]int{1, 2, 3, 4, 5, 6}, 10)
	hub, host := playingHub(fetcher, nil)
	hub.phase = phaseLoading

	hub.handleStart(cfg, startRequest{client: host})

	if hub.phase != phaseLoading {
		t.Errorf("expected phase to stay loading, got %s", hub.phase)
	}
	if len(fetcher.fetched) != 0 {
		t.Error("expected no fetch sequence to be launched")
	}
	if msgs := drain(host); len(msgs) != 0 {
		t.Errorf("expected no broadcasts, got %d", len(msgs))
	}
}

func TestStartHostOnly(t *testing.T) {
	t.Parallel()

	cfg := &Config{categories: 6, cluesPerCategory: 5}
	hub, _ := playingHub(&fakeFetcher{}, nil)
	hub.phase = phaseLobby

	guest := testClient("guest")
	hub.clients[guest] = true

	hub.handleStart(cfg, startRequest{client: guest})

	if hub.phase != phaseLobby {
		t.Errorf("expected phase to stay lobby, got %s", hub.phase)
	}

	msgs := drain(guest)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if simple, ok := msgs[0].(SimpleMessage); !ok || simple.Type != "host_only" {
		t.Errorf("expected host_only message, got %+v", msgs[0])
	}
}

func TestRestartRebuildsBoard(t *testing.T) {
	t.Parallel()

	cfg := &Config{categories: 6, cluesPerCategory: 5}
	fetcher := newFakeFetcher([]int{1, 2, 3, 4, 5, 6}, 10)

	revealed := Board{
		{Title: "old", Clues: []Clue{{Question: "q", Answer: "a", Visibility: AnswerShown}}},
	}
	hub, host := playingHub(fetcher, revealed)

	hub.handleStart(cfg, startRequest{client: host})

	if hub.phase != phaseLoading {
		t.Fatalf("expected loading phase, got %s", hub.phase)
	}

	select {
	case board := <-hub.boards:
		hub.finishLoading(cfg, board)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for board assembly")
	}

	if hub.phase != phasePlaying {
		t.Fatalf("expected playing phase, got %s", hub.phase)
	}
	if len(hub.board) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(hub.board))
	}

	// No visibility carry-over from the previous game.
	for i, category := range hub.board {
		for j, clue := range category.Clues {
			if clue.Visibility != Hidden {
				t.Errorf("clue %d/%d: expected hidden after restart, got %s", i, j, clue.Visibility)
			}
		}
	}
}

func TestFinishLoadingFailure(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	hub, host := playingHub(nil, nil)
	hub.phase = phaseLoading

	hub.finishLoading(cfg, Board{{}, {}, {}, {}, {}, {}})

	if hub.phase != phaseFailed {
		t.Errorf("expected failed phase for an empty board, got %s", hub.phase)
	}

	var sawPhase bool
	for _, msg := range drain(host) {
		if phase, ok := msg.(PhaseMessage); ok && phase.Phase == phaseFailed {
			sawPhase = true
		}
	}
	if !sawPhase {
		t.Error("expected clients to be told the load failed")
	}
}

func TestBoardMessageHidesAnswers(t *testing.T) {
	t.Parallel()

	board := Board{
		{Title: "one", Clues: []Clue{
			{Question: "q1", Answer: "a1"},
			{Question: "q2", Answer: "a2", Visibility: QuestionShown},
		}},
		{},
	}
	hub, _ := playingHub(nil, board)

	msg := hub.boardMessageLocked()

	if len(msg.Titles) != 2 || len(msg.Cells) != 2 {
		t.Fatalf("expected 2 columns, got %d titles and %d columns", len(msg.Titles), len(msg.Cells))
	}

	if msg.Cells[0][0].Text != "$100" {
		t.Errorf("expected hidden cell to carry its dollar value, got %q", msg.Cells[0][0].Text)
	}
	if msg.Cells[0][1].Text != "q2" {
		t.Errorf("expected revealed cell to carry its question, got %q", msg.Cells[0][1].Text)
	}

	for _, column := range msg.Cells {
		for _, cell := range column {
			if cell.Text == "a1" || cell.Text == "a2" {
				t.Errorf("unrevealed answer leaked into board message: %+v", cell)
			}
		}
	}

	if len(msg.Cells[1]) != 0 {
		t.Errorf("expected unavailable column to have no cells, got %d", len(msg.Cells[1]))
	}
}

func TestNewGameID(t *testing.T) {
	t.Parallel()

	gm := newGameManager(0, &fakeFetcher{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gm.newGameID()
		if len(id) != 8 {
			t.Fatalf("expected 8-char game id, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate game id %q", id)
		}
		seen[id] = true
	}
}
