// Triviabox Board Game
//
// A Jeopardy-style trivia board. The server assembles a board of random
// categories from an upstream trivia api and pushes it to every browser
// connected to the same game, so one board can be shared across phones
// or projected on a TV.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes the host
// - Host starts and restarts the game; restarts rebuild the board from scratch
// - Any connected player may click a cell to reveal it
// - Cells reveal in order: dollar value, then question, then answer
// - Revealed answers stay revealed; further clicks do nothing
// - Board data fetched sequentially from a jservice-style trivia api
// - A category that fails to fetch leaves its column unavailable, the rest play on
// - Start requests are ignored while a fetch sequence is in flight
// - Players identified by cookie (playerID)
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Game phases as reported to clients.
const (
	phaseLobby   = "lobby"
	phaseLoading = "loading"
	phasePlaying = "playing"
	phaseFailed  = "failed"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`     // "start_game", "reveal"
	Category int    `json:"category"` // reveal: column index
	Clue     int    `json:"clue"`     // reveal: row index
}

// SessionInfoMessage is sent immediately on connect so the client knows
// what role this cookie has and what state the game is in.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	IsHost bool   `json:"is_host"`
	Phase  string `json:"phase"`
}

// PhaseMessage informs clients about lifecycle changes.
type PhaseMessage struct {
	Type  string `json:"type"` // "phase"
	Phase string `json:"phase"`
}

// CellState is what a client is allowed to see of one cell. Answers are
// only ever included once revealed.
type CellState struct {
	Visibility string `json:"visibility"` // "hidden", "question", "answer"
	Text       string `json:"text"`
}

// BoardMessage carries the whole visible board: one title and one cell
// column per category. Unavailable categories have an empty title and
// no cells.
type BoardMessage struct {
	Type   string        `json:"type"` // "board"
	Titles []string      `json:"titles"`
	Cells  [][]CellState `json:"cells"`
}

// CellMessage carries one updated cell after a reveal.
type CellMessage struct {
	Type     string    `json:"type"` // "cell"
	Category int       `json:"category"`
	Clue     int       `json:"clue"`
	Cell     CellState `json:"cell"`
}

// SimpleMessage is for generic notifications ("host_only", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type startRequest struct {
	client *Client
}

type revealRequest struct {
	client *Client
	ref    CellRef
}

type Hub struct {
	id      string
	trivia  categoryFetcher
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	starts   chan startRequest
	reveals  chan revealRequest
	boards   chan Board

	mu sync.RWMutex

	createdAt    time.Time
	lastActive   time.Time
	hostPlayerID string // cookie/playerID of the host

	phase string
	board Board
}

func newHub(gameID string, trivia categoryFetcher) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		trivia:     trivia,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		starts:     make(chan startRequest),
		reveals:    make(chan revealRequest),
		boards:     make(chan Board),
		createdAt:  now,
		lastActive: now,
		phase:      phaseLobby,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes the host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}

			h.clients[c] = true

			c.send <- SessionInfoMessage{
				Type:   "session_info",
				IsHost: h.hostPlayerID == c.playerID,
				Phase:  h.phase,
			}

			// Late joiners get the board as it currently stands.
			if h.board != nil {
				c.send <- h.boardMessageLocked()
			}

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case sr := <-h.starts:
			h.handleStart(cfg, sr)

		case rr := <-h.reveals:
			h.handleReveal(cfg, rr)

		case board := <-h.boards:
			h.finishLoading(cfg, board)
		}
	}
}

// handleStart begins a new fetch sequence, replacing any prior board.
// Starts are host-only, and ignored while a sequence is still in flight.
func (h *Hub) handleStart(cfg *Config, sr startRequest) {
	c := sr.client

	h.mu.Lock()

	h.lastActive = time.Now()

	if c.playerID == "" || c.playerID != h.hostPlayerID {
		select {
		case c.send <- SimpleMessage{
			Type:    "host_only",
			Message: "Only the host can start the game.",
		}:
		default:
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		return
	}

	if h.phase == phaseLoading {
		h.mu.Unlock()
		return
	}

	h.phase = phaseLoading
	h.board = nil
	h.broadcastLocked(PhaseMessage{
		Type:  "phase",
		Phase: phaseLoading,
	})

	h.mu.Unlock()

	logf(cfg, "GAMES: Loading board for %s", h.id)

	go func() {
		h.boards <- assembleBoard(context.Background(), h.trivia, cfg.categories, cfg.cluesPerCategory)
	}()
}

// finishLoading installs a freshly assembled board and moves the game
// to playing, or to failed when nothing could be fetched.
func (h *Hub) finishLoading(cfg *Config, board Board) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	h.board = board

	if board.allEmpty() {
		h.phase = phaseFailed
		logf(cfg, "GAMES: Board load failed for %s", h.id)
	} else {
		h.phase = phasePlaying
		logf(cfg, "GAMES: Board ready for %s", h.id)
	}

	h.broadcastLocked(PhaseMessage{
		Type:  "phase",
		Phase: h.phase,
	})
	h.broadcastLocked(h.boardMessageLocked())
}

// handleReveal advances one clue's visibility and broadcasts the
// changed cell. Reveals on fully revealed cells are no-ops.
func (h *Hub) handleReveal(cfg *Config, rr revealRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.phase != phasePlaying {
		return
	}

	clue, ok := h.board.ClueAt(rr.ref)
	if !ok {
		return
	}

	if clue.Visibility == AnswerShown {
		return
	}

	clue.Visibility = clue.Visibility.Advance()

	logf(cfg, "GAMES: Revealed %d/%d (%s) in %s", rr.ref.Category, rr.ref.Clue, clue.Visibility, h.id)

	h.broadcastLocked(CellMessage{
		Type:     "cell",
		Category: rr.ref.Category,
		Clue:     rr.ref.Clue,
		Cell:     cellState(rr.ref, *clue),
	})
}

// cellState projects a clue into what clients may see of it.
func cellState(ref CellRef, clue Clue) CellState {
	state := CellState{Visibility: clue.Visibility.String()}

	switch clue.Visibility {
	case Hidden:
		state.Text = "$" + strconv.Itoa((ref.Clue+1)*100)
	case QuestionShown:
		state.Text = clue.Question
	default:
		state.Text = clue.Answer
	}

	return state
}

// boardMessageLocked assumes h.mu is already held.
func (h *Hub) boardMessageLocked() BoardMessage {
	titles := make([]string, 0, len(h.board))
	cells := make([][]CellState, 0, len(h.board))

	for i, category := range h.board {
		titles = append(titles, category.Title)

		column := make([]CellState, 0, len(category.Clues))
		for j, clue := range category.Clues {
			column = append(column, cellState(CellRef{Category: i, Clue: j}, clue))
		}
		cells = append(cells, column)
	}

	return BoardMessage{
		Type:   "board",
		Titles: titles,
		Cells:  cells,
	}
}

// broadcastLocked assumes h.mu is already held.
func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "triviabox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session. All hubs share one trivia client, and
// with it the category cache.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	trivia      categoryFetcher
}

func newGameManager(idleTimeout time.Duration, trivia categoryFetcher) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		trivia:      trivia,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.trivia)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start_game":
			h.starts <- startRequest{
				client: c,
			}
		case "reveal":
			h.reveals <- revealRequest{
				client: c,
				ref: CellRef{
					Category: msg.Category,
					Clue:     msg.Clue,
				},
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed trivia/index.html
var indexHTML []byte

//go:embed trivia/app.css
var triviaboxCSS []byte

//go:embed trivia/app.js
var triviaboxJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaboxCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaboxJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router) error {
	trivia, err := newTriviaClient(cfg)
	if err != nil {
		return err
	}

	gm := newGameManager(cfg.sessionTimeout, trivia)

	// Root path → redirect to new random game
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/trivia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return nil
}
