package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// randomBatchSize is how many random clues we request when looking for
// category ids. Oversized on purpose: the batch is de-duplicated by
// category before truncation.
const randomBatchSize = 100

// triviaClue is one question/answer record as served by the upstream api.
type triviaClue struct {
	ID         int    `json:"id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	CategoryID int    `json:"category_id"`
}

// triviaCategory is the category-detail record: a title plus its full
// clue pool, from which boards sample.
type triviaCategory struct {
	ID    int          `json:"id"`
	Title string       `json:"title"`
	Clues []triviaClue `json:"clues"`
}

// categoryFetcher is what board assembly needs from the api layer.
type categoryFetcher interface {
	FetchCategoryIDs(ctx context.Context, want int) []int
	FetchCategory(ctx context.Context, id int) (triviaCategory, bool)
}

// TriviaClient talks to a jservice-style trivia api. All failures are
// logged and surfaced to callers as empty results; the board renders
// whatever could be fetched.
type TriviaClient struct {
	cfg    *Config
	base   string
	client *http.Client
	cache  *lru.ARCCache
}

func newTriviaClient(cfg *Config) (*TriviaClient, error) {
	cache, err := lru.NewARC(cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("category cache: %w", err)
	}

	return &TriviaClient{
		cfg:    cfg,
		base:   strings.TrimSuffix(cfg.apiURL, "/"),
		client: &http.Client{Timeout: cfg.apiTimeout},
		cache:  cache,
	}, nil
}

func (t *TriviaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchCategoryIDs requests an oversized batch of random clues and
// extracts up to want distinct category ids, in arrival order. Returns
// nil when the api is unavailable; never cached, a fresh board should
// get fresh categories.
func (t *TriviaClient) FetchCategoryIDs(ctx context.Context, want int) []int {
	var clues []triviaClue
	if err := t.getJSON(ctx, "/api/random?count="+strconv.Itoa(randomBatchSize), &clues); err != nil {
		logf(t.cfg, "TRIVIA: Fetching category ids: %v", err)
		return nil
	}

	seen := make(map[int]bool, want)
	ids := make([]int, 0, want)
	for _, clue := range clues {
		if seen[clue.CategoryID] {
			continue
		}
		seen[clue.CategoryID] = true
		ids = append(ids, clue.CategoryID)
		if len(ids) == want {
			break
		}
	}

	return ids
}

// FetchCategory returns the title and full clue pool for one category
// id, consulting the cache first. The second return is false when the
// category could not be fetched.
func (t *TriviaClient) FetchCategory(ctx context.Context, id int) (triviaCategory, bool) {
	if cached, ok := t.cache.Get(id); ok {
		return cached.(triviaCategory), true
	}

	var category triviaCategory
	if err := t.getJSON(ctx, "/api/category?id="+strconv.Itoa(id), &category); err != nil {
		logf(t.cfg, "TRIVIA: Fetching category %d: %v", id, err)
		return triviaCategory{}, false
	}

	t.cache.Add(id, category)

	return category, true
}
