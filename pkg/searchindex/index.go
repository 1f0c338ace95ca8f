// Package searchindex is the reference in-memory index for vault items: token prefix matching
// with optional edit-distance fuzzy matching over titles, usernames, URLs and tags.
package searchindex

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Item is the searchable projection of a vault item. It never carries secrets.
type Item struct {
	ID       string
	Title    string
	Username string
	URL      string
	Tags     []string
}

// Criteria describes a query
type Criteria struct {
	// Text is split into terms; every term must match some field token
	Text string

	// Tags restricts results to items carrying all of these tags
	Tags []string

	// Fuzzy allows terms to match tokens within MaxDistance edits
	Fuzzy bool

	// MaxDistance bounds fuzzy matching; 0 means 1 for short terms and 2 otherwise
	MaxDistance int

	// Limit caps the number of hits; 0 means unlimited
	Limit int
}

// Terms returns the normalized query terms
func (c Criteria) Terms() []string {
	return tokenize(c.Text)
}

// Hit is a ranked match
type Hit struct {
	ID    string
	Score float64
}

// field weights, title matches rank highest
var fieldWeights = map[string]float64{
	"title":    3,
	"username": 2,
	"url":      1.5,
	"tag":      1,
}

type posting struct {
	field string
	token string
}

// Index is safe for concurrent use
type Index struct {
	mu     sync.RWMutex
	items  map[string]Item
	tokens map[string][]posting
}

// New creates an empty index
func New() *Index {
	return &Index{
		items:  make(map[string]Item),
		tokens: make(map[string][]posting),
	}
}

// Index adds or replaces items and returns how many were indexed
func (x *Index) Index(items []Item) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		x.items[it.ID] = it
		x.tokens[it.ID] = postingsFor(it)
		n++
	}
	return n
}

// Replace drops every item and indexes items
func (x *Index) Replace(items []Item) int {
	x.mu.Lock()
	x.items = make(map[string]Item, len(items))
	x.tokens = make(map[string][]posting, len(items))
	x.mu.Unlock()
	return x.Index(items)
}

// Remove deletes items by id and returns how many existed
func (x *Index) Remove(ids []string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := x.items[id]; ok {
			delete(x.items, id)
			delete(x.tokens, id)
			n++
		}
	}
	return n
}

// Len returns the number of indexed items
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// Items returns a snapshot of every indexed item ordered by id
func (x *Index) Items() []Item {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Item, 0, len(x.items))
	for _, it := range x.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query returns hits ordered by descending score, then id
func (x *Index) Query(c Criteria) []Hit {
	terms := c.Terms()
	wantTags := normalizeAll(c.Tags)

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]Hit, 0)
	for id, postings := range x.tokens {
		if !hasTags(x.items[id], wantTags) {
			continue
		}
		score, ok := scoreItem(postings, terms, c)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if c.Limit > 0 && len(hits) > c.Limit {
		hits = hits[:c.Limit]
	}
	return hits
}

func scoreItem(postings []posting, terms []string, c Criteria) (float64, bool) {
	if len(terms) == 0 {
		// tag-only queries match with a flat score
		return 1, true
	}

	total := 0.0
	for _, term := range terms {
		best := 0.0
		for _, p := range postings {
			if s := matchScore(term, p.token, c); s > 0 {
				if w := s * fieldWeights[p.field]; w > best {
					best = w
				}
			}
		}
		if best == 0 {
			return 0, false
		}
		total += best
	}
	return total, true
}

func matchScore(term, token string, c Criteria) float64 {
	switch {
	case token == term:
		return 1
	case strings.HasPrefix(token, term):
		return 0.8
	case c.Fuzzy:
		limit := c.MaxDistance
		if limit <= 0 {
			limit = 1
			if len(term) > 5 {
				limit = 2
			}
		}
		if d := levenshtein(term, token, limit); d <= limit {
			return 0.5 / float64(d+1)
		}
	}
	return 0
}

func hasTags(it Item, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]bool, len(it.Tags))
	for _, t := range normalizeAll(it.Tags) {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

func postingsFor(it Item) []posting {
	var out []posting
	add := func(field, text string) {
		for _, tok := range tokenize(text) {
			out = append(out, posting{field: field, token: tok})
		}
	}
	add("title", it.Title)
	add("username", it.Username)
	add("url", it.URL)
	for _, tag := range it.Tags {
		add("tag", tag)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// levenshtein returns the edit distance between a and b, or limit+1 once it is known to
// exceed limit
func levenshtein(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	if d := len(ra) - len(rb); d > limit || -d > limit {
		return limit + 1
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
