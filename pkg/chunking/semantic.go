package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/hsn0918/bookrag/pkg/clients/embedding"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// SemanticChunker builds parent segments at semantic breakpoints and child
// windows within each parent.
type SemanticChunker struct {
	cfg      Config
	embedder embedding.Embedder
	cache    *embeddingCache
}

// Config defines chunking configuration.
type Config struct {
	// Required fields.
	MaxParentSize int
	MinParentSize int

	// Optional fields with defaults.
	ChildSize           int
	ChildOverlap        int
	SimilarityThreshold float64 // strict breakpoint threshold
	LooseSimilarity     float64 // loose threshold, paired with MinParentSize/2
	EnableParallel      bool
	CacheSize           int
}

// Option configures a SemanticChunker.
type Option func(*Config)

// WithSimilarityThresholds sets the strict and loose breakpoint thresholds.
func WithSimilarityThresholds(strict, loose float64) Option {
	return func(c *Config) {
		c.SimilarityThreshold = strict
		c.LooseSimilarity = loose
	}
}

// WithChildWindow sets the child window size and overlap.
func WithChildWindow(size, overlap int) Option {
	return func(c *Config) {
		c.ChildSize = size
		c.ChildOverlap = overlap
	}
}

// WithParallelProcessing enables parallel sentence embedding.
func WithParallelProcessing(enabled bool) Option {
	return func(c *Config) {
		c.EnableParallel = enabled
	}
}

// WithCacheSize sets the embedding cache capacity.
func WithCacheSize(size int) Option {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// NewSemanticChunker creates a new semantic chunker.
func NewSemanticChunker(
	maxParentSize, minParentSize int,
	embedder embedding.Embedder,
	opts ...Option,
) (*SemanticChunker, error) {
	if maxParentSize <= 0 || minParentSize <= 0 {
		return nil, fmt.Errorf("%w: parent sizes must be positive", ErrInvalidConfig)
	}
	if maxParentSize <= minParentSize {
		return nil, fmt.Errorf("%w: max must be greater than min", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	cfg := Config{
		MaxParentSize:       maxParentSize,
		MinParentSize:       minParentSize,
		ChildSize:           150,
		ChildOverlap:        30,
		SimilarityThreshold: 0.7,
		LooseSimilarity:     0.56,
		EnableParallel:      true,
		CacheSize:           1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &SemanticChunker{
		cfg:      cfg,
		embedder: embedder,
		cache:    newEmbeddingCache(cfg.CacheSize),
	}, nil
}

func (c *Config) validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold must be in [0,1]", ErrInvalidConfig)
	}
	if c.LooseSimilarity < 0 || c.LooseSimilarity > c.SimilarityThreshold {
		return fmt.Errorf("%w: loose threshold must be in [0, strict]", ErrInvalidConfig)
	}
	if c.ChildSize <= 0 || c.ChildOverlap < 0 || c.ChildOverlap >= c.ChildSize {
		return fmt.Errorf("%w: child window must be positive with overlap < size", ErrInvalidConfig)
	}
	return nil
}

// ChunkDocument splits a document into parents and children. The parents come
// from semantic breakpoints over sentence embeddings; when sentence splitting
// finds nothing useful the naive recursive splitter takes over.
func (sc *SemanticChunker) ChunkDocument(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	parentTexts, err := sc.parentTexts(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(parentTexts) == 0 {
		return nil, fmt.Errorf("%w: no parent segments produced", ErrChunkingFailed)
	}

	result := &Result{Parents: make([]Segment, 0, len(parentTexts))}
	for i, pt := range parentTexts {
		parent := Segment{
			ID:   uuid.NewString(),
			Kind: KindParent,
			Text: pt,
			Metadata: Metadata{
				ParentIndex: i,
			},
		}
		parent.Metadata.ParentID = parent.ID
		extractStructure(pt, &parent.Metadata)
		result.Parents = append(result.Parents, parent)
		result.Children = append(result.Children, sc.childWindows(parent)...)
	}
	return result, nil
}

// parentTexts produces the ordered parent chunk texts for a document.
func (sc *SemanticChunker) parentTexts(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) < minSemanticSentences {
		logger.Get().Warn("too few sentences for semantic chunking, using recursive fallback",
			slog.Int("sentences", len(sentences)))
		return recursiveSplit(text, fallbackChunkSize, fallbackOverlap), nil
	}

	embeddings, err := sc.sentenceEmbeddings(ctx, sentences)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Get().Warn("sentence embedding failed, using recursive fallback",
			slog.Any("error", err))
		return recursiveSplit(text, fallbackChunkSize, fallbackOverlap), nil
	}

	breakpoints := sc.findBreakpoints(sentences, embeddings)
	return sc.materialize(sentences, breakpoints), nil
}

const (
	minSemanticSentences = 10
	fallbackChunkSize    = 800
	fallbackOverlap      = 50
	embedMinRunes        = 10
	maxWorkers           = 5
)

// sentenceEmbeddings embeds every sentence longer than 10 runes; shorter
// sentences keep a nil vector.
func (sc *SemanticChunker) sentenceEmbeddings(ctx context.Context, sentences []string) ([][]float32, error) {
	if !sc.cfg.EnableParallel {
		embeddings := make([][]float32, len(sentences))
		for i, s := range sentences {
			if len([]rune(s)) <= embedMinRunes {
				continue
			}
			vec, err := sc.getEmbedding(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("sentence %d: %w", i, err)
			}
			embeddings[i] = vec
		}
		return embeddings, nil
	}

	type result struct {
		idx int
		vec []float32
		err error
	}
	results := make(chan result, len(sentences))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)
	for i, s := range sentences {
		if len([]rune(s)) <= embedMinRunes {
			continue
		}
		idx, content := i, s
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				results <- result{idx: idx, err: ctx.Err()}
				return
			}
			vec, err := sc.getEmbedding(ctx, content)
			results <- result{idx: idx, vec: vec, err: err}
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	embeddings := make([][]float32, len(sentences))
	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("sentence %d: %w", res.idx, res.err)
		}
		embeddings[res.idx] = res.vec
	}
	return embeddings, nil
}

// getEmbedding retrieves a vector from the cache or the embedder.
func (sc *SemanticChunker) getEmbedding(ctx context.Context, text string) ([]float32, error) {
	if cached := sc.cache.get(text); cached != nil {
		return cached, nil
	}
	vec, err := sc.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	sc.cache.set(text, vec)
	return vec, nil
}

// findBreakpoints walks adjacent sentence pairs and records a breakpoint
// after sentence i when similarity drops below the strict threshold with the
// accumulated chunk at least MinParentSize runes, or below the loose
// threshold at half that size. The final sentence index is always appended.
func (sc *SemanticChunker) findBreakpoints(sentences []string, embeddings [][]float32) []int {
	var breakpoints []int
	accumulated := 0
	looseMin := sc.cfg.MinParentSize / 2

	for i := 0; i < len(sentences)-1; i++ {
		if accumulated > 0 {
			accumulated++ // joining space
		}
		accumulated += len([]rune(sentences[i]))

		sim := cosineSimilarity(embeddings[i], embeddings[i+1])
		if (sim < sc.cfg.SimilarityThreshold && accumulated >= sc.cfg.MinParentSize) ||
			(sim < sc.cfg.LooseSimilarity && accumulated >= looseMin) {
			breakpoints = append(breakpoints, i)
			accumulated = 0
		}
	}
	return append(breakpoints, len(sentences)-1)
}

// materialize joins sentences between breakpoints and refines the raw chunks:
// code chunks pass through, undersized chunks merge forward, oversized chunks
// split at scored boundaries.
func (sc *SemanticChunker) materialize(sentences []string, breakpoints []int) []string {
	var raw []string
	start := 0
	for _, bp := range breakpoints {
		if bp < start {
			continue
		}
		raw = append(raw, strings.Join(sentences[start:bp+1], " "))
		start = bp + 1
	}

	var out []string
	pending := ""
	for _, chunk := range raw {
		if pending != "" {
			chunk = pending + " " + chunk
			pending = ""
		}
		for {
			size := len([]rune(chunk))
			if containsCodeSignal(chunk) && float64(size) < 1.5*float64(sc.cfg.MaxParentSize) {
				out = append(out, chunk)
				break
			}
			if size < sc.cfg.MinParentSize && countSentences(chunk) < 3 {
				pending = chunk
				break
			}
			if size > sc.cfg.MaxParentSize {
				head, rest := sc.splitOversized(chunk)
				if rest == "" || head == "" {
					out = append(out, chunk)
					break
				}
				out = append(out, head)
				chunk = rest
				continue
			}
			out = append(out, chunk)
			break
		}
	}

	// Drain the trailing buffer.
	if pending != "" {
		if n := len(out); n > 0 &&
			len([]rune(out[n-1]))+1+len([]rune(pending)) <= sc.cfg.MaxParentSize {
			out[n-1] = out[n-1] + " " + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

var codeSignals = []string{"public class", "private ", "public ", "@Override", "//", "/*"}

// containsCodeSignal reports whether a chunk looks like it holds a code block
// that splitting would corrupt.
func containsCodeSignal(chunk string) bool {
	for _, sig := range codeSignals {
		if strings.Contains(chunk, sig) {
			return true
		}
	}
	open := strings.IndexByte(chunk, '{')
	if open == -1 {
		return false
	}
	return strings.IndexByte(chunk[open+1:], '}') != -1
}

// splitOversized finds the best split position for a chunk longer than
// MaxParentSize and returns the two halves. Positions inside the search
// window are scored for paragraph boundaries, code closers, and sentence
// terminators, and penalised right after an Item header; a confident score
// snaps to the nearest sentence boundary, otherwise the sentence boundary
// closest to the midpoint wins.
func (sc *SemanticChunker) splitOversized(chunk string) (string, string) {
	runes := []rune(chunk)
	size := len(runes)

	lo := sc.cfg.MaxParentSize / 2
	if third := size / 3; third > lo {
		lo = third
	}
	hi := sc.cfg.MaxParentSize - 200
	if twoThirds := 2 * size / 3; twoThirds < hi {
		hi = twoThirds
	}
	if hi >= size {
		hi = size - 1
	}
	if lo < 1 {
		lo = 1
	}
	if lo > hi {
		lo = hi
	}

	itemEnds := itemHeaderEnds(runes)
	bestPos, bestScore := -1, 0.0
	for p := lo; p <= hi; p++ {
		score := splitScore(runes, p, itemEnds)
		if score > bestScore {
			bestScore = score
			bestPos = p
		}
	}

	target := size / 2
	if bestScore > 0.5 && bestPos > 0 {
		target = bestPos
	}
	return splitWithinWindow(runes, target, lo, hi)
}

// splitScore rates a candidate split position.
func splitScore(runes []rune, p int, itemEnds []int) float64 {
	score := 0.0

	// Paragraph boundary within ±10 runes.
	lo := p - 10
	if lo < 0 {
		lo = 0
	}
	hi := p + 10
	if hi > len(runes)-1 {
		hi = len(runes) - 1
	}
	for i := lo; i < hi; i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			score += 0.4
			break
		}
	}

	// Code-block closers.
	switch runes[p] {
	case '}', ';':
		score += 0.3
	case '\n':
		if p+1 >= len(runes) || runes[p+1] != '{' {
			score += 0.3
		}
	}

	if isTerminator(runes[p]) {
		score += 0.2
	}

	// Penalise splitting right after an Item header.
	for _, end := range itemEnds {
		if p >= end && p-end < 100 {
			score -= 0.5
			break
		}
	}
	return score
}

// itemHeaderEnds returns rune offsets just past each "Item <digits>" header.
func itemHeaderEnds(runes []rune) []int {
	var ends []int
	for i := 0; i+4 < len(runes); i++ {
		if !equalFold4(runes[i:], 'i', 't', 'e', 'm') {
			continue
		}
		j := i + 4
		if j >= len(runes) || !unicode.IsSpace(runes[j]) {
			continue
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		digits := j
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		if j > digits {
			ends = append(ends, j)
		}
	}
	return ends
}

func equalFold4(runes []rune, a, b, c, d rune) bool {
	return unicode.ToLower(runes[0]) == a &&
		unicode.ToLower(runes[1]) == b &&
		unicode.ToLower(runes[2]) == c &&
		unicode.ToLower(runes[3]) == d
}

// splitWithinWindow cuts at the sentence boundary closest to target without
// leaving the [lo, hi] window, so the head never outgrows the parent cap. A
// window with no boundary cuts at the clamped target itself.
func splitWithinWindow(runes []rune, target, lo, hi int) (string, string) {
	if target < lo {
		target = lo
	}
	if target > hi {
		target = hi
	}

	cut := target
	bestDist := -1
	for _, b := range sentenceBoundaries(runes) {
		if b < lo || b > hi {
			continue
		}
		dist := b - target
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			cut = b
		}
	}
	if cut <= 0 || cut >= len(runes) {
		return string(runes), ""
	}
	head := strings.TrimSpace(string(runes[:cut]))
	rest := strings.TrimSpace(string(runes[cut:]))
	return head, rest
}

// childWindows slides a fixed window over the parent text. Children inherit
// the parent's structural metadata and record their ordinal position.
func (sc *SemanticChunker) childWindows(parent Segment) []Segment {
	runes := []rune(parent.Text)
	stride := sc.cfg.ChildSize - sc.cfg.ChildOverlap

	var children []Segment
	for start, idx := 0, 0; start < len(runes); start, idx = start+stride, idx+1 {
		end := start + sc.cfg.ChildSize
		if end > len(runes) {
			end = len(runes)
		}
		md := parent.Metadata
		md.ParentID = parent.ID
		md.ChildIndex = idx
		children = append(children, Segment{
			ID:       fmt.Sprintf("%s:%d", parent.ID, idx),
			Kind:     KindChild,
			Text:     string(runes[start:end]),
			Metadata: md,
		})
		if end == len(runes) {
			break
		}
	}
	return children
}

// recursiveSplit is the naive fallback splitter: break on paragraph, line,
// sentence, then word separators, and merge pieces up to maxSize runes with
// the given overlap carried between neighbours.
func recursiveSplit(text string, maxSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= maxSize {
		return []string{text}
	}

	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		parts := strings.Split(text, sep)
		if len(parts) < 2 {
			continue
		}
		return mergeParts(parts, sep, maxSize, overlap)
	}

	// No separators at all: hard cut.
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += maxSize - overlap {
		end := start + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func mergeParts(parts []string, sep string, maxSize, overlap int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(cur.String())
		cur.Reset()
		if chunk == "" {
			return
		}
		if len([]rune(chunk)) > maxSize {
			out = append(out, recursiveSplit(chunk, maxSize, overlap)...)
			return
		}
		out = append(out, chunk)
	}

	for _, part := range parts {
		candidate := len([]rune(cur.String())) + len([]rune(sep)) + len([]rune(part))
		if cur.Len() > 0 && candidate > maxSize {
			prev := cur.String()
			flush()
			// Carry the overlap tail into the next chunk.
			tail := []rune(prev)
			if len(tail) > overlap {
				tail = tail[len(tail)-overlap:]
			}
			cur.WriteString(strings.TrimSpace(string(tail)))
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(part)
	}
	flush()
	return out
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or empty vectors score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
