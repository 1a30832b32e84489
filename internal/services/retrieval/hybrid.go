// Package retrieval implements the hybrid lexical+semantic ranking engine:
// Okapi BM25 over a CJK-aware bi-gram token bag, combined with dense cosine
// similarity from the embedding port. The candidate sets it ranks are small
// (bounded by the store's candidateLimit), so scoring is done in-process
// rather than through a search server or inverted-index library.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// bm25K1 and bm25B are the standard Okapi BM25 free parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var asciiTokenRe = regexp.MustCompile(`^[a-z0-9]+$`)

// Scored pairs a candidate issue with the hybrid score that ranked it; the
// same score is also written into the issue's CustomFields["hybrid_score"]
// side-channel.
type Scored struct {
	Issue *models.Issue
	Score float64
}

// Engine ranks a candidate set of issues against a free-text query by
// combining BM25 and cosine similarity.
type Engine struct {
	embedder interfaces.EmbeddingPort
	config   common.RetrievalConfig
	logger   arbor.ILogger
}

// NewEngine constructs a hybrid retrieval Engine.
func NewEngine(embedder interfaces.EmbeddingPort, config common.RetrievalConfig, logger arbor.ILogger) *Engine {
	return &Engine{embedder: embedder, config: config, logger: logger}
}

// Rank scores candidates against query and returns the top K by descending
// hybrid score, dropping anything below config.MinScore. candidates is
// typically the recency-ordered result of IssueStore.SearchHybrid's
// candidate fetch.
func (e *Engine) Rank(ctx context.Context, query string, candidates []*models.Issue, topK int) ([]Scored, error) {
	if topK <= 0 {
		topK = e.config.DefaultTopK
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, issue := range candidates {
		docs[i] = issue.Title + " " + issue.Description
	}

	bm25Scores := bm25Score(query, docs)

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	maxBM25 := 0.0
	for _, s := range bm25Scores {
		if s > maxBM25 {
			maxBM25 = s
		}
	}

	docVectors, err := e.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return nil, err
	}

	bm25Weight := e.config.BM25Weight
	semanticWeight := e.config.SemanticWeight
	if bm25Weight == 0 && semanticWeight == 0 {
		bm25Weight, semanticWeight = 0.3, 0.7
	}

	scored := make([]Scored, 0, len(candidates))
	for i, issue := range candidates {
		bm25Norm := bm25Scores[i] / (maxBM25 + 1e-9)
		cosine := cosineSimilarity(queryVector, docVectors[i])
		hybrid := bm25Weight*bm25Norm + semanticWeight*cosine

		if hybrid < e.config.MinScore {
			continue
		}

		if issue.CustomFields == nil {
			issue.CustomFields = make(map[string]interface{})
		}
		issue.CustomFields["hybrid_score"] = hybrid

		scored = append(scored, Scored{Issue: issue, Score: hybrid})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// tokenize lowercases and whitespace-splits text, then expands every token
// that is not pure ASCII alphanumeric into overlapping two-character
// bi-grams. The returned bag is the original tokens plus every bi-gram
// generated from non-ASCII tokens; Korean/Japanese word boundaries are
// ill-defined under whitespace splitting and the bi-grams restore
// partial-match recall without a morphological analyzer.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.Fields(lower)

	bag := make([]string, 0, len(fields)*2)
	for _, tok := range fields {
		bag = append(bag, tok)
		if !asciiTokenRe.MatchString(tok) {
			bag = append(bag, bigrams(tok)...)
		}
	}
	return bag
}

// bigrams splits a token into overlapping two-rune slices. A single-rune
// token yields itself, since there is no pair to form.
func bigrams(token string) []string {
	runes := []rune(token)
	if len(runes) < 2 {
		return []string{token}
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// bm25Score computes an Okapi BM25 score for query against each of docs.
func bm25Score(query string, docs []string) []float64 {
	queryTerms := tokenize(query)
	docTokens := make([][]string, len(docs))
	docLens := make([]float64, len(docs))
	avgLen := 0.0

	for i, d := range docs {
		docTokens[i] = tokenize(d)
		docLens[i] = float64(len(docTokens[i]))
		avgLen += docLens[i]
	}
	if len(docs) > 0 {
		avgLen /= float64(len(docs))
	}

	df := make(map[string]int)
	for _, tokens := range docTokens {
		seen := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		idf[term] = math.Log(1 + (n-float64(freq)+0.5)/(float64(freq)+0.5))
	}

	scores := make([]float64, len(docs))
	for i, tokens := range docTokens {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}

		score := 0.0
		for _, qt := range queryTerms {
			f, ok := tf[qt]
			if !ok {
				continue
			}
			freq := float64(f)
			denom := freq + bm25K1*(1-bm25B+bm25B*docLens[i]/maxFloat(avgLen, 1))
			score += idf[qt] * (freq * (bm25K1 + 1)) / denom
		}
		scores[i] = score
	}
	return scores
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 if
// either is the zero vector or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
