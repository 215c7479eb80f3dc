// Package ingestion builds the knowledge card corpus from exported marketing
// pages. Each HTML file is cleaned, segmented into sentences, and grouped
// into short cards that embed and retrieve well.
package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/knowledge"
	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/internal/storage/sqlite"
	"github.com/askspm/backend/pkg/logger"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// sentencesPerCard keeps cards short enough that a single embedding stays
// focused on one claim.
const sentencesPerCard = 3

type Processor struct {
	db       *sqlite.Client
	embedder *embedding.Adapter
	milvus   *knowledge.MilvusStore
	position int
}

// NewProcessor wires the ingestion pipeline. The milvus store is optional;
// when nil, cards are only written to SQLite and served from the in-memory
// index.
func NewProcessor(db *sqlite.Client, embedder *embedding.Adapter, milvus *knowledge.MilvusStore) *Processor {
	return &Processor{
		db:       db,
		embedder: embedder,
		milvus:   milvus,
	}
}

// ProcessDirectory walks root for .html files and ingests each one. The
// first two path segments under root become the card's pillar and category,
// e.g. root/compensation/clawbacks/page.html.
func (p *Processor) ProcessDirectory(ctx context.Context, root string) error {
	existing, err := p.db.CountCards(ctx)
	if err != nil {
		return fmt.Errorf("failed to count existing cards: %w", err)
	}
	p.position = existing

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(path), ".html") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk source directory: %w", err)
	}

	logger.Info("Starting ingestion",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("existing_cards", existing),
	)

	for _, path := range files {
		if err := p.processFile(ctx, root, path); err != nil {
			logger.Error("Failed to ingest file",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (p *Processor) processFile(ctx context.Context, root, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	text := p.cleanHTML(string(raw))
	if text == "" {
		return fmt.Errorf("no content extracted from HTML")
	}

	pillar, category := classifyPath(root, path)

	sentences, err := segmentSentences(text)
	if err != nil {
		return fmt.Errorf("failed to segment text: %w", err)
	}

	cards := p.buildCards(sentences, pillar, category)
	if len(cards) == 0 {
		logger.Warn("No cards produced", zap.String("path", path))
		return nil
	}

	texts := make([]string, len(cards))
	for i, card := range cards {
		texts[i] = card.Content
	}

	embeddings, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed cards: %w", err)
	}
	if len(embeddings) != len(cards) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(cards))
	}

	for i := range cards {
		cards[i].Embedding = embeddings[i]
		if err := p.db.InsertCard(ctx, &cards[i]); err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
	}

	if p.milvus != nil {
		if err := p.milvus.Insert(ctx, cards); err != nil {
			return fmt.Errorf("failed to insert into vector DB: %w", err)
		}
	}

	logger.Info("File ingested",
		zap.String("path", path),
		zap.String("pillar", pillar),
		zap.String("category", category),
		zap.Int("cards", len(cards)),
	)

	return nil
}

func (p *Processor) cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside, form").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (p *Processor) buildCards(sentences []string, pillar, category string) []models.KnowledgeCard {
	var cards []models.KnowledgeCard

	for i := 0; i < len(sentences); i += sentencesPerCard {
		end := i + sentencesPerCard
		if end > len(sentences) {
			end = len(sentences)
		}
		content := strings.Join(sentences[i:end], " ")
		if len(content) < 40 {
			continue
		}

		cards = append(cards, models.KnowledgeCard{
			ID:        uuid.New().String(),
			Keyword:   extractKeyword(content),
			Content:   content,
			Pillar:    pillar,
			Category:  category,
			CardType:  "marketing",
			Position:  p.position,
			CreatedAt: time.Now(),
		})
		p.position++
	}

	return cards
}

func segmentSentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, err
	}

	var sentences []string
	for _, s := range doc.Sentences() {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences, nil
}

// extractKeyword takes the first few words of a card as its display label.
func extractKeyword(content string) string {
	words := strings.Fields(content)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

// classifyPath derives pillar and category from the file's location below
// the ingestion root.
func classifyPath(root, path string) (string, string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "general", "general"
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	pillar := "general"
	category := "general"
	if len(parts) > 1 {
		pillar = normalizeSegment(parts[0])
	}
	if len(parts) > 2 {
		category = normalizeSegment(parts[1])
	}
	return pillar, category
}

func normalizeSegment(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}
