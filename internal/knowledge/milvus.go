package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/pkg/logger"
)

// MilvusStore serves the card corpus from a Milvus collection. Used when the
// corpus outgrows what is comfortable to hold in process memory.
type MilvusStore struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewMilvusStore(endpoint, collectionName string, vectorDim int) (*MilvusStore, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus knowledge store initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &MilvusStore{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (s *MilvusStore) Close() error {
	return s.client.Close()
}

func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collectionName,
		Description:    "Knowledge card embeddings",
		Fields: []*entity.Field{
			{
				Name:       "card_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorDim)},
			},
			{
				Name:       "keyword",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
			{
				Name:       "pillar",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "category",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "card_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "position",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err := s.client.CreateIndex(ctx, s.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := s.client.LoadCollection(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Milvus collection created and loaded", zap.String("collection", s.collectionName))
	return nil
}

func (s *MilvusStore) Insert(ctx context.Context, cards []models.KnowledgeCard) error {
	if len(cards) == 0 {
		return nil
	}

	ids := make([]string, len(cards))
	embeddings := make([][]float32, len(cards))
	keywords := make([]string, len(cards))
	contents := make([]string, len(cards))
	pillars := make([]string, len(cards))
	categories := make([]string, len(cards))
	cardTypes := make([]string, len(cards))
	positions := make([]int64, len(cards))

	for i, card := range cards {
		ids[i] = card.ID
		embeddings[i] = card.Embedding
		keywords[i] = card.Keyword
		contents[i] = card.Content
		pillars[i] = card.Pillar
		categories[i] = card.Category
		cardTypes[i] = card.CardType
		positions[i] = int64(card.Position)
	}

	_, err := s.client.Insert(
		ctx,
		s.collectionName,
		"",
		entity.NewColumnVarChar("card_id", ids),
		entity.NewColumnFloatVector("embedding", s.vectorDim, embeddings),
		entity.NewColumnVarChar("keyword", keywords),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("pillar", pillars),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("card_type", cardTypes),
		entity.NewColumnInt64("position", positions),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cards: %w", err)
	}

	if err := s.client.Flush(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Cards inserted into milvus", zap.Int("count", len(cards)))
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, queryEmbedding []float32, topK int, filter Filter) ([]Match, error) {
	var exprs []string
	if filter.Pillar != "" {
		exprs = append(exprs, fmt.Sprintf(`pillar == "%s"`, filter.Pillar))
	}
	if filter.Category != "" {
		exprs = append(exprs, fmt.Sprintf(`category == "%s"`, filter.Category))
	}
	expr := strings.Join(exprs, " && ")

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := s.client.Search(
		ctx,
		s.collectionName,
		[]string{},
		expr,
		[]string{"card_id", "keyword", "content", "pillar", "category", "card_type", "position"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]Match, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			cardID, _ := sr.Fields.GetColumn("card_id").Get(i)
			keyword, _ := sr.Fields.GetColumn("keyword").Get(i)
			content, _ := sr.Fields.GetColumn("content").Get(i)
			pillar, _ := sr.Fields.GetColumn("pillar").Get(i)
			category, _ := sr.Fields.GetColumn("category").Get(i)
			cardType, _ := sr.Fields.GetColumn("card_type").Get(i)
			position, _ := sr.Fields.GetColumn("position").Get(i)

			matches = append(matches, Match{
				Card: models.KnowledgeCard{
					ID:       cardID.(string),
					Keyword:  keyword.(string),
					Content:  content.(string),
					Pillar:   pillar.(string),
					Category: category.(string),
					CardType: cardType.(string),
					Position: int(position.(int64)),
				},
				Similarity: float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Milvus search completed",
		zap.Int("top_k", topK),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}
