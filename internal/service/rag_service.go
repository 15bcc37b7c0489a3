package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/pkg/embedding"
	"health-coach-go/pkg/log"
)

// SleepCategory 是知识库中睡眠类文档的 category 值。
const SleepCategory = "sleep"

// RagBundle 是一次检索的结果：渲染好的片段文本与按相似度降序的来源。
type RagBundle struct {
	Snippets string
	Sources  []model.RagSource
}

// RagService 定义了知识库检索操作。
type RagService interface {
	Retrieve(ctx context.Context, userID uint, query string, sleepMode bool) (RagBundle, error)
}

type ragService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
	cfg             config.RAGConfig
}

// NewRagService 创建一个新的 RagService 实例。
func NewRagService(embeddingClient embedding.Client, esClient *elasticsearch.Client, indexName string, cfg config.RAGConfig) RagService {
	if cfg.MaxSnippetLen <= 0 {
		cfg.MaxSnippetLen = 1000
	}
	if cfg.NumCandidates < cfg.TopK {
		cfg.NumCandidates = cfg.TopK * 20
	}
	return &ragService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       indexName,
		cfg:             cfg,
	}
}

// Retrieve 向量化查询后在 Elasticsearch 上执行 kNN 检索。
// 过滤条件：本人私有文档或公共文档；sleepMode 时只检索睡眠类文档。
func (s *ragService) Retrieve(ctx context.Context, userID uint, query string, sleepMode bool) (RagBundle, error) {
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return RagBundle{}, fmt.Errorf("failed to create query embedding: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(s.buildQuery(queryVector, userID, sleepMode)); err != nil {
		return RagBundle{}, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return RagBundle{}, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return RagBundle{}, fmt.Errorf("elasticsearch returned an error: %s, body: %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string               `json:"_id"`
				Source model.KnowledgeChunk `json:"_source"`
				Score  float64              `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return RagBundle{}, fmt.Errorf("failed to decode es response: %w", err)
	}

	chunks := make([]model.RetrievedChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		sim := cosineSimilarityFromScore(hit.Score)
		if sim < s.cfg.MinSimilarity {
			continue
		}
		chunk := hit.Source
		if chunk.ChunkID == "" {
			chunk.ChunkID = hit.ID
		}
		chunks = append(chunks, model.RetrievedChunk{KnowledgeChunk: chunk, Similarity: sim})
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Similarity > chunks[j].Similarity })
	if len(chunks) > s.cfg.TopK {
		chunks = chunks[:s.cfg.TopK]
	}

	log.Debugw("[RagService] 检索完成", "userId", userID, "hits", len(esResponse.Hits.Hits), "kept", len(chunks), "sleepMode", sleepMode)
	return RagBundle{
		Snippets: renderSnippets(chunks, s.cfg.MaxSnippetLen),
		Sources:  toSources(chunks),
	}, nil
}

func (s *ragService) buildQuery(vector []float32, userID uint, sleepMode bool) map[string]interface{} {
	filter := map[string]interface{}{
		"should": []map[string]interface{}{
			{"term": map[string]interface{}{"user_id": userID}},
			{"term": map[string]interface{}{"is_public": true}},
		},
		"minimum_should_match": 1,
	}
	if sleepMode {
		filter["filter"] = []map[string]interface{}{
			{"term": map[string]interface{}{"category": SleepCategory}},
		}
	}
	return map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              s.cfg.TopK,
			"num_candidates": s.cfg.NumCandidates,
			"filter":         map[string]interface{}{"bool": filter},
		},
		"size":    s.cfg.TopK,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
}

// cosineSimilarityFromScore 把 ES cosine kNN 的 _score（(1+cos)/2）换算回 [0,1] 区间的相似度。
func cosineSimilarityFromScore(score float64) float64 {
	sim := 2*score - 1
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func renderSnippets(chunks []model.RetrievedChunk, maxLen int) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range chunks {
		title := c.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, title, truncateRunes(strings.TrimSpace(c.TextContent), maxLen))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func toSources(chunks []model.RetrievedChunk) []model.RagSource {
	out := make([]model.RagSource, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, model.RagSource{ID: c.ChunkID, Title: c.Title, Similarity: c.Similarity})
	}
	return out
}
