package model

// RagSource 是一条被检索并注入上下文的知识片段引用。
type RagSource struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// KnowledgeChunk 对应 Elasticsearch 知识库索引中的一条文档。
type KnowledgeChunk struct {
	ChunkID     string    `json:"chunk_id"`
	Title       string    `json:"title"`
	TextContent string    `json:"text_content"`
	Category    string    `json:"category"`
	Vector      []float32 `json:"vector,omitempty"`
	UserID      uint      `json:"user_id"`
	IsPublic    bool      `json:"is_public"`
}

// RetrievedChunk 是带有相似度的检索结果。
type RetrievedChunk struct {
	KnowledgeChunk
	Similarity float64
}
