package models

// Pattern is a reusable reasoning template plus an embedding, retrieved by
// similarity from the pattern store.
type Pattern struct {
	ID          string            `json:"id"`
	TaskType    string            `json:"taskType"`
	Template    string            `json:"template"`
	Embedding   []float32         `json:"embedding"`
	SuccessRate float64           `json:"successRate"`
	SonaWeight  float64           `json:"sonaWeight"`
	UsageCount  int64             `json:"usageCount"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PatternStats summarizes the pattern store's contents.
type PatternStats struct {
	TotalPatterns    int                `json:"totalPatterns"`
	CountByTaskType  map[string]int     `json:"countByTaskType"`
	AverageSuccess   float64            `json:"averageSuccess"`
	HighestSuccessRate float64          `json:"highestSuccessRate"`
	HighQualityCount int                `json:"highQualityCount"`
	LowQualityCount  int                `json:"lowQualityCount"`
	MostUsedID       string             `json:"mostUsedId,omitempty"`
	EstimatedBytes   int64              `json:"estimatedBytes"`
}
