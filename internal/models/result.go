package models

// RetrievalResult is one retrieved chunk with its derived similarity score.
type RetrievalResult struct {
	Content      string  `json:"content"`
	DocumentName string  `json:"documentName"`
	Similarity   float64 `json:"similarity"`
}

// QueryResponse is the answer to a query together with the chunks it was conditioned on.
type QueryResponse struct {
	Success        bool               `json:"success"`
	Answer         string             `json:"answer"`
	RelevantChunks []*RetrievalResult `json:"relevantChunks"`
	ProcessingTime int64              `json:"processingTime"`
}

// Status summarizes what is currently indexed.
type Status struct {
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
	VectorBackend  string `json:"vector_backend"`
	ModelServer    string `json:"model_server,omitempty"`
}
