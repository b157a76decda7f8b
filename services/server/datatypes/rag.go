package datatypes

// LLM message roles used internally once history has crossed the boundary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the internal LLM conversation format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceDocument is one retrieved passage as returned to the client.
//
// Index is the 1-based rank of the passage within this response and matches
// the [n] citation markers the model was instructed to emit. Indices are
// recomputed per request; they carry no persistent identity.
type SourceDocument struct {
	Index       int    `json:"index"`
	SourceURL   string `json:"source_url"`
	PageContent string `json:"page_content"`
}

// RagResponse is the response body for the synchronous RAG endpoint.
//
// Sources always marshals as a JSON array, [] when retrieval returned
// nothing, so clients never have to branch on null.
type RagResponse struct {
	Answer  string           `json:"answer"`
	Sources []SourceDocument `json:"sources"`
}

// NewRagResponse builds a RagResponse with a non-nil sources slice.
func NewRagResponse(answer string, sources []SourceDocument) *RagResponse {
	if sources == nil {
		sources = make([]SourceDocument, 0)
	}
	return &RagResponse{
		Answer:  answer,
		Sources: sources,
	}
}
