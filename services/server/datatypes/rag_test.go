package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRagResponse_NilSourcesMarshalsAsEmptyArray(t *testing.T) {
	resp := NewRagResponse("답변입니다.", nil)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"답변입니다.","sources":[]}`, string(data))
}

func TestSourceDocument_WireNames(t *testing.T) {
	doc := SourceDocument{
		Index:       1,
		SourceURL:   "https://docs.spring.io/spring-security/reference/index.html",
		PageContent: "Spring Security is a framework...",
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "index")
	assert.Contains(t, decoded, "source_url")
	assert.Contains(t, decoded, "page_content")
	assert.Equal(t, float64(1), decoded["index"])
}

func TestNewRagResponse_PreservesSourceOrder(t *testing.T) {
	sources := []SourceDocument{
		{Index: 1, SourceURL: "https://a", PageContent: "first"},
		{Index: 2, SourceURL: "https://b", PageContent: "second"},
	}

	resp := NewRagResponse("ans [1] [2]", sources)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Index)
	assert.Equal(t, 2, resp.Sources[1].Index)
}

func TestStreamEvents_WireShape(t *testing.T) {
	chunk, err := json.Marshal(NewChunkEvent("Spring"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chunk","content":"Spring"}`, string(chunk))

	answer, err := json.Marshal(NewAnswerEvent(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"answer","content":""}`, string(answer))

	sources, err := json.Marshal(NewSourcesEvent(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sources","sources":[]}`, string(sources))
}

func TestDoneSentinel_Literal(t *testing.T) {
	assert.Equal(t, "[DONE]", DoneSentinel)
}
