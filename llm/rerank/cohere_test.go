package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCohereTestServer(t *testing.T, handler http.HandlerFunc) *CohereProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultCohereConfig()
	cfg.APIKey = "cohere-key"
	cfg.BaseURL = server.URL
	return NewCohereProvider(cfg)
}

func TestCohereProvider_RerankSimple(t *testing.T) {
	var gotReq cohereRerankRequest
	provider := newCohereTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/rerank", r.URL.Path)
		assert.Equal(t, "Bearer cohere-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"id": "rerank-1",
			"results": []map[string]any{
				{"index": 2, "relevance_score": 0.98},
				{"index": 0, "relevance_score": 0.41},
			},
		})
	})

	results, err := provider.RerankSimple(context.Background(), "total sales",
		[]string{"doc a", "doc b", "doc c"}, 2)
	require.NoError(t, err)

	assert.Equal(t, "total sales", gotReq.Query)
	assert.Equal(t, []string{"doc a", "doc b", "doc c"}, gotReq.Documents)
	assert.Equal(t, "rerank-v3.5", gotReq.Model)
	assert.Equal(t, 2, gotReq.TopN)

	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Index)
	assert.InDelta(t, 0.98, results[0].RelevanceScore, 1e-9)
	assert.Equal(t, 0, results[1].Index)
}

func TestCohereProvider_RerankReturnsDocuments(t *testing.T) {
	provider := newCohereTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.7, "document": map[string]string{"text": "doc a"}},
			},
		})
	})

	resp, err := provider.Rerank(context.Background(), &RerankRequest{
		Query:           "q",
		Documents:       []Document{{Text: "doc a"}},
		ReturnDocuments: true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc a", resp.Results[0].Document.Text)
	assert.Equal(t, "cohere-rerank", resp.Provider)
}

func TestCohereProvider_UpstreamError(t *testing.T) {
	provider := newCohereTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	})

	_, err := provider.RerankSimple(context.Background(), "q", []string{"doc"}, 1)
	assert.ErrorContains(t, err, "status 401")
	assert.ErrorContains(t, err, "invalid api key")
}

func TestCohereProvider_Defaults(t *testing.T) {
	provider := NewCohereProvider(CohereConfig{APIKey: "k"})

	assert.Equal(t, "cohere-rerank", provider.Name())
	assert.Equal(t, 1000, provider.MaxDocuments())
}
