package httpkb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSendsQueryAndRanksResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "I forgot my password", req.Query)
		assert.Equal(t, []string{"hello"}, req.Context)

		_ = json.NewEncoder(w).Encode(searchResponse{Results: []knowledgebase.Candidate{
			{ArticleID: "low", Score: 0.2},
			{ArticleID: "high", Score: 0.9},
		}})
	}))
	defer server.Close()

	client := New(server.URL+"/", WithAPIKey("secret"))
	candidates, err := client.Search(context.Background(), knowledgebase.Query{Text: "I forgot my password", Context: []string{"hello"}})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "high", candidates[0].ArticleID)
}

func TestSearchMapsServerErrorsToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL).Search(context.Background(), knowledgebase.Query{Text: "x"})
	assert.ErrorIs(t, err, knowledgebase.ErrUnavailable)
}

func TestSearchRejectedRequestIsNotUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := New(server.URL).Search(context.Background(), knowledgebase.Query{Text: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, knowledgebase.ErrUnavailable)
}
