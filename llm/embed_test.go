package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/axonlabs/scopeguard/llm"
	_ "github.com/axonlabs/scopeguard/llm/providers" // Register providers
	"github.com/axonlabs/scopeguard/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedTestRegistry(url string) *model.Registry {
	return model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityEmbed: {
				Preferred: []string{"embed-model"},
			},
		},
		map[string]*model.EndpointConfig{
			"embed-model": {
				Provider: "ollama",
				URL:      url,
				Model:    "embed-model",
			},
		},
	)
}

func TestClient_Embed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		inputs, _ := body["input"].([]any)

		data := make([]map[string]any, len(inputs))
		for i := range inputs {
			data[i] = map[string]any{
				"index":     i,
				"embedding": []float32{float32(i) + 0.5, 0.25, 0.75},
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "embed-model",
		})
	}))
	defer server.Close()

	client := llm.NewClient(embedTestRegistry(server.URL))

	resp, err := client.Embed(context.Background(), llm.EmbedRequest{
		Texts: []string{"first chunk", "second chunk"},
	})

	require.NoError(t, err)
	assert.Equal(t, "embed-model", resp.Model)
	require.Len(t, resp.Vectors, 2)
	assert.Equal(t, []float32{0.5, 0.25, 0.75}, resp.Vectors[0])
	assert.Equal(t, []float32{1.5, 0.25, 0.75}, resp.Vectors[1])
}

func TestClient_Embed_VectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer server.Close()

	client := llm.NewClient(embedTestRegistry(server.URL))

	_, err := client.Embed(context.Background(), llm.EmbedRequest{
		Texts: []string{"one", "two"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 texts")
}

func TestClient_Embed_NoTexts(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	_, err := client.Embed(context.Background(), llm.EmbedRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one text")
}

func TestClient_Embed_DefaultsToEmbedCapability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{0.9}},
			},
		})
	}))
	defer server.Close()

	client := llm.NewClient(embedTestRegistry(server.URL))

	// No capability set: should resolve through "embed"
	resp, err := client.Embed(context.Background(), llm.EmbedRequest{
		Texts: []string{"chunk"},
	})

	require.NoError(t, err)
	require.Len(t, resp.Vectors, 1)
}
