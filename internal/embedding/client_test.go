package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/common"
)

func newTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Deterministic fake vectors keyed on text length.
		resp := embedResponse{}
		for _, text := range req.Input {
			vec := make([]float64, dims)
			for i := range vec {
				vec[i] = float64((len(text)+i)%7) + 1
			}
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEncodeBatchNormalizes(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	provider, err := NewProvider(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := provider.EncodeBatch(context.Background(), []string{"AMAZON", "SNCF CONNECT"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	for _, vec := range vecs {
		norm := 0.0
		for _, x := range vec {
			norm += x * x
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	}
	assert.Equal(t, 8, provider.Dimensions())
}

func TestEncodeDeterministic(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	provider, err := NewProvider(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	a, err := provider.Encode(context.Background(), "CARREFOUR")
	require.NoError(t, err)
	b, err := provider.Encode(context.Background(), "CARREFOUR")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeBatchChunks(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	provider, err := NewProvider(Config{BaseURL: srv.URL, BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := provider.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	// 1 init probe + ceil(5/2) batches.
	assert.Equal(t, 4, calls)
}

func TestEncodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider, err := NewProvider(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = provider.Encode(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestEncodeServerDown(t *testing.T) {
	srv := newTestServer(t, 4)
	url := srv.URL
	srv.Close()

	provider, err := NewProvider(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = provider.Encode(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestNewProviderRequiresBaseURL(t *testing.T) {
	_, err := NewProvider(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestBuildText(t *testing.T) {
	cfg := Config{Keywords: []string{"SNCF"}, KeywordBoost: 2}

	assert.Equal(t, "SNCF CONNECT SNCF SNCF [expense]", BuildText("SNCF CONNECT", false, cfg))
	assert.Equal(t, "EMPLOYEUR [income]", BuildText("EMPLOYEUR", true, cfg))
	assert.Equal(t, "LECLERC [expense]", BuildText("LECLERC", false, Config{}))
}

func TestCosineHelpers(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	c := []float64{-1, 0}

	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-12)
	assert.InDelta(t, 1.0, CosineDistance(a, b), 1e-12)
	assert.InDelta(t, 2.0, CosineDistance(a, c), 1e-12)
	assert.InDelta(t, 0.0, CosineDistance(a, a), 1e-12)

	centroid := Centroid([][]float64{{1, 0}, {0, 1}})
	assert.InDelta(t, centroid[0], centroid[1], 1e-12)
	assert.InDelta(t, 1.0, CosineSimilarity(centroid, centroid), 1e-12)
}
