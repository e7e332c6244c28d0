package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
)

// scriptedBackend returns canned replies without any network.
type scriptedBackend struct {
	name      string
	available bool
	reply     string
	err       error
	prompts   []string
}

func (b *scriptedBackend) Name() string                        { return b.name }
func (b *scriptedBackend) IsAvailable(context.Context) bool    { return b.available }
func (b *scriptedBackend) Generate(_ context.Context, p string) (string, error) {
	b.prompts = append(b.prompts, p)
	return b.reply, b.err
}

func TestSelectorSwap(t *testing.T) {
	first := &scriptedBackend{name: "first", available: true}
	second := &scriptedBackend{name: "second", available: true}

	sel := NewSelector(first)
	cur, err := sel.Current()
	require.NoError(t, err)
	assert.Equal(t, "first", cur.Name())

	sel.Select(second)
	cur, err = sel.Current()
	require.NoError(t, err)
	assert.Equal(t, "second", cur.Name())
}

func TestSelectorEmpty(t *testing.T) {
	sel := NewSelector(nil)
	_, err := sel.Current()
	assert.Error(t, err)
}

func TestSelectorConcurrentReads(t *testing.T) {
	sel := NewSelector(&scriptedBackend{name: "a", available: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				backend, err := sel.Current()
				require.NoError(t, err)
				require.NotEmpty(t, backend.Name())
			}
		}()
	}
	for i := 0; i < 100; i++ {
		sel.Select(&scriptedBackend{name: "b", available: true})
	}
	wg.Wait()
}

func TestClassifierSuggestCategory(t *testing.T) {
	cats := testCategories()
	req := CategoryRequest{
		RepresentativeLabel: "SNCF INTERNET",
		Samples: []model.TransactionSnapshot{
			{ID: "t1", LabelRaw: "SNCF INTERNET", Amount: -45.20, Date: "2026-02-10"},
		},
		Categories: cats,
	}

	t.Run("usable reply", func(t *testing.T) {
		backend := &scriptedBackend{
			name:      "scripted",
			available: true,
			reply:     `{"category_id": 7, "category_name": "Transport", "confidence": "high", "explanation": "billets de train"}`,
		}
		c := NewClassifier(NewSelector(backend), nil)

		s, err := c.SuggestCategory(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, int64(7), s.CategoryID)
		assert.Equal(t, model.SourceLLM, s.Source)

		require.Len(t, backend.prompts, 1)
		assert.Contains(t, backend.prompts[0], "SNCF INTERNET")
		assert.Contains(t, backend.prompts[0], "7: Transport")
		assert.Contains(t, backend.prompts[0], "Alimentation > Courses")
	})

	t.Run("unusable reply is not an error", func(t *testing.T) {
		backend := &scriptedBackend{name: "scripted", available: true, reply: "aucune idée"}
		c := NewClassifier(NewSelector(backend), nil)

		s, err := c.SuggestCategory(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("empty category list rejected", func(t *testing.T) {
		backend := &scriptedBackend{name: "scripted", available: true}
		c := NewClassifier(NewSelector(backend), nil)

		_, err := c.SuggestCategory(context.Background(), CategoryRequest{RepresentativeLabel: "X"})
		assert.Error(t, err)
	})

	t.Run("dead backend reports provider unavailable", func(t *testing.T) {
		backend := &scriptedBackend{
			name:      "scripted",
			available: true,
			err:       &common.RetryableError{Err: errors.New("connection refused"), Retryable: false},
		}
		c := NewClassifier(NewSelector(backend), nil)

		_, err := c.SuggestCategory(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	})
}

func TestClassifierSuggestSplit(t *testing.T) {
	cats := testCategories()
	req := SplitRequest{
		RepresentativeLabel: "PAIEMENT CB DIVERS",
		Transactions: []model.TransactionSnapshot{
			{ID: "t1", LabelRaw: "CARREFOUR MARKET", Amount: -31.10, Date: "2026-01-03"},
			{ID: "t2", LabelRaw: "CARREFOUR CITY", Amount: -12.40, Date: "2026-01-09"},
			{ID: "t3", LabelRaw: "SNCF INTERNET", Amount: -45.00, Date: "2026-01-15"},
		},
		Categories: cats,
	}

	t.Run("partition returned", func(t *testing.T) {
		backend := &scriptedBackend{
			name:      "scripted",
			available: true,
			reply: `{"groups": [
				{"representative_label": "CARREFOUR", "category_id": 3, "transaction_ids": ["t1", "t2"]},
				{"representative_label": "SNCF", "category_id": 7, "transaction_ids": ["t3"]}
			]}`,
		}
		c := NewClassifier(NewSelector(backend), nil)

		raw, groups, err := c.SuggestSplit(context.Background(), req)
		require.NoError(t, err)
		assert.NotEmpty(t, raw)
		require.Len(t, groups, 2)
		assert.Equal(t, []string{"t1", "t2"}, groups[0].TransactionIDs)

		require.Len(t, backend.prompts, 1)
		assert.Contains(t, backend.prompts[0], "id=t3")
	})

	t.Run("homogeneous cluster yields nil groups with raw reply", func(t *testing.T) {
		backend := &scriptedBackend{
			name:      "scripted",
			available: true,
			reply:     `{"groups": [{"representative_label": "TOUT", "transaction_ids": ["t1", "t2", "t3"]}]}`,
		}
		c := NewClassifier(NewSelector(backend), nil)

		raw, groups, err := c.SuggestSplit(context.Background(), req)
		require.NoError(t, err)
		assert.NotEmpty(t, raw)
		assert.Nil(t, groups)
	})

	t.Run("too few transactions rejected", func(t *testing.T) {
		backend := &scriptedBackend{name: "scripted", available: true}
		c := NewClassifier(NewSelector(backend), nil)

		_, _, err := c.SuggestSplit(context.Background(), SplitRequest{
			RepresentativeLabel: "X",
			Transactions:        req.Transactions[:1],
			Categories:          cats,
		})
		assert.Error(t, err)
	})
}

func TestOllamaBackend(t *testing.T) {
	t.Run("availability probes tags", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/tags", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "mistral:latest"}},
			})
		}))
		defer server.Close()

		backend, err := NewBackend(Config{Provider: "ollama", BaseURL: server.URL, Model: "mistral"})
		require.NoError(t, err)
		assert.True(t, backend.IsAvailable(context.Background()))
	})

	t.Run("availability false when model missing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "llama3:latest"}},
			})
		}))
		defer server.Close()

		backend, err := NewBackend(Config{Provider: "ollama", BaseURL: server.URL, Model: "mistral"})
		require.NoError(t, err)
		assert.False(t, backend.IsAvailable(context.Background()))
	})

	t.Run("generate posts prompt", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/generate", r.URL.Path)
			var body struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
				Stream bool   `json:"stream"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "mistral", body.Model)
			assert.False(t, body.Stream)
			assert.True(t, strings.Contains(body.Prompt, "bonjour"))
			_ = json.NewEncoder(w).Encode(map[string]string{"response": "salut"})
		}))
		defer server.Close()

		backend, err := NewBackend(Config{Provider: "ollama", BaseURL: server.URL, Model: "mistral"})
		require.NoError(t, err)

		reply, err := backend.Generate(context.Background(), "bonjour")
		require.NoError(t, err)
		assert.Equal(t, "salut", reply)
	})
}

func TestNewBackendUnknownProvider(t *testing.T) {
	_, err := NewBackend(Config{Provider: "bard"})
	assert.Error(t, err)
}
