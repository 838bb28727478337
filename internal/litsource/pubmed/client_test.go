package pubmed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/publications-pipeline/internal/litsource"
)

func testClient(t *testing.T, baseURL string, chunkSize int) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:    baseURL,
		MaxRetries: 0,
		RateLimit:  1000,
		BurstSize:  1000,
		ChunkSize:  chunkSize,
	}
	httpClient := litsource.NewHTTPClient(litsource.HTTPClientConfig{
		Timeout:   5 * time.Second,
		RateLimit: 1000,
		BurstSize: 1000,
	})
	client := NewWithHTTPClient(cfg, httpClient, zerolog.Nop())
	client.now = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return client
}

func esearchBody(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + id + `"`
	}
	return fmt.Sprintf(`{"esearchresult":{"count":"%d","idlist":[%s]}}`,
		len(ids), strings.Join(quoted, ","))
}

func esummaryBody(ids []string, record func(id string) string) string {
	quoted := make([]string, len(ids))
	entries := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + id + `"`
		entries[i] = fmt.Sprintf(`"%s":%s`, id, record(id))
	}
	return fmt.Sprintf(`{"result":{"uids":[%s],%s}}`,
		strings.Join(quoted, ","), strings.Join(entries, ","))
}

func basicRecord(id string) string {
	return fmt.Sprintf(`{
		"uid": "%s",
		"title": "Record %s",
		"pubdate": "2024 Jan 10",
		"epubdate": "2024 Jan 5",
		"sortpubdate": "2024/01/10 00:00",
		"source": "Kidney Int",
		"fulljournalname": "Kidney International",
		"authors": [{"name": "Smith J", "authtype": "Author"}],
		"articleids": [{"idtype": "doi", "value": "10.1000/%s"}]
	}`, id, id, id)
}

func efetchBody(abstracts map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><PubmedArticleSet>`)
	for id, text := range abstracts {
		fmt.Fprintf(&b, `<PubmedArticle><MedlineCitation><PMID>%s</PMID><Article><Abstract><AbstractText>%s</AbstractText></Abstract></Article></MedlineCitation></PubmedArticle>`, id, text)
	}
	b.WriteString(`</PubmedArticleSet>`)
	return b.String()
}

func TestClient_Fetch(t *testing.T) {
	t.Run("retrieves records with merged abstracts", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody([]string{"1001", "1002"}))
			case strings.Contains(r.URL.Path, "esummary"):
				fmt.Fprint(w, esummaryBody([]string{"1001", "1002"}, basicRecord))
			case strings.Contains(r.URL.Path, "efetch"):
				fmt.Fprint(w, efetchBody(map[string]string{
					"1001": "Background on dialysis outcomes.",
				}))
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		result, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		require.Len(t, result.Publications, 2)
		assert.Equal(t, 0, result.ChunksFailed)

		pub := result.Publications[0]
		assert.Equal(t, "1001", pub.PMID)
		assert.Equal(t, "Record 1001", pub.Title)
		assert.Equal(t, []string{"Smith J"}, pub.Authors)
		assert.Equal(t, "Kidney International", pub.Journal)
		assert.Equal(t, "10.1000/1001", pub.DOI)
		assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/1001/", pub.URL)
		assert.Equal(t, "Background on dialysis outcomes.", pub.Abstract)
		assert.Empty(t, result.Publications[1].Abstract)
	})

	t.Run("resolves most recent date from candidates", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody([]string{"2001"}))
			case strings.Contains(r.URL.Path, "esummary"):
				fmt.Fprint(w, esummaryBody([]string{"2001"}, func(id string) string {
					return `{"uid":"2001","title":"Dated","pubdate":"2024 Jan 10","epubdate":"2024 Mar 5","sortpubdate":"2024/01/10 00:00","source":"J Nephrol"}`
				}))
			case strings.Contains(r.URL.Path, "efetch"):
				fmt.Fprint(w, efetchBody(nil))
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		result, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		require.Len(t, result.Publications, 1)

		pub := result.Publications[0]
		assert.Equal(t, "2024-03-05", pub.PublishedAt)
		assert.Equal(t, 2024, pub.Year)
		assert.Equal(t, 3, pub.Month)
		assert.Equal(t, "March", pub.MonthName)
		// Journal falls back to the short source name.
		assert.Equal(t, "J Nephrol", pub.Journal)
	})

	t.Run("empty id list returns empty result without further calls", func(t *testing.T) {
		var summaryCalls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody(nil))
			default:
				summaryCalls.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		result, err := client.Fetch(context.Background(), "no matches", 10)
		require.NoError(t, err)
		assert.Empty(t, result.Publications)
		assert.Equal(t, int32(0), summaryCalls.Load())
	})

	t.Run("splits identifier batches at chunk size", func(t *testing.T) {
		ids := []string{"1", "2", "3", "4", "5"}
		var summaryCalls, fetchCalls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody(ids))
			case strings.Contains(r.URL.Path, "esummary"):
				summaryCalls.Add(1)
				chunk := strings.Split(r.URL.Query().Get("id"), ",")
				assert.LessOrEqual(t, len(chunk), 2)
				fmt.Fprint(w, esummaryBody(chunk, basicRecord))
			case strings.Contains(r.URL.Path, "efetch"):
				fetchCalls.Add(1)
				fmt.Fprint(w, efetchBody(nil))
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 2)
		result, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		assert.Len(t, result.Publications, 5)
		assert.Equal(t, int32(3), summaryCalls.Load())
		assert.Equal(t, int32(3), fetchCalls.Load())
	})

	t.Run("dropped summary chunk keeps remaining records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody([]string{"1", "2", "3", "4"}))
			case strings.Contains(r.URL.Path, "esummary"):
				chunk := strings.Split(r.URL.Query().Get("id"), ",")
				if chunk[0] == "1" {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				fmt.Fprint(w, esummaryBody(chunk, basicRecord))
			case strings.Contains(r.URL.Path, "efetch"):
				fmt.Fprint(w, efetchBody(nil))
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 2)
		result, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		require.Len(t, result.Publications, 2)
		assert.Equal(t, "3", result.Publications[0].PMID)
		assert.Equal(t, "4", result.Publications[1].PMID)
		assert.Equal(t, 1, result.ChunksFailed)
	})

	t.Run("failed abstract chunk keeps records without abstracts", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				fmt.Fprint(w, esearchBody([]string{"1", "2"}))
			case strings.Contains(r.URL.Path, "esummary"):
				fmt.Fprint(w, esummaryBody([]string{"1", "2"}, basicRecord))
			case strings.Contains(r.URL.Path, "efetch"):
				w.WriteHeader(http.StatusInternalServerError)
			}
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		result, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		require.Len(t, result.Publications, 2)
		assert.Empty(t, result.Publications[0].Abstract)
		assert.Equal(t, 1, result.ChunksFailed)
	})

	t.Run("search failure aborts the fetch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		_, err := client.Fetch(context.Background(), "dialysis", 10)
		require.Error(t, err)
	})

	t.Run("blank query is rejected", func(t *testing.T) {
		client := testClient(t, "http://unused", 0)
		_, err := client.Fetch(context.Background(), "   ", 10)
		require.Error(t, err)
	})

	t.Run("api key is sent when configured", func(t *testing.T) {
		var sawKey atomic.Bool
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("api_key") == "test-key" {
				sawKey.Store(true)
			}
			fmt.Fprint(w, esearchBody(nil))
		}))
		defer server.Close()

		client := testClient(t, server.URL, 0)
		client.config.APIKey = "test-key"
		_, err := client.Fetch(context.Background(), "dialysis", 10)
		require.NoError(t, err)
		assert.True(t, sawKey.Load())
	})
}

func TestParseESummary(t *testing.T) {
	t.Run("skips undecodable records", func(t *testing.T) {
		body := `{"result":{"uids":["1","2"],"1":` + basicRecord("1") + `,"2":"not an object"}}`
		result, err := parseESummary([]byte(body))
		require.NoError(t, err)
		require.Len(t, result.Summaries, 1)
		assert.Equal(t, "Record 1", result.Summaries["1"].Title)
	})

	t.Run("empty result object", func(t *testing.T) {
		result, err := parseESummary([]byte(`{}`))
		require.NoError(t, err)
		assert.Empty(t, result.Summaries)
	})
}

func TestChunkIDs(t *testing.T) {
	assert.Nil(t, chunkIDs(nil, 2))
	assert.Len(t, chunkIDs([]string{"1", "2", "3"}, 2), 2)
	assert.Len(t, chunkIDs([]string{"1", "2"}, 2), 1)
}

func TestJoinAbstract(t *testing.T) {
	t.Run("single unlabeled section", func(t *testing.T) {
		got := joinAbstract([]abstractText{{Value: " plain text "}})
		assert.Equal(t, "plain text", got)
	})

	t.Run("labeled sections are prefixed", func(t *testing.T) {
		got := joinAbstract([]abstractText{
			{Label: "BACKGROUND", Value: "First."},
			{Label: "RESULTS", Value: "Second."},
		})
		assert.Equal(t, "BACKGROUND: First. RESULTS: Second.", got)
	})

	t.Run("empty sections are dropped", func(t *testing.T) {
		got := joinAbstract([]abstractText{{Label: "METHODS", Value: "  "}, {Value: "Tail."}})
		assert.Equal(t, "Tail.", got)
	})
}
