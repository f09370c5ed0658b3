package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReport(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		texts []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		mu.Lock()
		texts = append(texts, r.PostForm.Get("text"))
		mu.Unlock()
	}))
	defer server.Close()

	n := NewNotifier("token", "42")
	n.apiBase = server.URL

	require.NoError(t, n.PublishReport(context.Background(), "Ingestion report\n- tim_ferriss/blog: 3 accepted\n"))
	require.Len(t, texts, 1)
	assert.Equal(t, "Ingestion report\n- tim_ferriss/blog: 3 accepted", texts[0])
}

func TestPublishReportErrors(t *testing.T) {
	t.Parallel()

	assert.Error(t, NewNotifier("", "").PublishReport(context.Background(), "x"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotifier("token", "42")
	n.apiBase = server.URL
	err := n.PublishReport(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitMessage("  \n", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two\n", 12))

	long := strings.Repeat("é", 25)
	parts := splitMessage(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}
