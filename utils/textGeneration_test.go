package utils

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestTextGenerator_GenerateText(t *testing.T) {
	var gotAuth string
	var gotBody textGenerationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Synthèse générée  "}`))
	}))
	defer srv.Close()

	g := NewRestTextGenerator(srv.URL, "secret", logrus.New())
	text, err := g.GenerateText(context.Background(), "write the synthesis")
	require.NoError(t, err)
	assert.Equal(t, "Synthèse générée", text)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "write the synthesis", gotBody.Prompt)
}

func TestRestTextGenerator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"prompt too long"}`))
	}))
	defer srv.Close()

	g := NewRestTextGenerator(srv.URL, "", logrus.New())
	_, err := g.GenerateText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt too long")
}

func TestRestTextGenerator_EmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	g := NewRestTextGenerator(srv.URL, "", logrus.New())
	_, err := g.GenerateText(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewRestTextGeneratorFromEnv_Unset(t *testing.T) {
	t.Setenv("TEXT_GENERATION_URL", "")
	assert.Nil(t, NewRestTextGeneratorFromEnv(logrus.New()))
}
