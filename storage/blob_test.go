package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/core/config"
)

func TestNewBlobClientDisabledWithoutEndpoint(t *testing.T) {
	assert.Nil(t, NewBlobClient(config.StorageConfig{Bucket: "receipts"}))
}

func TestBlobClientPut(t *testing.T) {
	var gotPath, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBlobClient(config.StorageConfig{
		Endpoint: srv.URL,
		Bucket:   "receipts",
		APIKey:   "secret",
	})
	require.NotNil(t, c)

	ref, err := c.Put(context.Background(), "receipts/2026/09/01/payment_x.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "/object/receipts/receipts/2026/09/01/payment_x.jpg", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, srv.URL+"/object/public/receipts/receipts/2026/09/01/payment_x.jpg", ref)
}

func TestBlobClientPutServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewBlobClient(config.StorageConfig{Endpoint: srv.URL, Bucket: "receipts"})
	_, err := c.Put(context.Background(), "p.jpg", "image/jpeg", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsTransient(err), "5xx should read as transient")
}

func TestBlobClientPutClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such bucket", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBlobClient(config.StorageConfig{Endpoint: srv.URL, Bucket: "receipts"})
	_, err := c.Put(context.Background(), "p.jpg", "image/jpeg", []byte("x"))
	require.Error(t, err)
	assert.False(t, IsTransient(err), "4xx is a configuration problem, not worth a retry")
}

func TestLocalSinkPut(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewLocalSink(dir)
	require.NoError(t, err)

	ref, err := sink.Put(context.Background(), "receipts/2026/09/01/payment_x.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)

	full := filepath.Join(dir, "receipts", "payment_x.jpg")
	assert.Equal(t, "file://"+full, ref)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}
