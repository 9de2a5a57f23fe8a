package smap

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilwatch/internal/types"
)

// recordingOpen returns an OpenFunc that captures the temp path it was
// handed and the bytes found there, then serves the given file.
func recordingOpen(t *testing.T, file DatasetFile, path *string, content *[]byte) OpenFunc {
	t.Helper()
	return func(p string) (DatasetFile, error) {
		*path = p
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		*content = data
		return file, nil
	}
}

func TestFetchDownloadsAndDecodes(t *testing.T) {
	payload := []byte("granule-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	file := newMemFile([]float64{0.12, 0.35}, []float64{10, 20}, []float64{30, 40})
	var tmpPath string
	var tmpContent []byte

	f := NewFetcher(FetcherConfig{
		Client:        srv.Client(),
		Open:          recordingOpen(t, file, &tmpPath, &tmpContent),
		SourceURL:     srv.URL + "/granule.h5",
		ChunkSize:     1000,
		FetchTimeout:  5 * time.Second,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	records, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, payload, tmpContent)
	assert.True(t, file.closed)

	// Temp file is gone once the run finishes.
	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchDecompressesGzipArtifacts(t *testing.T) {
	payload := []byte("inner-granule-bytes")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	file := newMemFile([]float64{0.5}, []float64{1}, []float64{2})
	var tmpPath string
	var tmpContent []byte

	f := NewFetcher(FetcherConfig{
		Client:        srv.Client(),
		Open:          recordingOpen(t, file, &tmpPath, &tmpContent),
		SourceURL:     srv.URL + "/granule.h5.gz",
		ChunkSize:     1000,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	records, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, payload, tmpContent)
}

func TestFetchNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{
		Client:        srv.Client(),
		SourceURL:     srv.URL + "/missing.h5",
		ChunkSize:     1000,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	_, err := f.Fetch(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeIngestionDownload, appErr.Code)
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f := NewFetcher(FetcherConfig{
		Client:        http.DefaultClient,
		SourceURL:     srv.URL + "/granule.h5",
		ChunkSize:     1000,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	_, err := f.Fetch(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeIngestionDownload, appErr.Code)
}

func TestFetchCleansUpTempFileOnDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	// Mismatched array lengths make Decode fail after download.
	file := newMemFile([]float64{0.1, 0.2}, []float64{1}, []float64{2, 3})
	var tmpPath string
	var tmpContent []byte

	f := NewFetcher(FetcherConfig{
		Client:        srv.Client(),
		Open:          recordingOpen(t, file, &tmpPath, &tmpContent),
		SourceURL:     srv.URL + "/granule.h5",
		ChunkSize:     1000,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	_, err := f.Fetch(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeIngestionDecode, appErr.Code)

	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchOpenFailureMapsToDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an hdf5 file"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{
		Client: srv.Client(),
		Open: func(p string) (DatasetFile, error) {
			return nil, assert.AnError
		},
		SourceURL:     srv.URL + "/granule.h5",
		ChunkSize:     1000,
		CompositeDate: mustDate(t, "2024-07-29"),
	})

	_, err := f.Fetch(context.Background())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeIngestionDecode, appErr.Code)
}
