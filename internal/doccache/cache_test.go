package doccache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExtractor struct {
	calls atomic.Int32
	text  string
	err   error
}

func (c *countingExtractor) Extract(_ context.Context, _ string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return c.text, nil
}

func TestKeyForURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://wb2server.congreso.gob.pe/spley-portal-service/archivo/MTIzNDU=/pdf": "wb2server.congreso.gob.pe_spley-portal-service_archivo_MTIzNDU__pdf.txt",
		"http://example.org/a?b=c&d=e": "example.org_a_b_c_d_e.txt",
		"ftp://example.org/x":          "ftp___example.org_x.txt",
		"example.org/plain_name-1.2":   "example.org_plain_name-1.2.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, KeyForURL(in), in)
	}
	assert.Equal(t, KeyForURL("https://a/b"), KeyForURL("http://a/b"))
}

func TestKeyForURLCapsLongKeys(t *testing.T) {
	t.Parallel()

	base := "https://wb2server.congreso.gob.pe/spley-portal-service/archivo/" + strings.Repeat("QUJD", 100)
	a, b := KeyForURL(base+"/pdf"), KeyForURL(base+"/doc")
	assert.Len(t, a, maxKeyLen+len(".txt"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, KeyForURL(base+"/pdf"))
}

func TestGetOrRenderExtractsOnce(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ext := &countingExtractor{text: "SI +++ NO ---"}
	cache, err := New(store, ext, nil)
	require.NoError(t, err)

	url := "https://example.org/archivo/MQ==/pdf"
	for i := 0; i < 3; i++ {
		text, err := cache.GetOrRender(context.Background(), url)
		require.NoError(t, err)
		assert.Equal(t, "SI +++ NO ---", text)
	}
	assert.Equal(t, int32(1), ext.calls.Load())

	require.NoError(t, os.Remove(store.Path(KeyForURL(url))))
	_, err = cache.GetOrRender(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestGetOrRenderConcurrentMissesShareExtraction(t *testing.T) {
	t.Parallel()

	ext := &countingExtractor{text: "body"}
	cache, err := New(NewMemoryStore(), ext, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := cache.GetOrRender(context.Background(), "https://example.org/doc")
			assert.NoError(t, err)
			assert.Equal(t, "body", text)
		}()
	}
	wg.Wait()
	// Late arrivals may re-check the store but never extract twice once it is filled.
	assert.LessOrEqual(t, ext.calls.Load(), int32(2))
	assert.GreaterOrEqual(t, ext.calls.Load(), int32(1))
}

func TestGetOrRenderExtractFailureIsNotCached(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ext := &countingExtractor{err: errors.New("tesseract crashed")}
	cache, err := New(store, ext, nil)
	require.NoError(t, err)

	_, err = cache.GetOrRender(context.Background(), "https://example.org/bad")
	require.Error(t, err)
	_, found, _ := store.Get(context.Background(), KeyForURL("https://example.org/bad"))
	assert.False(t, found)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &countingExtractor{}, nil)
	require.Error(t, err)
	_, err = New(NewMemoryStore(), nil, nil)
	require.Error(t, err)
}
