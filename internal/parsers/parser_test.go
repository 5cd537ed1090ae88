package parsers

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold-chat/core/internal/apperr"
)

func TestFactory_PlainText(t *testing.T) {
	t.Parallel()
	f := NewFactory()

	text, meta, err := f.ParseSync([]byte("hello\nworld\n"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", text)
	assert.Equal(t, "plain_text", meta["parser_name"])
	assert.Equal(t, "notes.txt", meta["filename"])
	assert.Equal(t, ".txt", meta["file_extension"])
}

func TestFactory_UnsupportedExtension(t *testing.T) {
	t.Parallel()
	f := NewFactory()
	_, _, err := f.ParseSync([]byte("data"), "archive.zip")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.UnsupportedFormat))
}

func TestFactory_EmptyInput(t *testing.T) {
	t.Parallel()
	f := NewFactory()
	_, _, err := f.ParseSync(nil, "empty.txt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ParseFailed))
}

func TestFactory_DocxRoundTrip(t *testing.T) {
	t.Parallel()
	f := NewFactory()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="ns"><w:body><w:p><w:r><w:t>Hello from docx</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	text, meta, err := f.ParseSync(buf.Bytes(), "report.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello from docx")
	assert.Equal(t, "word", meta["parser_name"])
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()
	pool := NewPool(NewFactory(), 2)
	ctx := context.Background()

	results := make(chan Result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			results <- pool.Submit(ctx, []byte("some text content"), "f.txt")
		}()
	}
	for i := 0; i < 4; i++ {
		r := <-results
		require.NoError(t, r.Err)
		assert.Equal(t, "some text content", r.Text)
	}
}

func TestPool_CancelledContext(t *testing.T) {
	t.Parallel()
	pool := &Pool{factory: NewFactory(), sem: make(chan struct{}, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := pool.Submit(ctx, []byte("x"), "f.txt")
	require.Error(t, r.Err)
	assert.True(t, apperr.Is(r.Err, apperr.Cancelled))
}
