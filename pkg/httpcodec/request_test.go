package httpcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestGetWithQuery(t *testing.T) {
	raw := "GET /images?north=55.9&south=55.7&east=37.8&west=37.5 HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"\r\n"

	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/images", req.Path)
	assert.Equal(t, "55.9", req.Query.Get("north"))
	assert.Equal(t, "37.5", req.Query.Get("west"))
}

func TestParseRequestHeaderWithoutSingleSpace(t *testing.T) {
	// The original source's parser always skips exactly two bytes after
	// the colon ("+2 чтобы пропустить \": \""); a value separated from
	// the colon by no space, or more than one, would be mis-sliced
	// there. This parser must handle both.
	raw := "POST /upload HTTP/1.1\r\n" +
		"X-Spectrum:B02\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"data"

	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "B02", req.Header("X-Spectrum"))
	assert.Equal(t, []byte("data"), req.Body)
}

func TestParseRequestHeaderCaseInsensitiveLookup(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nx-spectrum: B04\r\n\r\n"
	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "B04", req.Header("X-Spectrum"))
}

func TestParseRequestMalformedLineErrors(t *testing.T) {
	_, err := ParseRequest([]byte("GET\r\n\r\n"))
	assert.Error(t, err)
}

func TestParseRequestReadsBodyByContentLength(t *testing.T) {
	raw := "POST /tiles HTTP/1.1\r\nContent-Length: 11\r\n\r\n" + "hello worldTRAILING_GARBAGE"
	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(req.Body))
}
