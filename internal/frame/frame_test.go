package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New(KindRequest)
	f.Method = "POST"
	f.ContentType = "application/json"
	f.Headers.Set("X-Trace", "abc")
	f.Data = []byte(`{"hello":"world"}`)

	url, err := NewURLDetails("http://controller.local/api/users?x=1")
	require.NoError(t, err)
	f.Url = url

	raw, err := f.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, f.GUID, decoded.GUID)
	assert.Equal(t, f.Type, decoded.Type)
	assert.Equal(t, f.Method, decoded.Method)
	assert.Equal(t, f.ContentType, decoded.ContentType)
	assert.Equal(t, f.Data, decoded.Data)
	assert.Equal(t, "abc", decoded.Headers.Get("x-trace"))
	assert.Equal(t, f.Url.Path, decoded.Url.Path)
}

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("Content-Type", "text/plain")
	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))

	h.Add("X-Multi", "a")
	h.Add("x-multi", "b")
	assert.Equal(t, []string{"a", "b"}, h.Values("X-MULTI"))
}

func TestURLDetailsSplitsSegmentsAndDropsQuery(t *testing.T) {
	u, err := NewURLDetails("http://host/api/users/42?x=1&y=2")
	require.NoError(t, err)
	assert.Equal(t, "/api/users/42", u.Path)
	assert.Equal(t, "x=1&y=2", u.Query)
	assert.Equal(t, []string{"api", "users", "42"}, u.Segments)
}

func TestSetStatusCodeBoundaries(t *testing.T) {
	f := New(KindResponse)
	require.NoError(t, f.SetStatusCode(100))
	require.NoError(t, f.SetStatusCode(599))
	assert.Error(t, f.SetStatusCode(99))
	assert.Error(t, f.SetStatusCode(600))
}

func TestExpired(t *testing.T) {
	f := New(KindResponse)
	f.TimestampUtc = time.Now().UTC().Add(-time.Hour)
	f.WithExpiration(time.Minute)
	assert.True(t, f.Expired(time.Now().UTC()))

	f2 := New(KindResponse)
	assert.False(t, f2.Expired(time.Now().UTC()))
}

func TestDecodeDefaultsUnknownKind(t *testing.T) {
	f, err := Decode([]byte(`{"GUID":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, f.Type)
	assert.NotNil(t, f.Headers)
}
