// Package frame defines the wire envelope exchanged between the controller
// and its workers over the persistent duplex socket channel.
package frame

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the purpose of a frame.
type Kind string

const (
	KindUnknown  Kind = "Unknown"
	KindHeartbeat Kind = "Heartbeat"
	KindRequest   Kind = "Request"
	KindResponse  Kind = "Response"
)

// Header is a case-insensitive multimap of header name to values, matching
// the wire format's `Headers` object (header name -> list of values).
type Header map[string][]string

// Set replaces any existing values for key with a single value.
func (h Header) Set(key, value string) {
	h[canonicalHeaderKey(key)] = []string{value}
}

// Add appends value to the list for key.
func (h Header) Add(key, value string) {
	k := canonicalHeaderKey(key)
	h[k] = append(h[k], value)
}

// Get returns the first value for key, or "".
func (h Header) Get(key string) string {
	v := h[canonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values for key.
func (h Header) Values(key string) []string {
	return h[canonicalHeaderKey(key)]
}

func canonicalHeaderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// URLDetails carries the parsed request URL; Path excludes the query string
// and is what the router treats as the resource key (spec: resource key is
// the request's path with query excluded).
type URLDetails struct {
	Uri      string   `json:"Uri"`
	Path     string   `json:"Path,omitempty"`
	Query    string   `json:"Query,omitempty"`
	Segments []string `json:"Segments,omitempty"`
}

// NewURLDetails parses raw (an absolute or path-only URL string) into a
// URLDetails, splitting the path into its non-empty segments.
func NewURLDetails(raw string) (*URLDetails, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("frame: parse url %q: %w", raw, err)
	}
	var segments []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return &URLDetails{
		Uri:      raw,
		Path:     u.Path,
		Query:    u.RawQuery,
		Segments: segments,
	}, nil
}

// Frame is the JSON envelope sent as a single binary transport message.
// Requests carry Method, Url, Headers, Data. Responses carry StatusCode,
// ContentType, Headers, Data. Heartbeats carry GUID/Type/TimestampUtc and
// the probed worker's id in WorkerID.
type Frame struct {
	GUID          string      `json:"GUID"`
	Type          Kind        `json:"Type"`
	TimestampUtc  time.Time   `json:"TimestampUtc"`
	ExpirationUtc *time.Time  `json:"ExpirationUtc,omitempty"`
	StatusCode    *int        `json:"StatusCode,omitempty"`
	Method        string      `json:"Method,omitempty"`
	ContentType   string      `json:"ContentType,omitempty"`
	Url           *URLDetails `json:"Url,omitempty"`
	Headers       Header      `json:"Headers"`
	Data          []byte      `json:"Data,omitempty"`

	// WorkerID is carried on Heartbeat frames so the receiver can attribute
	// the probe without a separate handshake lookup. On a Response frame it
	// is not sent over the wire by the worker (which is attributed by
	// socket, not by payload field) but is stamped by the controller after
	// receipt, to carry the owning worker's id out to the HTTP layer for
	// the x-worker response header.
	WorkerID string `json:"WorkerId,omitempty"`
}

// New returns a Frame of the given kind with a fresh correlation id and the
// current UTC timestamp.
func New(kind Kind) *Frame {
	return &Frame{
		GUID:         uuid.NewString(),
		Type:         kind,
		TimestampUtc: time.Now().UTC(),
		Headers:      make(Header),
	}
}

// NewHeartbeat builds a heartbeat frame carrying the id of the worker it is
// sent to.
func NewHeartbeat(workerID string) *Frame {
	f := New(KindHeartbeat)
	f.WorkerID = workerID
	return f
}

// WithExpiration sets ExpirationUtc to ttl past the frame's timestamp and
// returns the frame for chaining.
func (f *Frame) WithExpiration(ttl time.Duration) *Frame {
	exp := f.TimestampUtc.Add(ttl)
	f.ExpirationUtc = &exp
	return f
}

// Expired reports whether now is past the frame's ExpirationUtc. A frame
// with no expiration never expires.
func (f *Frame) Expired(now time.Time) bool {
	return f.ExpirationUtc != nil && now.After(*f.ExpirationUtc)
}

// SetStatusCode validates code is in [100,599] and sets it.
func (f *Frame) SetStatusCode(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("frame: status code %d out of range [100,599]", code)
	}
	f.StatusCode = &code
	return nil
}

// Encode marshals the frame to JSON bytes for sending as a single binary
// transport message.
func (f *Frame) Encode() ([]byte, error) {
	if f.Headers == nil {
		f.Headers = make(Header)
	}
	return json.Marshal(f)
}

// Decode parses a wire message into a Frame. Unknown fields are ignored by
// encoding/json by default; missing optionals are left at their zero value.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("frame: decode: %w", err)
	}
	if f.Headers == nil {
		f.Headers = make(Header)
	}
	if f.Type == "" {
		f.Type = KindUnknown
	}
	return &f, nil
}
