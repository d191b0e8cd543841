package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// SSEScript describes one scripted server-sent chunk. Delay is applied before
// the chunk is written, so stall and throttle behavior can be exercised.
type SSEScript struct {
	Delay time.Duration
	Data  string // written as "data: <Data>\n\n"
	Raw   string // written verbatim when set, bypassing SSE framing
}

// SSEServer starts an httptest server that replays the given script for every
// request. Each chunk is flushed individually so the client sees the same
// fragmentation a real proxy chain would produce. The server is torn down via
// t.Cleanup.
func SSEServer(t *testing.T, script []SSEScript) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not support flushing")
			return
		}
		for _, chunk := range script {
			if chunk.Delay > 0 {
				select {
				case <-time.After(chunk.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if chunk.Raw != "" {
				_, _ = w.Write([]byte(chunk.Raw))
			} else {
				_, _ = w.Write([]byte("data: " + chunk.Data + "\n\n"))
			}
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// SSEFailServer starts an httptest server that answers every request with the
// given status and JSON error body.
func SSEFailServer(t *testing.T, status int, message string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":` + quoteJSON(message) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, c)
		}
	}
	return string(append(out, '"'))
}
