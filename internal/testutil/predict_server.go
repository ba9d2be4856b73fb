// predict_server.go - Stand-in for the remote prediction API
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// PredictServer counts every request it receives before delegating.
type PredictServer struct {
	*httptest.Server
	requests int32
}

// NewPredictServer starts a server that answers with handler.
func NewPredictServer(handler http.HandlerFunc) *PredictServer {
	s := &PredictServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requests, 1)
		handler(w, r)
	}))
	return s
}

// Endpoint is the URL to configure as the prediction endpoint.
func (s *PredictServer) Endpoint() string {
	return s.URL + "/predict"
}

// Requests reports how many requests have arrived.
func (s *PredictServer) Requests() int {
	return int(atomic.LoadInt32(&s.requests))
}

// RespondJSON answers every request with status and body.
func RespondJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

// ResetConnection drops the connection without writing a response.
func ResetConnection(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}
