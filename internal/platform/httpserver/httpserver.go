package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. The write
// timeout leaves room for the proof backend's full budget.
func New(addr string, handler http.Handler, readHeaderTimeout, attestBudget time.Duration) *http.Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      attestBudget + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
