// Package web provides the HTTP command adapter and status page for the
// door-opener daemon.
package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/door-opener/internal/arbiter"
	"github.com/sweeney/door-opener/internal/logic"
	"github.com/sweeney/door-opener/internal/status"
)

// Arbiter is the part of the trigger arbiter the HTTP adapter drives.
type Arbiter interface {
	RequestPulse(req logic.PulseRequest) (arbiter.Result, error)
	State() logic.RelayState
}

// Options configures a Server.
type Options struct {
	// TriggerRatePerMin limits POST /trigger across all clients. Zero
	// disables the limit.
	TriggerRatePerMin int
	TriggerBurst      int

	// Now is used to timestamp requests. Defaults to time.Now.
	Now func() time.Time
}

// Server serves trigger requests, relay state and the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	arb        Arbiter
	now        func() time.Time
}

// New creates a Server that drives arb and reads status from tracker.
func New(addr string, tracker *status.Tracker, arb Arbiter, opts Options) *Server {
	s := &Server{tracker: tracker, arb: arb, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}

	var trigger http.Handler = http.HandlerFunc(s.handleTrigger)
	if opts.TriggerRatePerMin > 0 {
		trigger = rateLimit(opts.TriggerRatePerMin, opts.TriggerBurst, trigger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/state", s.handleState)
	mux.Handle("/trigger", trigger)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's request handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// rateLimit rejects requests with 429 once the shared token bucket is empty.
// There is one relay, so the limit is global rather than per client.
func rateLimit(perMin, burst int, next http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perMin)/60.0, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			log.Printf("web: trigger from %s rate limited", r.RemoteAddr)
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	state := s.arb.State()
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, StateResponse{State: string(state)})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(string(state) + "\n"))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	d, err := parseDuration(r)
	if err != nil {
		log.Printf("web: dropped trigger from %s: %v", r.RemoteAddr, err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	req := logic.NewPulseRequest(logic.SourceHTTP, d, s.now())
	res, err := s.arb.RequestPulse(req)
	if err == nil {
		writeJSON(w, http.StatusOK, TriggerResponse{
			State:      string(res.State),
			RequestID:  res.RequestID,
			DurationMs: res.Duration.Milliseconds(),
		})
		return
	}

	resp := ErrorResponse{Error: err.Error(), RequestID: req.ID}
	var rej *arbiter.Rejected
	switch {
	case errors.As(err, &rej):
		resp.Reason = string(rej.Reason)
		writeJSON(w, rejectionStatus(rej.Reason), resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func rejectionStatus(reason arbiter.Reason) int {
	switch reason {
	case arbiter.ReasonBusy:
		return http.StatusConflict
	case arbiter.ReasonOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// parseDuration reads the optional duration_ms query or form value.
func parseDuration(r *http.Request) (time.Duration, error) {
	if err := r.ParseForm(); err != nil {
		return 0, errMalformed("malformed form")
	}
	v := strings.TrimSpace(r.Form.Get("duration_ms"))
	if v == "" {
		return 0, nil
	}
	ms, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errMalformed("duration_ms must be a non-negative integer")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
