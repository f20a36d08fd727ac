package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"

	"demoreel/internal/apperr"
	"demoreel/internal/config"
	"demoreel/internal/hmacauth"
	"demoreel/internal/jobs"
	"demoreel/internal/ledger"
	"demoreel/internal/logger"
	"demoreel/internal/metrics"
	"demoreel/internal/payment"
	"demoreel/internal/pipeline"
	"demoreel/internal/wallet"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Pipeline *pipeline.Pipeline
	Network  payment.Network
	Backend  pinger
	Ledger   ledger.Store
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

type Server struct {
	cfg        *config.AppConfig
	pipeline   *pipeline.Pipeline
	network    payment.Network
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metrics.Registry
	log        *slog.Logger

	rpcHealthFn     func(context.Context) error
	backendHealthFn func(context.Context) error
	ledgerHealthFn  func(context.Context) error

	mu      sync.Mutex
	session wallet.Session

	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

func NewServer(cfg *config.AppConfig, d Deps) *Server {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		pipeline: d.Pipeline,
		network:  d.Network,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.ControlSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics:    d.Metrics,
		log:        logger.Component(d.Logger, "server"),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}

	if d.Network != nil {
		s.rpcHealthFn = func(ctx context.Context) error { return payment.Ping(ctx, d.Network) }
	}
	if d.Backend != nil {
		s.backendHealthFn = d.Backend.Ping
	}
	if checker, ok := d.Ledger.(pinger); ok {
		s.ledgerHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Routes builds the control API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.hmac.Middleware)
			r.Post("/wallet/connect", s.handleConnect)
			r.Post("/videos", s.handleVideos)
		})
		r.Get("/status", s.handleStatus)
		r.Get("/payment/quote", s.handleQuote)
		r.Get("/payment/qr", s.handleQR)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Get("/health", s.handleHealth)
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, cancels any in-flight run and waits for it.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancelRuns()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

type connectResponse struct {
	Address string `json:"address"`
	Short   string `json:"short"`
}

type videoRequest struct {
	GithubURL string `json:"githubUrl"`
	Free      bool   `json:"free"`
}

type videoResponse struct {
	Status string `json:"status"`
	Free   bool   `json:"free"`
}

type quoteResponse struct {
	Recipient string `json:"recipient"`
	PriceWei  string `json:"priceWei"`
	ChainID   string `json:"chainId"`
	URI       string `json:"uri"`
}

type errorResponse struct {
	Error             string `json:"error"`
	Kind              string `json:"kind"`
	PaymentSignature  string `json:"paymentSignature,omitempty"`
	MoneyMayHaveMoved bool   `json:"moneyMayHaveMoved"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	session, err := s.pipeline.Connect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, connectResponse{Address: session.Address.Hex(), Short: session.Short()})
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	var payload videoRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := jobs.ValidateRepositoryURL(payload.GithubURL); err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if !payload.Free && !session.Connected() {
		s.writeError(w, apperr.ErrNoWalletSession)
		return
	}

	s.runs.Add(1)
	err := s.pipeline.Start(s.runCtx, session, pipeline.Request{GithubURL: payload.GithubURL, Free: payload.Free},
		func(out pipeline.Outcome, err error) {
			defer s.runs.Done()
			if err != nil {
				s.log.Warn("video request failed", "kind", apperr.Kind(err), "tx", apperr.Signature(err))
				return
			}
			s.log.Info("video ready", "job_id", out.JobID, "download_url", out.DownloadURL)
		})
	if err != nil {
		s.runs.Done()
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, videoResponse{Status: "started", Free: payload.Free})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Projector().View())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quote(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	q, err := s.quote(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	code, err := qrcode.New(q.URI, qrcode.Medium)
	if err != nil {
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code.Image(256)); err != nil {
		http.Error(w, "failed to encode QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// quote describes the fixed payment as an EIP-681 transfer URI.
func (s *Server) quote(ctx context.Context) (quoteResponse, error) {
	if s.network == nil {
		return quoteResponse{}, payment.ErrNetworkUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	chainID, err := s.network.ChainID(ctx)
	if err != nil {
		return quoteResponse{}, fmt.Errorf("%w: chain id: %v", payment.ErrNetworkUnavailable, err)
	}
	recipient := s.cfg.Payment.Recipient.Hex()
	price := s.cfg.Payment.PriceWei.String()
	return quoteResponse{
		Recipient: recipient,
		PriceWei:  price,
		ChainID:   chainID.String(),
		URI:       fmt.Sprintf("ethereum:%s@%s?value=%s", recipient, chainID, price),
	}, nil
}

type probe struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func runProbe(ctx context.Context, fn func(context.Context) error) probe {
	if fn == nil {
		return probe{Connected: true}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		return probe{Error: err.Error()}
	}
	return probe{Connected: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := struct {
		Status  string `json:"status"`
		RPC     probe  `json:"rpc"`
		Backend probe  `json:"backend"`
		Ledger  probe  `json:"ledger"`
		Busy    bool   `json:"busy"`
	}{
		RPC:     runProbe(ctx, s.rpcHealthFn),
		Backend: runProbe(ctx, s.backendHealthFn),
		Ledger:  runProbe(ctx, s.ledgerHealthFn),
		Busy:    s.pipeline.Projector().View().Busy,
	}

	code := http.StatusOK
	resp.Status = "healthy"
	if !resp.RPC.Connected || !resp.Backend.Connected || !resp.Ledger.Connected {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), errorResponse{
		Error:             apperr.Describe(err),
		Kind:              apperr.Kind(err),
		PaymentSignature:  apperr.Signature(err),
		MoneyMayHaveMoved: apperr.MoneyMayHaveMoved(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if strings.HasSuffix(r.URL.Path, "/metrics") {
			return
		}
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
