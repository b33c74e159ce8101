package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"lotterychain/core/host"
	lcrypto "lotterychain/crypto"
	"lotterychain/native/lottery"
)

// Config defines the HTTP surface.
type Config struct {
	AllowAirdrop       bool
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server exposes the lottery host over HTTP.
type Server struct {
	cfg     Config
	host    *host.Host
	logger  *slog.Logger
	limiter *rate.Limiter
	router  chi.Router
}

// New constructs the server and its routes.
func New(cfg Config, h *host.Host, logger *slog.Logger) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("host required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, host: h, logger: logger}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/ledger", s.handleLedger)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/accounts/{id}", s.handleBalance)
		r.Post("/accounts/{id}/airdrop", s.handleAirdrop)
		r.Post("/instructions", s.handleInstruction)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// LedgerView is the JSON rendering of the ledger.
type LedgerView struct {
	Capacity     uint32            `json:"capacity"`
	State        string            `json:"state"`
	Winner       string            `json:"winner,omitempty"`
	StartTime    uint64            `json:"startTime"`
	Participants []ParticipantView `json:"participants"`
	Total        uint64            `json:"total"`
	Available    bool              `json:"available"`
	RegionSize   int               `json:"regionSize"`
	Vault        lottery.Identity  `json:"vault"`
	Owner        lottery.Identity  `json:"owner"`
}

// ParticipantView is one participant entry.
type ParticipantView struct {
	Identity lottery.Identity `json:"identity"`
	Amount   uint64           `json:"amount"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	l, err := s.host.Ledger()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	total, err := l.Total()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	size, err := s.host.RegionSize()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	view := LedgerView{
		Capacity:     l.Capacity,
		State:        l.State.String(),
		StartTime:    l.StartTime,
		Participants: make([]ParticipantView, 0, len(l.Participants)),
		Total:        total,
		Available:    l.Available(),
		RegionSize:   size,
		Vault:        s.host.Vault(),
		Owner:        s.host.Owner(),
	}
	if !l.Winner.IsZero() {
		view.Winner = l.Winner.Hex()
	}
	for _, p := range l.Participants {
		view.Participants = append(view.Participants, ParticipantView{Identity: p.Identity, Amount: p.Amount})
	}
	writeJSON(w, http.StatusOK, view)
}

type balanceResponse struct {
	Identity lottery.Identity `json:"identity"`
	Balance  uint64           `json:"balance"`
	Nonce    uint64           `json:"nonce"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := lottery.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := s.host.Balance(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	nonce, err := s.host.Nonce(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: id, Balance: bal, Nonce: nonce})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.host.Accounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if accounts == nil {
		accounts = []host.AccountBalance{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

type airdropRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AllowAirdrop {
		writeError(w, http.StatusForbidden, errors.New("airdrop disabled"))
		return
	}
	id, err := lottery.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req airdropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	bal, err := s.host.Credit(id, req.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	nonce, err := s.host.Nonce(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: id, Balance: bal, Nonce: nonce})
}

// InstructionRequest submits a raw instruction payload signed by the caller's
// key over (nonce, payload). The caller is whoever the signature recovers to.
type InstructionRequest struct {
	Payload   string `json:"payload"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	var req InstructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	payload, err := decodeHex(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode payload: %w", err))
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode signature: %w", err))
		return
	}
	receipt, err := s.host.Submit(r.Context(), host.SignedInstruction{
		Payload:   payload,
		Nonce:     req.Nonce,
		Signature: sig,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lcrypto.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, host.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, host.ErrNonceMismatch):
		return http.StatusConflict
	case errors.Is(err, host.ErrLedgerNotAllocated):
		return http.StatusNotFound
	case errors.Is(err, lottery.ErrInvalidPayload), errors.Is(err, lottery.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, lottery.ErrInvalidState),
		errors.Is(err, lottery.ErrCapacityExceeded),
		errors.Is(err, lottery.ErrEmptyPool),
		errors.Is(err, lottery.ErrWinnerUnset):
		return http.StatusConflict
	case errors.Is(err, host.ErrInsufficientFunds),
		errors.Is(err, lottery.ErrInsufficientBalance),
		errors.Is(err, lottery.ErrAmountOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
