package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "stakefarm/native/common"
	"stakefarm/native/farm"
	"stakefarm/observability"
	"stakefarm/services/farmd/custody"
	"stakefarm/services/farmd/journal"
)

const maxBodyBytes = 1 << 16

// EventLog is the journal surface served over HTTP.
type EventLog interface {
	List(ctx context.Context, after uint64, limit int) ([]journal.Entry, error)
	ExportParquet(ctx context.Context, path string) (int, error)
}

// Auditor runs the invariant audit on demand.
type Auditor interface {
	RunOnce(ctx context.Context) error
}

// Config wires the HTTP surface.
type Config struct {
	Service       *Service
	Journal       EventLog
	Hub           *Hub
	Auditor       Auditor
	Pauses        *nativecommon.PauseSet
	Authenticator *Authenticator
	RateLimiter   *RateLimiter
	Metrics       *observability.APIMetrics
	ExportDir     string
	Logger        *slog.Logger
}

type api struct {
	cfg    Config
	svc    *Service
	logger *slog.Logger
}

// New builds the daemon router.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = NewAuthenticator(AuthConfig{}, logger)
	}
	a := &api{cfg: cfg, svc: cfg.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(a.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(cfg.RateLimiter.Middleware("v1"))

		v1.Get("/totals", a.handleTotals)
		v1.Get("/pools", a.handlePools)
		v1.Get("/pools/{pid}", a.handlePool)
		v1.Get("/pools/{pid}/weight", a.handleWeight)
		v1.Get("/pools/{pid}/positions/{who}", a.handlePosition)
		v1.Get("/pools/{pid}/pending/{who}", a.handlePending)
		v1.Get("/balances/{asset}/{who}", a.handleBalance)
		v1.Get("/events", a.handleEvents)
		if cfg.Hub != nil {
			v1.Handle("/events/ws", cfg.Hub)
		}

		v1.Group(func(stake chi.Router) {
			stake.Use(cfg.Authenticator.Middleware(ScopeStake))
			stake.Post("/pools/{pid}/deposit", a.handleDeposit)
			stake.Post("/pools/{pid}/withdraw", a.handleWithdraw)
			stake.Post("/pools/{pid}/harvest", a.handleHarvest)
			stake.Post("/pools/{pid}/emergency-withdraw", a.handleEmergencyWithdraw)
		})

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(cfg.Authenticator.Middleware(ScopeAdmin))
			admin.Post("/pools", a.handleAddPool)
			admin.Put("/pools/{pid}", a.handleSetPool)
			admin.Put("/pools/{pid}/weight", a.handleSetWeight)
			admin.Put("/pools/{pid}/rate", a.handleSetRate)
			admin.Post("/pools/{pid}/allocate", a.handleAllocate)
			admin.Post("/pools/{pid}/migrate", a.handleMigrate)
			admin.Post("/pools/update", a.handleUpdatePools)
			admin.Post("/credit", a.handleCredit)
			admin.Put("/pause", a.handlePause)
			admin.Post("/audit", a.handleAudit)
			admin.Post("/journal/export", a.handleExport)
		})
	})

	return otelhttp.NewHandler(r, "farmd")
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack lets the websocket stream take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		a.cfg.Metrics.Observe(route, r.Method, recorder.status, elapsed)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		a.logger.Debug("farmd: request",
			slog.String("route", route),
			slog.String("method", r.Method),
			slog.Int("status", recorder.status),
			slog.String("request_id", id),
			slog.Duration("duration", elapsed))
	})
}

// statusFor maps engine and custody errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, farm.ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, farm.ErrInvalidAmount),
		errors.Is(err, farm.ErrInvalidAsset),
		errors.Is(err, farm.ErrAmountOverflow),
		errors.Is(err, farm.ErrZeroTotalWeight):
		return http.StatusBadRequest
	case errors.Is(err, farm.ErrInsufficientStake),
		errors.Is(err, farm.ErrInsufficientBalance),
		errors.Is(err, farm.ErrMigrationBalanceMismatch),
		errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, ErrRewardShortfall),
		errors.Is(err, ErrStakeAssetInUse):
		return http.StatusConflict
	case errors.Is(err, farm.ErrNoMigratorConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, farm.ErrRateUnavailable),
		errors.Is(err, farm.ErrSupplyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("farmd: request failed", slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func poolParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pool id %q", raw)
	}
	return pid, nil
}

func (a *api) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := a.svc.Engine().Totals()
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsFrom(totals))
}

func (a *api) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := a.svc.Engine().Pools()
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, poolFrom(pool))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handlePool(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := a.svc.Engine().Pool(pid)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolFrom(pool))
}

func (a *api) handleWeight(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pct, err := a.svc.Engine().WeightPercentage(pid)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weightResponse{Pool: pid, Percentage: pct})
}

func (a *api) handlePosition(w http.ResponseWriter, r *http.Request) {
	pid, who, ok := a.poolAndParty(w, r)
	if !ok {
		return
	}
	pos, err := a.svc.Engine().Position(pid, who)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionFrom(pos))
}

func (a *api) handlePending(w http.ResponseWriter, r *http.Request) {
	pid, who, ok := a.poolAndParty(w, r)
	if !ok {
		return
	}
	pending, err := a.svc.PendingReward(r.Context(), pid, who)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Pool: pid, Participant: formatParty(who), Pending: pending.Dec(), At: a.svc.Now()})
}

func (a *api) handleBalance(w http.ResponseWriter, r *http.Request) {
	who, err := parseParty(chi.URLParam(r, "who"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := farm.AssetID(chi.URLParam(r, "asset"))
	balance, err := a.svc.Ledger().Balance(asset, who)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: strings.ToUpper(string(asset)), Account: formatParty(who), Amount: balance.Dec()})
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Journal == nil {
		writeError(w, http.StatusNotImplemented, "journal not configured")
		return
	}
	query := r.URL.Query()
	var after uint64
	if raw := query.Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = parsed
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be within [1,1000]")
			return
		}
		limit = parsed
	}
	entries, err := a.cfg.Journal.List(r.Context(), after, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, entryFrom(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) poolAndParty(w http.ResponseWriter, r *http.Request) (uint64, common.Address, bool) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, common.Address{}, false
	}
	who, err := parseParty(chi.URLParam(r, "who"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, common.Address{}, false
	}
	return pid, who, true
}

func (a *api) writeReceipt(w http.ResponseWriter, receipt *farm.Receipt, err error) {
	if err != nil && !(receipt != nil && errors.Is(err, farm.ErrRewardHook)) {
		a.fail(w, err)
		return
	}
	resp := receiptFrom(receipt)
	if err != nil {
		resp.HookError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, pid, ok := a.participantCall(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary, err := partyOr(req.Beneficiary, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := a.svc.Deposit(r.Context(), pid, caller, amount, beneficiary)
	a.writeReceipt(w, receipt, err)
}

func (a *api) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, pid, ok := a.participantCall(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := partyOr(req.Recipient, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := a.svc.Withdraw(r.Context(), pid, caller, amount, recipient, req.Harvest)
	a.writeReceipt(w, receipt, err)
}

func (a *api) handleHarvest(w http.ResponseWriter, r *http.Request) {
	caller, pid, ok := a.participantCall(w, r)
	if !ok {
		return
	}
	var req recipientRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := partyOr(req.Recipient, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := a.svc.Harvest(r.Context(), pid, caller, recipient)
	a.writeReceipt(w, receipt, err)
}

func (a *api) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, pid, ok := a.participantCall(w, r)
	if !ok {
		return
	}
	var req recipientRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := partyOr(req.Recipient, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := a.svc.EmergencyWithdraw(r.Context(), pid, caller, recipient)
	a.writeReceipt(w, receipt, err)
}

func (a *api) participantCall(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	caller, err := participantFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return common.Address{}, 0, false
	}
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, 0, false
	}
	return caller, pid, true
}

func (a *api) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var req addPoolRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pid, err := a.svc.AddPool(r.Context(), req.AllocationPoints, farm.AssetID(normalizeAsset(req.StakeAsset)), farm.HookRef(req.RewardHook))
	if err != nil {
		a.fail(w, err)
		return
	}
	pool, err := a.svc.Engine().Pool(pid)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolFrom(pool))
}

func (a *api) handleSetPool(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setPoolRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetPool(r.Context(), pid, req.AllocationPoints, farm.HookRef(req.RewardHook), req.OverwriteHook); err != nil {
		a.fail(w, err)
		return
	}
	a.respondPool(w, pid)
}

func (a *api) handleSetWeight(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req weightRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetWeight(r.Context(), pid, req.Weight); err != nil {
		a.fail(w, err)
		return
	}
	a.respondPool(w, pid)
}

func (a *api) handleSetRate(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetEmissions(r.Context(), pid, rate); err != nil {
		a.fail(w, err)
		return
	}
	a.respondPool(w, pid)
}

func (a *api) handleAllocate(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Allocate(r.Context(), pid, amount); err != nil {
		a.fail(w, err)
		return
	}
	a.respondPool(w, pid)
}

func (a *api) handleMigrate(w http.ResponseWriter, r *http.Request) {
	pid, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.svc.Migrate(r.Context(), pid); err != nil {
		a.fail(w, err)
		return
	}
	a.respondPool(w, pid)
}

func (a *api) handleUpdatePools(w http.ResponseWriter, r *http.Request) {
	var req updatePoolsRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.UpdatePools(r.Context(), req.Pools...); err != nil {
		a.fail(w, err)
		return
	}
	a.handlePools(w, r)
}

func (a *api) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := normalizeAsset(req.Asset)
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var account common.Address
	if !req.Engine {
		account, err = parseParty(req.Account)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := a.svc.Credit(farm.AssetID(asset), account, amount, req.Engine); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handlePause(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Pauses == nil {
		writeError(w, http.StatusNotImplemented, "pause control not configured")
		return
	}
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.cfg.Pauses.SetPaused(farm.ModuleName, req.Paused)
	a.logger.Info("farmd: pause toggled", slog.Bool("paused", req.Paused))
	writeJSON(w, http.StatusOK, pauseRequest{Paused: a.cfg.Pauses.IsPaused(farm.ModuleName)})
}

func (a *api) handleAudit(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Auditor == nil {
		writeError(w, http.StatusNotImplemented, "audit not configured")
		return
	}
	if err := a.cfg.Auditor.RunOnce(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{OK: true})
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Journal == nil || a.cfg.ExportDir == "" {
		writeError(w, http.StatusNotImplemented, "journal export not configured")
		return
	}
	name := fmt.Sprintf("farm-journal-%s.parquet", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(a.cfg.ExportDir, name)
	rows, err := a.cfg.Journal.ExportParquet(r.Context(), path)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Path: path, Rows: rows})
}

func (a *api) respondPool(w http.ResponseWriter, pid uint64) {
	pool, err := a.svc.Engine().Pool(pid)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolFrom(pool))
}
