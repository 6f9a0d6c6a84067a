/*
handlers.go - HTTP API handlers for the loyalty ledger service

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, role checks, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts/resolve?q=     Resolve a search token (staff)
    POST   /api/accounts                Register account (staff)
    GET    /api/accounts/{id}           Get account and balance
    GET    /api/accounts/{id}/history   Ledger history, newest first
    POST   /api/accounts/{id}/award     Credit points for a bill (staff)
    POST   /api/accounts/{id}/redeem    Debit points for a discount (staff)

  Rates:
    GET    /api/rates                   Current conversion rates
    PUT    /api/rates                   Replace rates (admin)
    GET    /api/rates/history           All rate versions (admin)

  Clinics:
    GET    /api/clinics                 Clinic directory
    POST   /api/clinics                 Create/update clinic (admin)
    GET    /api/clinics/{id}            Clinic details
    GET    /api/clinics/{id}/daily      Daily activity report (staff)

  Promotions:
    GET    /api/promotions?active=true  List promotions
    POST   /api/promotions              Create/update promotion (admin)

  Admin:
    GET    /api/admin/stats             Dashboard summary (admin)
    GET    /api/admin/accounts          Member list, newest first (admin)

ERROR HANDLING:
  Domain errors map to HTTP status via mapError:
  - 400: invalid amount, malformed input
  - 403: insufficient role
  - 404: account not found
  - 409: ambiguous match, insufficient balance, duplicate account
  - 503: rate configuration unavailable
  - 500: everything else

  Idempotency-key replays are NOT errors: the original entry is
  returned with 200.

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Role extraction and checks
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-health/loyalty-ledger/loyalty"
	"github.com/lumina-health/loyalty-ledger/qr"
	"github.com/lumina-health/loyalty-ledger/store/sqlite"
)

const (
	timeFormat = time.RFC3339
	dateFormat = "2006-01-02"

	adminListLimit = 200
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Engine   *loyalty.Engine
	Resolver *loyalty.Resolver
	Rates    *loyalty.RateProvider
	Feed     *loyalty.Feed
	Identity IdentityProvider
}

// NewHandler wires the domain components over the given store.
func NewHandler(store *sqlite.Store) *Handler {
	rates := loyalty.NewRateProvider(store)
	return &Handler{
		Store:    store,
		Engine:   loyalty.NewEngine(store, rates),
		Resolver: loyalty.NewResolver(store, qr.Decode),
		Rates:    rates,
		Feed:     loyalty.NewFeed(store),
		Identity: HeaderIdentity{},
	}
}

// requireRole enforces the minimum role, writing 403 on failure.
func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, required Role) bool {
	if !IdentityFrom(r.Context()).Allows(required) {
		writeError(w, http.StatusForbidden, "Insufficient role", nil)
		return false
	}
	return true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ResolveAccount maps a search token (QR payload, id, or name/email/
// phone fragment) to exactly one account.
// GET /api/accounts/resolve?q=
func (h *Handler) ResolveAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleStaff) {
		return
	}

	token := r.URL.Query().Get("q")
	acct, err := h.Resolver.Resolve(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// CreateAccount registers a new loyalty account with a zero balance.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleStaff) {
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "name and email are required", nil)
		return
	}

	acct := loyalty.Account{
		ID:    loyalty.AccountID(uuid.NewString()),
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	}
	if err := h.Store.CreateAccount(r.Context(), acct); err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := h.Store.GetAccount(r.Context(), acct.ID)
	if err != nil || created == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load created account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*created))
}

// GetAccount returns an account and its live balance. Customers may
// only read their own account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))
	if !h.canReadAccount(w, r, id) {
		return
	}

	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if acct == nil {
		writeDomainError(w, loyalty.ErrAccountNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// GetHistory returns the account's ledger entries, newest first.
// GET /api/accounts/{id}/history?since=RFC3339&limit=N
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))
	if !h.canReadAccount(w, r, id) {
		return
	}

	var q loyalty.HistoryQuery
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (use RFC3339)", err)
			return
		}
		q.Since = &since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		q.Limit = limit
	}

	// A history read on an unknown account is a 404, not an empty list.
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if acct == nil {
		writeDomainError(w, loyalty.ErrAccountNotFound)
		return
	}

	entries, err := h.Feed.History(r.Context(), id, q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// canReadAccount allows staff and admin for any account, customers only
// for their own.
func (h *Handler) canReadAccount(w http.ResponseWriter, r *http.Request, id loyalty.AccountID) bool {
	caller := IdentityFrom(r.Context())
	if caller.Allows(RoleStaff) || caller.SubjectID == id {
		return true
	}
	writeError(w, http.StatusForbidden, "Insufficient role", nil)
	return false
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// Award credits floor(bill * earnRate) points for a paid bill.
// POST /api/accounts/{id}/award
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleStaff) {
		return
	}

	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.Award(r.Context(), loyalty.AwardRequest{
		AccountID:      loyalty.AccountID(chi.URLParam(r, "id")),
		ClinicID:       h.clinicFor(r, req.ClinicID),
		BillAmount:     req.BillAmount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// Redeem debits points for a cash-value discount.
// POST /api/accounts/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleStaff) {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.Redeem(r.Context(), loyalty.RedeemRequest{
		AccountID:      loyalty.AccountID(chi.URLParam(r, "id")),
		ClinicID:       h.clinicFor(r, req.ClinicID),
		Points:         req.Points,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// clinicFor attributes the operation: an explicit clinic id in the body
// wins, otherwise the staff caller's own clinic.
func (h *Handler) clinicFor(r *http.Request, bodyClinic string) loyalty.ClinicID {
	if bodyClinic != "" {
		return loyalty.ClinicID(bodyClinic)
	}
	return IdentityFrom(r.Context()).ClinicID
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// GetRates returns the conversion rates in effect.
// GET /api/rates
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Rates.Current(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(snap))
}

// UpdateRates atomically replaces the current rates.
// PUT /api/rates
func (h *Handler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	var req UpdateRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	snap, err := h.Rates.Update(r.Context(), req.EarnRate, req.RedeemValue)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(snap))
}

// GetRateHistory returns every rate version ever written, oldest first.
// GET /api/rates/history
func (h *Handler) GetRateHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	history, err := h.Store.RateHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rate history", err)
		return
	}
	dtos := make([]RatesDTO, len(history))
	for i, snap := range history {
		dtos[i] = toRatesDTO(snap)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CLINIC HANDLERS
// =============================================================================

// ListClinics returns the clinic directory.
// GET /api/clinics
func (h *Handler) ListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.Store.ListClinics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clinics", err)
		return
	}
	dtos := make([]ClinicDTO, len(clinics))
	for i, c := range clinics {
		dtos[i] = toClinicDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClinic returns one clinic.
// GET /api/clinics/{id}
func (h *Handler) GetClinic(w http.ResponseWriter, r *http.Request) {
	clinic, err := h.Store.GetClinic(r.Context(), loyalty.ClinicID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get clinic", err)
		return
	}
	if clinic == nil {
		writeError(w, http.StatusNotFound, "Clinic not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClinicDTO(*clinic))
}

// SaveClinic creates or updates a clinic directory entry.
// POST /api/clinics
func (h *Handler) SaveClinic(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	var req SaveClinicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	switch req.Type {
	case "aesthetic", "medical", "dental":
	default:
		writeError(w, http.StatusBadRequest, "type must be aesthetic, medical, or dental", nil)
		return
	}

	clinic := sqlite.Clinic{
		ID:             loyalty.ClinicID(req.ID),
		Name:           req.Name,
		Type:           req.Type,
		Address:        req.Address,
		Phone:          req.Phone,
		Email:          req.Email,
		OperatingHours: req.OperatingHours,
		Services:       req.Services,
	}
	if clinic.ID == "" {
		clinic.ID = loyalty.ClinicID(uuid.NewString())
	}

	if err := h.Store.SaveClinic(r.Context(), clinic); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save clinic", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClinicDTO(clinic))
}

// GetDailyReport returns a clinic's activity for one day, in
// chronological order, with earn/redeem totals.
// GET /api/clinics/{id}/daily?date=YYYY-MM-DD
func (h *Handler) GetDailyReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleStaff) {
		return
	}

	clinicID := loyalty.ClinicID(chi.URLParam(r, "id"))
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(dateFormat, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		day = parsed
	}

	entries, err := h.Feed.DailyByClinic(r.Context(), clinicID, day)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report := DailyReportDTO{
		ClinicID:    string(clinicID),
		Date:        day.Format(dateFormat),
		Entries:     toEntryDTOs(entries),
		BilledTotal: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case loyalty.EntryEarn:
			report.EarnedTotal += e.Points
			report.BilledTotal = report.BilledTotal.Add(e.BillAmount)
		case loyalty.EntryRedeem:
			report.SpentTotal += e.Points
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// PROMOTION HANDLERS
// =============================================================================

// ListPromotions returns promotions; ?active=true narrows to campaigns
// currently in their window.
// GET /api/promotions
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	promos, err := h.Store.ListPromotions(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list promotions", err)
		return
	}
	dtos := make([]PromotionDTO, len(promos))
	for i, p := range promos {
		dtos[i] = toPromotionDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePromotion creates or updates a promotional campaign.
// POST /api/promotions
func (h *Handler) SavePromotion(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	var req SavePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	start, err := time.Parse(dateFormat, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse(dateFormat, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end_date must not precede start_date", nil)
		return
	}

	promo := sqlite.Promotion{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		StartDate:   start,
		// Inclusive end date: the campaign runs through the whole day.
		EndDate:  end.Add(24*time.Hour - time.Nanosecond),
		IsActive: req.IsActive,
	}
	if promo.ID == "" {
		promo.ID = uuid.NewString()
	}

	if err := h.Store.SavePromotion(r.Context(), promo); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save promotion", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionDTO(promo))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetStats returns the dashboard summary.
// GET /api/admin/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	stats, err := h.Store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}

	dto := StatsDTO{
		TotalAccounts:       stats.TotalAccounts,
		PointsInCirculation: stats.PointsInCirculation,
		EarnCount:           stats.EarnCount,
		RedeemCount:         stats.RedeemCount,
		TotalBilled:         stats.TotalBilled,
		Clinics:             make([]ClinicStatDTO, len(stats.Clinics)),
	}
	for i, cs := range stats.Clinics {
		dto.Clinics[i] = ClinicStatDTO{
			ClinicID:   string(cs.ClinicID),
			Name:       cs.Name,
			EntryCount: cs.EntryCount,
			Billed:     cs.Billed,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListAccounts returns registered accounts, newest first.
// GET /api/admin/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleAdmin) {
		return
	}

	accounts, err := h.Store.ListAccounts(r.Context(), adminListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loyalty.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
	case errors.Is(err, loyalty.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found", err)
	case errors.Is(err, loyalty.ErrAmbiguousMatch):
		writeError(w, http.StatusConflict, "Search token matches multiple accounts", err)
	case errors.Is(err, loyalty.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "Insufficient balance", err)
	case errors.Is(err, loyalty.ErrDuplicateAccount):
		writeError(w, http.StatusConflict, "Account already exists", err)
	case errors.Is(err, loyalty.ErrConfigurationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Rate configuration unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
