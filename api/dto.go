/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Bill amounts and rates travel as JSON strings ("120.50"), decoded into
  decimal.Decimal. Floats never touch money anywhere in this service.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/lumina-health/loyalty-ledger/loyalty"
	"github.com/lumina-health/loyalty-ledger/store/sqlite"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents a loyalty account in API responses.
type AccountDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Balance   int64  `json:"points_balance"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to register an account.
type CreateAccountRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents one committed ledger entry.
type EntryDTO struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	ClinicID     string          `json:"clinic_id,omitempty"`
	Kind         string          `json:"kind"`
	BillAmount   decimal.Decimal `json:"bill_amount"`
	Points       int64           `json:"points"`
	CashValue    decimal.Decimal `json:"cash_value"`
	RateVersion  int64           `json:"rate_version"`
	BalanceAfter int64           `json:"balance_after"`
	CreatedAt    string          `json:"created_at"`
}

// AwardRequest is the request to credit points for a bill.
type AwardRequest struct {
	BillAmount     decimal.Decimal `json:"bill_amount"`
	ClinicID       string          `json:"clinic_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// RedeemRequest is the request to debit points for a discount.
type RedeemRequest struct {
	Points         int64  `json:"points"`
	ClinicID       string `json:"clinic_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// =============================================================================
// RATES
// =============================================================================

// RatesDTO represents the current conversion rates.
type RatesDTO struct {
	EarnRate    decimal.Decimal `json:"earn_rate"`
	RedeemValue decimal.Decimal `json:"redeem_value"`
	Version     int64           `json:"version"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

// UpdateRatesRequest is the request to replace the current rates.
type UpdateRatesRequest struct {
	EarnRate    decimal.Decimal `json:"earn_rate"`
	RedeemValue decimal.Decimal `json:"redeem_value"`
}

// =============================================================================
// CLINICS
// =============================================================================

// ClinicDTO represents a clinic directory entry.
type ClinicDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Address        string   `json:"address,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	OperatingHours string   `json:"operating_hours,omitempty"`
	Services       []string `json:"services,omitempty"`
}

// SaveClinicRequest is the request to create or update a clinic.
type SaveClinicRequest struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Address        string   `json:"address,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	OperatingHours string   `json:"operating_hours,omitempty"`
	Services       []string `json:"services,omitempty"`
}

// DailyReportDTO is a clinic's activity for one day.
type DailyReportDTO struct {
	ClinicID    string          `json:"clinic_id"`
	Date        string          `json:"date"`
	Entries     []EntryDTO      `json:"entries"`
	EarnedTotal int64           `json:"points_earned"`
	SpentTotal  int64           `json:"points_redeemed"`
	BilledTotal decimal.Decimal `json:"billed_total"`
}

// =============================================================================
// PROMOTIONS
// =============================================================================

// PromotionDTO represents a promotional campaign.
type PromotionDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	IsActive    bool   `json:"is_active"`
}

// SavePromotionRequest is the request to create or update a promotion.
type SavePromotionRequest struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	IsActive    bool   `json:"is_active"`
}

// =============================================================================
// ADMIN
// =============================================================================

// StatsDTO is the admin dashboard summary.
type StatsDTO struct {
	TotalAccounts       int64           `json:"total_accounts"`
	PointsInCirculation int64           `json:"points_in_circulation"`
	EarnCount           int64           `json:"earn_count"`
	RedeemCount         int64           `json:"redeem_count"`
	TotalBilled         decimal.Decimal `json:"total_billed"`
	Clinics             []ClinicStatDTO `json:"clinics"`
}

// ClinicStatDTO summarizes one clinic's earn activity.
type ClinicStatDTO struct {
	ClinicID   string          `json:"clinic_id"`
	Name       string          `json:"name,omitempty"`
	EntryCount int64           `json:"entry_count"`
	Billed     decimal.Decimal `json:"billed"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toAccountDTO(a loyalty.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Name:      a.Name,
		Email:     a.Email,
		Phone:     a.Phone,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt.Format(timeFormat),
	}
}

func toEntryDTO(e loyalty.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		AccountID:    string(e.AccountID),
		ClinicID:     string(e.ClinicID),
		Kind:         string(e.Kind),
		BillAmount:   e.BillAmount,
		Points:       e.Points,
		CashValue:    e.CashValue,
		RateVersion:  e.RateVersion,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt.Format(timeFormat),
	}
}

func toEntryDTOs(entries []loyalty.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toRatesDTO(s loyalty.RateSnapshot) RatesDTO {
	dto := RatesDTO{
		EarnRate:    s.EarnRate,
		RedeemValue: s.RedeemValue,
		Version:     s.Version,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.Format(timeFormat)
	}
	return dto
}

func toClinicDTO(c sqlite.Clinic) ClinicDTO {
	return ClinicDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Type:           c.Type,
		Address:        c.Address,
		Phone:          c.Phone,
		Email:          c.Email,
		OperatingHours: c.OperatingHours,
		Services:       c.Services,
	}
}

func toPromotionDTO(p sqlite.Promotion) PromotionDTO {
	return PromotionDTO{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		StartDate:   p.StartDate.Format(dateFormat),
		EndDate:     p.EndDate.Format(dateFormat),
		IsActive:    p.IsActive,
	}
}
