package integration

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Canonical entities
// ---------------------------------------------------------------------------
//
// These are the only shapes callers outside the sync engine ever see.
// Provider-specific field names never leak past the transform stage.

// Address is a postal address attached to a Person
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

// IsZero returns true if no address field is set
func (a Address) IsZero() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.ZipCode == ""
}

// Person is a canonical contact record
type Person struct {
	ExternalID string   `json:"externalId" validate:"required"`
	FirstName  string   `json:"firstName" validate:"required,max=100"`
	LastName   string   `json:"lastName" validate:"required,max=100"`
	Email      string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string   `json:"phone,omitempty" validate:"omitempty,phone"`
	Address    *Address `json:"address,omitempty"`
	Groups     []string `json:"groups"`
	Tags       []string `json:"tags"`
}

// Group is a canonical group roster
type Group struct {
	ExternalID  string   `json:"externalId" validate:"required"`
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description,omitempty" validate:"max=1000"`
	Members     []string `json:"members"`
	Leaders     []string `json:"leaders"`
}

// Event is a canonical calendar event
type Event struct {
	ExternalID  string    `json:"externalId" validate:"required"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"startDate" validate:"required"`
	EndDate     time.Time `json:"endDate" validate:"required"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees"`
}

// Contribution is a canonical giving record
type Contribution struct {
	ExternalID    string          `json:"externalId" validate:"required"`
	PersonID      string          `json:"personId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date" validate:"required"`
	Fund          string          `json:"fund,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

// ---------------------------------------------------------------------------
// SyncResult
// ---------------------------------------------------------------------------

// SyncResult is produced once per capability per sync call.
// Count always equals the number of raw records the provider returned,
// and Data holds every transformed record, valid or not.
type SyncResult struct {
	Capability Capability `json:"capability"`
	Success    bool       `json:"success"`
	Count      int        `json:"count"`
	Invalid    int        `json:"invalid"`
	Data       []any      `json:"data"`
	Error      string     `json:"error,omitempty"`
}

// NewSyncResult builds a successful result from transformed records
func NewSyncResult[T any](capability Capability, records []T, invalid int) *SyncResult {
	data := make([]any, len(records))
	for i := range records {
		data[i] = records[i]
	}
	return &SyncResult{
		Capability: capability,
		Success:    true,
		Count:      len(records),
		Invalid:    invalid,
		Data:       data,
	}
}

// ---------------------------------------------------------------------------
// ProviderStatus
// ---------------------------------------------------------------------------

// ProviderHealth is the outcome of a provider status check
type ProviderHealth string

const (
	ProviderHealthActive ProviderHealth = "active"
	ProviderHealthError  ProviderHealth = "error"
)

// ProviderStatus is reported by a read-only check; it never mutates persisted state
type ProviderStatus struct {
	Status   ProviderHealth `json:"status"`
	LastSync time.Time      `json:"lastSync"`
	Error    string         `json:"error,omitempty"`
}
