package services

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind names a record type in the accounting system.
type RecordKind string

const (
	KindBill           RecordKind = "vendorbill"
	KindCredit         RecordKind = "vendorcredit"
	KindDepartment     RecordKind = "department"
	KindClassification RecordKind = "classification"
	KindLocation       RecordKind = "location"
	KindJob            RecordKind = "job"
	KindTaxItem        RecordKind = "salestaxitem"
	KindAccount        RecordKind = "account"
	KindVendor         RecordKind = "vendor"
)

// Label returns the display name used in logs, audit records and notifications.
func (k RecordKind) Label() string {
	switch k {
	case KindBill:
		return "Vendor Bill"
	case KindCredit:
		return "Vendor Credit"
	case KindDepartment:
		return "Department"
	case KindClassification:
		return "Class"
	case KindLocation:
		return "Location"
	case KindJob:
		return "Job"
	case KindTaxItem:
		return "Tax Code"
	case KindAccount:
		return "Account"
	case KindVendor:
		return "Vendor"
	default:
		return string(k)
	}
}

// IsTransaction reports whether the kind is a payable transaction.
func (k RecordKind) IsTransaction() bool {
	return k == KindBill || k == KindCredit
}

// Transaction status values relevant to payment sync.
const (
	StatusOpen       = "open"
	StatusPaidInFull = "paidInFull"
)

// LedgerService defines the accounting-system collaborator used by the pipeline
// and by payment sync.
type LedgerService interface {
	// Search yields every reference record matching the query, fetching pages lazily.
	// Ranging over the sequence again re-runs the query.
	Search(ctx context.Context, q Query) iter.Seq2[ReferenceRecord, error]

	// FindTransaction returns the header record of a transaction with the given
	// external id, or nil when none exists.
	FindTransaction(ctx context.Context, kind RecordKind, externalID string) (*TransactionRef, error)

	// SaveTransaction validates and persists a new transaction and returns its internal id.
	SaveTransaction(ctx context.Context, tx *Transaction) (string, error)

	// LoadTransaction loads a transaction with its lines.
	LoadTransaction(ctx context.Context, kind RecordKind, internalID string) (*Transaction, error)

	// UpdateSyncFields marks a transaction's synchronization fields.
	UpdateSyncFields(ctx context.Context, kind RecordKind, internalID string, fields SyncFields) error

	// LoadPayment loads a vendor payment and the transactions it applies to.
	LoadPayment(ctx context.Context, internalID string) (*Payment, error)
}

// Query selects reference records of one kind.
type Query struct {
	Kind       RecordKind
	ActiveOnly bool
	PageSize   int // 0 selects the store default
}

// ReferenceRecord is a department, class, location, job, tax item, account or vendor.
type ReferenceRecord struct {
	Kind       RecordKind `json:"kind" yaml:"-"`
	InternalID string     `json:"internalId" yaml:"internalId"`
	Name       string     `json:"name" yaml:"name"`
	ExternalID string     `json:"externalId,omitempty" yaml:"externalId,omitempty"`
	Number     string     `json:"number,omitempty" yaml:"number,omitempty"` // accounts
	ItemID     string     `json:"itemId,omitempty" yaml:"itemId,omitempty"` // tax items
	Inactive   bool       `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// TransactionRef identifies an existing transaction header.
type TransactionRef struct {
	Kind       RecordKind
	InternalID string
	TranID     string
	ExternalID string
}

// Transaction is a Bill or Credit with its expense lines.
type Transaction struct {
	Kind       RecordKind `json:"kind"`
	InternalID string     `json:"internalId,omitempty"`

	// Header
	TranID      string     `json:"tranId"`
	Supplier    string     `json:"supplier"`
	TranDate    time.Time  `json:"tranDate"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	OtherRefNum string     `json:"otherRefNum,omitempty"`
	Memo        string     `json:"memo,omitempty"`
	ErrorNote   string     `json:"errorNote,omitempty"`

	// Source linkage
	CreatedFromSource bool   `json:"createdFromSource"`
	ExternalID        string `json:"externalId,omitempty"`

	// Payment and sync state
	Status     string     `json:"status"`
	SyncStatus int        `json:"syncStatus"`
	SyncDate   *time.Time `json:"syncDate,omitempty"`

	Lines []TransactionLine `json:"lines"`
}

// TransactionLine is one expense line. Reference fields hold internal ids.
type TransactionLine struct {
	Account    string          `json:"account"`
	Memo       string          `json:"memo,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
	Location   string          `json:"location,omitempty"`
	Department string          `json:"department,omitempty"`
	Class      string          `json:"class,omitempty"`
	Customer   string          `json:"customer,omitempty"`
	TaxCode    string          `json:"taxCode,omitempty"`
}

// SyncFields are written back after a successful payment sync.
type SyncFields struct {
	SyncStatus int
	SyncDate   time.Time
}

// Payment is a vendor payment applied to one or more bills.
type Payment struct {
	InternalID string
	CreatedAt  time.Time
	Applied    []PaymentApplication
}

// PaymentApplication links a payment to a bill.
type PaymentApplication struct {
	TransactionID string
	Applied       bool
}
