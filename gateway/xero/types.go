package xero

import "github.com/google/uuid"

// Invoice types and statuses per the accounting API.
const (
	InvoiceTypeAccRec = "ACCREC"
	InvoiceTypeAccPay = "ACCPAY"

	InvoiceStatusDraft      = "DRAFT"
	InvoiceStatusSubmitted  = "SUBMITTED"
	InvoiceStatusAuthorised = "AUTHORISED"
	InvoiceStatusPaid       = "PAID"
	InvoiceStatusVoided     = "VOIDED"
	InvoiceStatusDeleted    = "DELETED"
)

// Chart-of-accounts codes the integration writes against.
const (
	AccountCodeSales        = "4000"
	AccountCodeBank         = "2001"
	AccountCodeMerchantFees = "6041"
)

// Account names created by the integration inside the connected organization.
const (
	SalesAccountName   = "Sales of Goods"
	ExpenseAccountName = "Assembly Processing Fees"
	AssetAccountName   = "Assembly Asset Account"
)

const (
	AccountTypeExpense = "EXPENSE"
	AccountTypeBank    = "BANK"

	ReportTaxTypeOutput = "OUTPUT"

	TaxRateStatusActive = "ACTIVE"
)

// TokenSet is the OAuth token response from the identity endpoint.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Connection is one entry from the /connections endpoint; index 0 is the most
// recently authorized organization.
type Connection struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenantId"`
	TenantType string    `json:"tenantType"`
	TenantName string    `json:"tenantName"`
}

// ContactRef is the minimal contact reference embedded in invoices.
type ContactRef struct {
	ContactID uuid.UUID `json:"ContactID,omitempty"`
	Name      string    `json:"Name,omitempty"`
}

// Contact is a full accounting contact.
type Contact struct {
	ContactID     uuid.UUID `json:"ContactID,omitempty"`
	Name          string    `json:"Name,omitempty"`
	FirstName     string    `json:"FirstName,omitempty"`
	LastName      string    `json:"LastName,omitempty"`
	EmailAddress  string    `json:"EmailAddress,omitempty"`
	ContactStatus string    `json:"ContactStatus,omitempty"`
}

// LineItem is one invoice line. UnitAmount and TaxAmount are decimal major
// units; minor-unit conversion happens before a LineItem is built.
type LineItem struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	TaxAmount   float64 `json:"TaxAmount"`
	TaxType     string  `json:"TaxType,omitempty"`
	ItemCode    string  `json:"ItemCode,omitempty"`
	AccountCode string  `json:"AccountCode,omitempty"`
}

// Invoice is an accounting invoice, both as payload and response shape.
type Invoice struct {
	InvoiceID     uuid.UUID  `json:"InvoiceID,omitempty"`
	InvoiceNumber string     `json:"InvoiceNumber,omitempty"`
	Type          string     `json:"Type,omitempty"`
	Contact       ContactRef `json:"Contact,omitempty"`
	Date          string     `json:"Date,omitempty"`
	DueDate       string     `json:"DueDate,omitempty"`
	LineItems     []LineItem `json:"LineItems,omitempty"`
	Status        string     `json:"Status,omitempty"`
	Total         float64    `json:"Total,omitempty"`
	TotalTax      float64    `json:"TotalTax,omitempty"`
	AmountDue     float64    `json:"AmountDue,omitempty"`
}

// AccountRef references an account inside a payment payload.
type AccountRef struct {
	AccountID uuid.UUID `json:"AccountID,omitempty"`
	Code      string    `json:"Code,omitempty"`
	Name      string    `json:"Name,omitempty"`
}

// InvoiceRef references an invoice inside a payment payload.
type InvoiceRef struct {
	InvoiceID uuid.UUID `json:"InvoiceID"`
}

// Payment applies an amount against an invoice.
type Payment struct {
	PaymentID uuid.UUID  `json:"PaymentID,omitempty"`
	Invoice   InvoiceRef `json:"Invoice"`
	Account   AccountRef `json:"Account"`
	Code      string     `json:"Code,omitempty"`
	Amount    float64    `json:"Amount"`
	Details   string     `json:"Details,omitempty"`
	Status    string     `json:"Status,omitempty"`
}

// TaxComponent is one component of a composite tax rate.
type TaxComponent struct {
	Name             string  `json:"Name"`
	Rate             float64 `json:"Rate"`
	IsCompound       bool    `json:"IsCompound"`
	IsNonRecoverable bool    `json:"IsNonRecoverable"`
}

// TaxRate is an organization tax rate.
type TaxRate struct {
	Name          string         `json:"Name"`
	TaxType       string         `json:"TaxType,omitempty"`
	ReportTaxType string         `json:"ReportTaxType,omitempty"`
	Status        string         `json:"Status,omitempty"`
	EffectiveRate float64        `json:"EffectiveRate,omitempty"`
	TaxComponents []TaxComponent `json:"TaxComponents,omitempty"`
}

// SalesDetails prices an item when it is sold.
type SalesDetails struct {
	UnitPrice   float64 `json:"UnitPrice,omitempty"`
	AccountCode string  `json:"AccountCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
}

// Item is a billable catalog item.
type Item struct {
	ItemID       uuid.UUID     `json:"ItemID,omitempty"`
	Code         string        `json:"Code"`
	Name         string        `json:"Name,omitempty"`
	Description  string        `json:"Description,omitempty"`
	IsSold       bool          `json:"IsSold,omitempty"`
	SalesDetails *SalesDetails `json:"SalesDetails,omitempty"`
}

// Account is a chart-of-accounts entry.
type Account struct {
	AccountID               uuid.UUID `json:"AccountID,omitempty"`
	Code                    string    `json:"Code,omitempty"`
	Name                    string    `json:"Name,omitempty"`
	Type                    string    `json:"Type,omitempty"`
	Description             string    `json:"Description,omitempty"`
	Status                  string    `json:"Status,omitempty"`
	EnablePaymentsToAccount bool      `json:"EnablePaymentsToAccount,omitempty"`
}

// BankTransaction types.
const (
	BankTransactionTypeSpend   = "SPEND"
	BankTransactionTypeReceive = "RECEIVE"
)

// BankTransaction records money moving through a bank-type account; the fee
// expense flow books absorbed processing fees as SPEND transactions.
type BankTransaction struct {
	BankTransactionID uuid.UUID  `json:"BankTransactionID,omitempty"`
	Type              string     `json:"Type"`
	Date              string     `json:"Date,omitempty"`
	BankAccount       AccountRef `json:"BankAccount"`
	Contact           ContactRef `json:"Contact,omitempty"`
	LineItems         []LineItem `json:"LineItems"`
	Reference         string     `json:"Reference,omitempty"`
	Status            string     `json:"Status,omitempty"`
}

// Session carries the per-call credentials for accounting API requests.
type Session struct {
	AccessToken string
	TenantID    uuid.UUID
}
