package copilot

// ClientUser is a client-management platform client (an individual user).
type ClientUser struct {
	ID         string   `json:"id"`
	GivenName  string   `json:"givenName"`
	FamilyName string   `json:"familyName"`
	Email      string   `json:"email"`
	CompanyID  string   `json:"companyId"`
	CompanyIDs []string `json:"companyIds,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// Company is a client-management platform company.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is a billable product definition.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Price is one price point of a product. Amount is in minor units (cents).
type Price struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Type      string `json:"type,omitempty"`
}

// InvoiceLineItem is one line of a source invoice. Amount is in minor units.
type InvoiceLineItem struct {
	Amount      int64   `json:"amount"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	PriceID     string  `json:"priceId,omitempty"`
	ProductID   string  `json:"productId,omitempty"`
}

// Invoice statuses and collection methods on the source platform.
const (
	InvoiceStatusOpen  = "open"
	InvoiceStatusDraft = "draft"
	InvoiceStatusPaid  = "paid"

	CollectionSendInvoice         = "sendInvoice"
	CollectionChargeAutomatically = "chargeAutomatically"
)

// Invoice is a source platform invoice. All money fields are minor units.
type Invoice struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	ClientID         string            `json:"clientId,omitempty"`
	CompanyID        string            `json:"companyId,omitempty"`
	CollectionMethod string            `json:"collectionMethod,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	DueDate          string            `json:"dueDate,omitempty"`
	SentDate         string            `json:"sentDate,omitempty"`
	CreatedAt        string            `json:"createdAt,omitempty"`
	Status           string            `json:"status"`
	LineItems        []InvoiceLineItem `json:"lineItems"`
	TaxAmount        int64             `json:"taxAmount"`
	TaxPercentage    float64           `json:"taxPercentage"`
	Total            int64             `json:"total"`
	Memo             string            `json:"memo,omitempty"`
	FileURL          string            `json:"fileUrl,omitempty"`
}

// Workspace describes the portal a token belongs to.
type Workspace struct {
	ID        string `json:"id"`
	PortalURL string `json:"portalUrl,omitempty"`
	Brand     string `json:"brandName,omitempty"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}
