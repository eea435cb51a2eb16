package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Supplier is a vendor record in the accounts-payable system.
type Supplier struct {
	ID            int64  `json:"id,omitempty" yaml:"id,omitempty"`
	EntityName    string `json:"entityName" yaml:"entityName"`
	Code          string `json:"code" yaml:"code"`
	Name          string `json:"name" yaml:"name"`
	Address       string `json:"address,omitempty" yaml:"address,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`
	BSB           string `json:"bsb,omitempty" yaml:"bsb,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty" yaml:"accountNumber,omitempty"`
	ABN           string `json:"abn,omitempty" yaml:"abn,omitempty"`
	PaymentTerms  string `json:"paymentTerms,omitempty" yaml:"paymentTerms,omitempty"`
}

// Entity is a legal entity (subsidiary) invoices are raised against.
type Entity struct {
	ID       int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Code     string `json:"code" yaml:"code"`
	Currency string `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// GLCode is a general-ledger account exposed to invoice coders.
type GLCode struct {
	ID                  int64    `json:"id,omitempty" yaml:"id,omitempty"`
	EntityName          string   `json:"entityName" yaml:"entityName"`
	AccountCode         string   `json:"accountCode" yaml:"accountCode"`
	Description         string   `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultTaxCode      string   `json:"defaultTaxCode,omitempty" yaml:"defaultTaxCode,omitempty"`
	BusinessUnitsLinked []string `json:"businessUnitsLinked,omitempty" yaml:"businessUnitsLinked,omitempty"`
}

// BusinessUnit is a department-like dimension.
type BusinessUnit struct {
	ID         int64  `json:"id,omitempty" yaml:"id,omitempty"`
	EntityName string `json:"entityName" yaml:"entityName"`
	Name       string `json:"name" yaml:"name"`
	Code       string `json:"code" yaml:"code"`
}

// TaxCode is a tax treatment selectable on invoice lines.
type TaxCode struct {
	ID          int64           `json:"id,omitempty" yaml:"id,omitempty"`
	EntityName  string          `json:"entityName" yaml:"entityName"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Percentage  decimal.Decimal `json:"percentage" yaml:"percentage"`
}

// SubAllocation is a project/job dimension linked to GL accounts.
type SubAllocation struct {
	ID                   int64    `json:"id,omitempty" yaml:"id,omitempty"`
	EntityName           string   `json:"entityName" yaml:"entityName"`
	Name                 string   `json:"name" yaml:"name"`
	Code                 string   `json:"code" yaml:"code"`
	LinkedGLAccountCodes []string `json:"linkedGLAccountCodes,omitempty" yaml:"linkedGLAccountCodes,omitempty"`
}

// Resource is a reference-data collection at a fixed path. List is GET path,
// Create is POST path and Update is PUT path/{id}.
type Resource[T any] struct {
	c    *Client
	path string
}

// Path returns the collection path, e.g. "/Supplier".
func (r Resource[T]) Path() string {
	return r.path
}

// List returns every record in the collection.
func (r Resource[T]) List(ctx context.Context) ([]T, error) {
	op := "List" + r.path
	var out []T
	if _, err := r.c.getJSON(ctx, op, r.path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts a new record and returns the raw response status.
func (r Resource[T]) Create(ctx context.Context, record T) (int, error) {
	op := "Create" + r.path
	status, _, err := r.c.call(ctx, op, http.MethodPost, r.path, record)
	if err != nil {
		return status, err
	}
	r.c.log.Info().Str("resource", r.path).Int("status", status).Msg("Reference record created")
	return status, nil
}

// Update replaces the record with the given id.
func (r Resource[T]) Update(ctx context.Context, id int64, record T) (int, error) {
	op := "Update" + r.path
	path := fmt.Sprintf("%s/%s", r.path, url.PathEscape(fmt.Sprint(id)))
	status, _, err := r.c.call(ctx, op, http.MethodPut, path, record)
	if err != nil {
		return status, err
	}
	r.c.log.Info().Str("resource", r.path).Int64("id", id).Int("status", status).Msg("Reference record updated")
	return status, nil
}

func (c *Client) Suppliers() Resource[Supplier] {
	return Resource[Supplier]{c: c, path: "/Supplier"}
}

func (c *Client) Entities() Resource[Entity] {
	return Resource[Entity]{c: c, path: "/Entity"}
}

func (c *Client) GLCodes() Resource[GLCode] {
	return Resource[GLCode]{c: c, path: "/GLCode"}
}

func (c *Client) BusinessUnits() Resource[BusinessUnit] {
	return Resource[BusinessUnit]{c: c, path: "/BusinessUnit"}
}

func (c *Client) TaxCodes() Resource[TaxCode] {
	return Resource[TaxCode]{c: c, path: "/TaxCode"}
}

func (c *Client) SubAllocations() Resource[SubAllocation] {
	return Resource[SubAllocation]{c: c, path: "/SubAllocation"}
}
