package bsale

import (
	"encoding/json"
	"strings"
)

// Raw payloads as returned by the Bsale API. Only the fields the ETL reads
// are declared.

type Client struct {
	ID           json.Number `json:"id"`
	FirstName    *string     `json:"firstName"`
	LastName     *string     `json:"lastName"`
	Code         *string     `json:"code"`
	Email        *string     `json:"email"`
	Phone        *string     `json:"phone"`
	Address      *string     `json:"address"`
	CreationDate json.Number `json:"creationDate"`
}

type Product struct {
	ID          json.Number `json:"id"`
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	State       json.Number `json:"state"`
	Variants    struct {
		Items []Variant `json:"items"`
	} `json:"variants"`
}

type Variant struct {
	ID      json.Number `json:"id"`
	Code    *string     `json:"code"`
	BarCode *string     `json:"barCode"`
	State   json.Number `json:"state"`
	// Bsale sends 0/1 but older accounts return booleans.
	Track Flag `json:"track"`
}

type Document struct {
	ID           json.Number `json:"id"`
	Number       json.Number `json:"number"`
	EmissionDate json.Number `json:"emissionDate"`
	NetAmount    json.Number `json:"netAmount"`
	NetTotal     json.Number `json:"netTotal"`
	TaxAmount    json.Number `json:"taxAmount"`
	TotalAmount  json.Number `json:"totalAmount"`
	Client       *Ref        `json:"client"`
	DocumentType *Ref        `json:"document_type"`
	// camelCase variant returned by some expand combinations
	DocumentTypeAlt *Ref `json:"documentType"`
	Details         struct {
		Items []Detail `json:"items"`
	} `json:"details"`
}

// TypeRef returns whichever document type reference is present.
func (d Document) TypeRef() *Ref {
	if d.DocumentType != nil {
		return d.DocumentType
	}
	return d.DocumentTypeAlt
}

// Net returns netAmount, falling back to netTotal.
func (d Document) Net() json.Number {
	if d.NetAmount != "" {
		return d.NetAmount
	}
	return d.NetTotal
}

type Detail struct {
	ID           json.Number `json:"id"`
	Quantity     json.Number `json:"quantity"`
	NetUnitValue json.Number `json:"netUnitValue"`
	Discount     json.Number `json:"discount"`
	NetAmount    json.Number `json:"netAmount"`
	NetTotal     json.Number `json:"netTotal"`
	Variant      *Ref        `json:"variant"`
}

// LineTotal returns netTotal, falling back to netAmount.
func (d Detail) LineTotal() json.Number {
	if d.NetTotal != "" {
		return d.NetTotal
	}
	return d.NetAmount
}

// Ref is a nested {"id": ..., "href": ...} reference.
type Ref struct {
	ID   json.Number `json:"id"`
	Href string      `json:"href"`
}

type PriceListDetail struct {
	ID           json.Number `json:"id"`
	VariantValue json.Number `json:"variantValue"`
	Variant      *Ref        `json:"variant"`
}

type VariantCost struct {
	AverageCost json.Number `json:"averageCost"`
	History     []struct {
		Cost json.Number `json:"cost"`
	} `json:"history"`
}

// Flag decodes 0/1, "0"/"1", true/false and null.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.ToLower(strings.TrimSpace(string(b))), `"`)
	switch s {
	case "1", "true", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}
