package bsale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PathClients   = "clients.json"
	PathProducts  = "products.json"
	PathDocuments = "documents.json"
)

// Decoded pairs a typed record with its raw payload so per-record decode
// failures can be reported without aborting the page.
type Decoded[T any] struct {
	Record T
	Raw    json.RawMessage
	Err    error
}

func decodeAll[T any](items []json.RawMessage) []Decoded[T] {
	out := make([]Decoded[T], 0, len(items))
	for _, raw := range items {
		var rec T
		err := json.Unmarshal(raw, &rec)
		out = append(out, Decoded[T]{Record: rec, Raw: raw, Err: err})
	}
	return out
}

// GetClients returns every client; an unreachable API yields an empty list.
func (c *Client) GetClients(ctx context.Context) []Decoded[Client] {
	return decodeAll[Client](c.FetchAllPages(ctx, PathClients, nil))
}

func (c *Client) GetProducts(ctx context.Context) []Decoded[Product] {
	params := url.Values{}
	params.Set("expand", "[variants]")
	return decodeAll[Product](c.FetchAllPages(ctx, PathProducts, params))
}

// GetDocuments fails loudly: a partial document list would silently drop
// sales from the destination.
func (c *Client) GetDocuments(ctx context.Context, since *time.Time) ([]Decoded[Document], error) {
	params := DocumentParams(since, time.Now())
	items, err := c.FetchPages(ctx, PathDocuments, params)
	if err != nil {
		return nil, err
	}
	return decodeAll[Document](items), nil
}

// DocumentParams builds the documents.json query. Bsale filters by emission
// date with a [from,to] range of unix seconds.
func DocumentParams(since *time.Time, now time.Time) url.Values {
	params := url.Values{}
	params.Set("expand", "[details,client,document_type]")
	if since != nil {
		params.Set("emissiondaterange", fmt.Sprintf("[%d,%d]", since.Unix(), now.Unix()))
	}
	return params
}

// GetVariantPrice returns the net price of variantID in the given price
// list, or nil when the list has no entry for it.
func (c *Client) GetVariantPrice(ctx context.Context, priceListID int64, variantID int64) *decimal.Decimal {
	params := url.Values{}
	params.Set("variantid", strconv.FormatInt(variantID, 10))
	body := c.Fetch(ctx, fmt.Sprintf("price_lists/%d/details.json", priceListID), params)
	if body == nil {
		return nil
	}
	var resp struct {
		Items []PriceListDetail `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Items) == 0 {
		return nil
	}
	return DecimalPtr(resp.Items[0].VariantValue)
}

// GetVariantCost returns the average cost of variantID, or nil when Bsale has
// no cost record.
func (c *Client) GetVariantCost(ctx context.Context, variantID int64) *decimal.Decimal {
	body := c.Fetch(ctx, fmt.Sprintf("variants/%d/costs.json", variantID), nil)
	if body == nil {
		return nil
	}
	var cost VariantCost
	if err := json.Unmarshal(body, &cost); err != nil {
		return nil
	}
	return DecimalPtr(cost.AverageCost)
}

// Sample fetches a single page of up to limit raw items. Used by the
// diagnostic endpoint; nothing is written.
func (c *Client) Sample(ctx context.Context, path string, limit int) []json.RawMessage {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	body := c.Fetch(ctx, path, params)
	if body == nil {
		return nil
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if len(resp.Items) > limit {
		resp.Items = resp.Items[:limit]
	}
	return resp.Items
}

// DecimalPtr parses a JSON number; empty or malformed numbers yield nil.
func DecimalPtr(num json.Number) *decimal.Decimal {
	if num.String() == "" {
		return nil
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return nil
	}
	return &d
}

// Int64Ptr parses an integral JSON number; empty or non-integral values yield nil.
func Int64Ptr(num json.Number) *int64 {
	if num.String() == "" {
		return nil
	}
	n, err := num.Int64()
	if err != nil {
		return nil
	}
	return &n
}

// RefID returns the id of a nested reference, or nil.
func RefID(r *Ref) *int64 {
	if r == nil {
		return nil
	}
	return Int64Ptr(r.ID)
}

// UnixTime converts Bsale's unix-seconds timestamps to UTC.
func UnixTime(num json.Number) *time.Time {
	n := Int64Ptr(num)
	if n == nil {
		return nil
	}
	t := time.Unix(*n, 0).UTC()
	return &t
}
