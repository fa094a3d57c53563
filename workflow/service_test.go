package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/destination"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/imperiopatitas/bsale_etl/upsert"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBsale serves one page per list resource followed by an empty page.
type fakeBsale struct {
	mu           sync.Mutex
	lists        map[string][]string
	prices       map[string]string
	costs        map[string]string
	failDocs     bool
	documentArgs []string
}

func newFakeBsale() *fakeBsale {
	return &fakeBsale{lists: map[string][]string{}, prices: map[string]string{}, costs: map[string]string{}}
}

func (f *fakeBsale) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	switch {
	case path == bsale.PathDocuments && f.failDocs:
		http.Error(w, "upstream down", http.StatusBadGateway)
	case strings.HasPrefix(path, "price_lists/"):
		if v, ok := f.prices[q.Get("variantid")]; ok {
			fmt.Fprintf(w, `{"items":[{"id":1,"variantValue":%s}]}`, v)
			return
		}
		fmt.Fprint(w, `{"items":[]}`)
	case strings.HasPrefix(path, "variants/"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "variants/"), "/costs.json")
		if v, ok := f.costs[id]; ok {
			fmt.Fprintf(w, `{"averageCost":%s}`, v)
			return
		}
		http.NotFound(w, r)
	default:
		if path == bsale.PathDocuments {
			f.documentArgs = append(f.documentArgs, q.Get("emissiondaterange"))
		}
		items := f.lists[path]
		if q.Get("offset") != "0" {
			items = nil
		}
		fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	}
}

type harness struct {
	bsale   *fakeBsale
	mem     *destination.Memory
	service *Service
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	fake := newFakeBsale()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := bsale.NewClient(bsale.ClientOptions{Token: "secret", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	mem := destination.NewMemory()
	svc := NewService(Dependencies{
		Source:      client,
		Destination: mem,
		Engine:      upsert.NewEngine(mem, upsert.Options{BatchSize: 50}),
	}, opts)
	return &harness{bsale: fake, mem: mem, service: svc}
}

func TestSyncClientsEndToEndIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathClients] = []string{`{"id":1,"firstName":"Ana","lastName":"Ruiz"}`}
	ctx := context.Background()

	sum, err := h.service.SyncClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, EntityClients, sum.Entity)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 1, sum.Upserted)

	rows := h.mem.Rows(models.TableCliente)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["nombre"])
	assert.Equal(t, "Ruiz", rows[0]["apellido"])
	assert.Nil(t, rows[0]["rut"])

	_, err = h.service.SyncClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.mem.Count(models.TableCliente))
}

func TestSyncClientsCountsRejectionsAndDuplicates(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathClients] = []string{
		`{"id":1,"firstName":"Ana"}`,
		`{"id":2,"firstName":"null"}`,
		`{"id":1,"firstName":"Ana María"}`,
		`{"id":{"bad":true}}`,
	}

	sum, err := h.service.SyncClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Fetched)
	assert.Equal(t, 2, sum.Valid)
	assert.Equal(t, 2, sum.Rejected)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, "Ana María", h.mem.Rows(models.TableCliente)[0]["nombre"])
}

func TestSyncProductsPicksFirstValidActiveVariant(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathProducts] = []string{
		`{"id":10,"name":"Patitas","variants":{"items":[
			{"id":100,"code":"OLD","state":1},
			{"id":101,"code":"","state":0},
			{"id":102,"code":"SKU-102","barCode":"780","state":0,"track":1},
			{"id":103,"code":"SKU-103","state":0}]}}`,
		`{"id":11,"name":"Sin variantes","variants":{"items":[{"id":110,"code":"X","state":1}]}}`,
	}
	h.bsale.prices["101"] = "1000"
	h.bsale.prices["102"] = "2500.5"
	h.bsale.costs["101"] = "500"
	h.bsale.costs["102"] = "1200"

	sum, err := h.service.SyncProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 1, sum.Skipped)

	rows := h.mem.Rows(models.TableProducto)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(102), rows[0]["id_bsale"])
	assert.Equal(t, "SKU-102", rows[0]["codigo_sku"])
	assert.Equal(t, true, rows[0]["controla_stock"])
	assert.True(t, decimal.RequireFromString("2500.5").Equal(rows[0]["precio_neto"].(decimal.Decimal)))
}

func TestSyncProductsFailsWhenNothingValidates(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathProducts] = []string{
		`{"id":10,"name":"Sin precio","variants":{"items":[{"id":100,"code":"A","state":0}]}}`,
	}
	h.bsale.costs["100"] = "10"

	sum, err := h.service.SyncProducts(context.Background())
	require.ErrorIs(t, err, ErrNoValidProducts)
	assert.Equal(t, 1, sum.Rejected)
	assert.Zero(t, h.mem.Count(models.TableProducto))
}

func seedReferences(t *testing.T, mem *destination.Memory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.InsertRows(ctx, models.ClienteTable, []models.Row{models.Cliente{IdBsale: 1, Nombre: "Ana"}.Row()}))
	require.NoError(t, mem.InsertRows(ctx, models.ProductoTable, []models.Row{models.Producto{
		IdBsale: 102, Nombre: "Patitas", CodigoSku: "SKU-102", PrecioNeto: decimal.NewFromInt(1000), Estado: true,
	}.Row()}))
}

func TestSyncDocumentsNullsUnknownReferencesAndDropsBadDetails(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	seedReferences(t, h.mem)
	h.bsale.lists[bsale.PathDocuments] = []string{
		`{"id":500,"number":77,"emissionDate":1700000000,"netAmount":1000,"taxAmount":190,"totalAmount":1190,
		  "client":{"id":1},"document_type":{"id":5},
		  "details":{"items":[
			{"id":1,"quantity":1,"netUnitValue":1000,"discount":0,"netTotal":1000,"variant":{"id":102}},
			{"id":2,"quantity":2,"netUnitValue":100,"netTotal":200,"variant":{"id":999}},
			{"id":3,"quantity":0,"netUnitValue":100,"netTotal":0,"variant":{"id":102}}]}}`,
		`{"id":501,"emissionDate":1700000000,"totalAmount":500,"client":{"id":42},"details":{"items":[]}}`,
		`{"id":502,"emissionDate":1700000000,"totalAmount":0,"details":{"items":[{"id":9,"quantity":1,"netUnitValue":1,"netTotal":1,"variant":{"id":102}}]}}`,
	}

	sum, err := h.service.SyncDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Fetched)
	assert.Equal(t, 2, sum.Valid)
	assert.Equal(t, 1, sum.Rejected)
	require.NotNil(t, sum.Details)
	assert.Equal(t, 2, sum.Details.Valid)
	assert.Equal(t, 1, sum.Details.Rejected)
	assert.Equal(t, 1, sum.Details.Skipped)

	docs := h.mem.Rows(models.TableDocumentoVenta)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(1), docs[0]["id_cliente"])
	assert.Nil(t, docs[1]["id_cliente"])

	details := h.mem.Rows(models.TableDetalleDocumento)
	require.Len(t, details, 2)
	assert.Equal(t, int64(102), details[0]["id_producto"])
	assert.Nil(t, details[1]["id_producto"])
	assert.Equal(t, int64(500), details[1]["id_documento"])
}

func TestSyncDocumentsKeepsReferencesWithoutFKChecks(t *testing.T) {
	opts := DefaultOptions()
	opts.FKChecks = false
	h := newHarness(t, opts)
	h.bsale.lists[bsale.PathDocuments] = []string{
		`{"id":501,"emissionDate":1700000000,"totalAmount":500,"client":{"id":42},"details":{"items":[]}}`,
	}

	_, err := h.service.SyncDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.mem.Rows(models.TableDocumentoVenta)[0]["id_cliente"])
}

func TestSyncDocumentsFetchFailureIsFatal(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.failDocs = true

	_, err := h.service.SyncDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrDocumentFetch)
	var apiErr *bsale.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Zero(t, h.mem.Count(models.TableDocumentoVenta))
}

func TestSyncDocumentsSendsEmissionRange(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	since := time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)

	_, err := h.service.SyncDocuments(context.Background(), &since)
	require.NoError(t, err)
	require.NotEmpty(t, h.bsale.documentArgs)
	assert.True(t, strings.HasPrefix(h.bsale.documentArgs[0], "["+strconv.FormatInt(since.Unix(), 10)+","))
}

func TestFullResyncStopsAtFatalStep(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathClients] = []string{`{"id":1,"firstName":"Ana"}`}
	h.bsale.lists[bsale.PathProducts] = []string{`{"id":10,"name":"P","variants":{"items":[{"id":100,"code":"A","state":0}]}}`}
	h.bsale.lists[bsale.PathDocuments] = []string{`{"id":501,"emissionDate":1700000000,"totalAmount":500}`}

	sums, err := h.service.FullResync(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoValidProducts)
	require.Len(t, sums, 2)
	assert.Equal(t, EntityClients, sums[0].Entity)
	assert.Equal(t, 1, h.mem.Count(models.TableCliente))
	assert.Zero(t, h.mem.Count(models.TableDocumentoVenta))
}

func TestCleanAndReloadErasesChildrenFirst(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	seedReferences(t, h.mem)
	h.bsale.lists[bsale.PathClients] = []string{`{"id":7,"firstName":"Luis"}`}
	h.bsale.lists[bsale.PathProducts] = []string{`{"id":10,"name":"P","variants":{"items":[{"id":100,"code":"A","state":0}]}}`}
	h.bsale.prices["100"] = "10"
	h.bsale.costs["100"] = "0"

	sums, err := h.service.CleanAndReload(context.Background())
	require.NoError(t, err)
	require.Len(t, sums, 3)

	var erased []string
	for _, op := range h.mem.Operations() {
		if op.Kind == destination.StatementDeleteAll {
			erased = append(erased, op.Table)
		}
	}
	assert.Equal(t, []string{models.TableDetalleDocumento, models.TableDocumentoVenta, models.TableProducto, models.TableCliente}, erased)

	clients := h.mem.Rows(models.TableCliente)
	require.Len(t, clients, 1)
	assert.Equal(t, int64(7), clients[0]["id_bsale"])
}

func TestSyncRejectsConcurrentRunForSameEntity(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	locker := h.service.locker

	err := locker.WithLock(context.Background(), lockName(EntityClients), func(ctx context.Context) error {
		_, err := h.service.SyncClients(ctx)
		return err
	})
	require.ErrorIs(t, err, ErrSyncInProgress)

	_, err = h.service.SyncProducts(context.Background())
	require.NoError(t, err, "other entities are not blocked")
}

func TestLocalLockerReleasesAfterFailure(t *testing.T) {
	l := NewLocalLocker()
	boom := errors.New("boom")
	require.ErrorIs(t, l.WithLock(context.Background(), "k", func(context.Context) error { return boom }), boom)
	require.NoError(t, l.WithLock(context.Background(), "k", func(context.Context) error { return nil }))
}

func TestParseEntity(t *testing.T) {
	for _, s := range []string{"clients", "Products", " documents ", "all"} {
		_, err := ParseEntity(s)
		require.NoError(t, err, s)
	}
	_, err := ParseEntity("invoices")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestSampleDoesNotWrite(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.bsale.lists[bsale.PathClients] = []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}

	items, err := h.service.Sample(context.Background(), EntityClients, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	var first struct{ ID int }
	require.NoError(t, json.Unmarshal(items[0], &first))
	assert.Equal(t, 1, first.ID)
	assert.Empty(t, h.mem.Operations())

	_, err = h.service.Sample(context.Background(), EntityAll, 2)
	require.ErrorIs(t, err, ErrUnknownEntity)
}

type recordingMirror struct {
	tables []string
	fail   bool
}

func (m *recordingMirror) Name() string { return "recording" }

func (m *recordingMirror) Mirror(ctx context.Context, table models.Table, rows []models.Row) error {
	m.tables = append(m.tables, table.Name)
	if m.fail {
		return errors.New("sheets quota")
	}
	return nil
}

func TestMirrorFailureDoesNotFailSync(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mirror := &recordingMirror{fail: true}
	h.service.mirrors = []Mirror{mirror}
	h.bsale.lists[bsale.PathClients] = []string{`{"id":1,"firstName":"Ana"}`}

	_, err := h.service.SyncClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{models.TableCliente}, mirror.tables)
}
