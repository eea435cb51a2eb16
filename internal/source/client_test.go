package source

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicesync/pkg/models"
)

// fakeAPI is a minimal accounts-payable API.
type fakeAPI struct {
	t         *testing.T
	total     int
	stageOf   func(i int) string
	authCalls atomic.Int32
	pageCalls atomic.Int32
	invoice   http.HandlerFunc
	extra     map[string]http.HandlerFunc
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/Auth/Client" {
		f.authCalls.Add(1)
		var creds credentials
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.ClientSecret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok-123" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if h, ok := f.extra[r.URL.Path]; ok {
		h(w, r)
		return
	}

	if r.URL.Path == "/Invoice" {
		f.pageCalls.Add(1)
		if f.invoice != nil {
			f.invoice(w, r)
			return
		}
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		take, _ := strconv.Atoi(r.URL.Query().Get("take"))
		page := []models.SourceInvoice{}
		for i := skip; i < skip+take && i < f.total; i++ {
			stage := models.StageFinalReview
			if f.stageOf != nil {
				stage = f.stageOf(i)
			}
			page = append(page, models.SourceInvoice{ID: int64(i + 1), InvoiceNumber: fmt.Sprintf("INV-%d", i+1), Stage: stage})
		}
		_ = json.NewEncoder(w).Encode(page)
		return
	}

	http.NotFound(w, r)
}

func newTestClient(t *testing.T, api *fakeAPI, opts Options) *Client {
	t.Helper()
	api.t = t
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.ClientID == "" {
		opts.ClientID = "client"
	}
	if opts.ClientSecret == "" {
		opts.ClientSecret = "secret"
	}
	return NewClient(opts)
}

func TestFetchAllPaginatesUntilShortPage(t *testing.T) {
	api := &fakeAPI{total: 5500}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2000)
	require.NoError(t, err)

	assert.Len(t, res.Invoices, 5500)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int32(3), api.pageCalls.Load())
	assert.False(t, res.Partial)
	assert.False(t, res.Truncated)
	assert.Equal(t, http.StatusOK, res.Meta.Code)
	assert.Equal(t, http.MethodGet, res.Meta.Method)
	assert.Equal(t, int32(1), api.authCalls.Load(), "token should be reused across pages")
}

func TestFetchAllExactMultipleRequestsEmptyPage(t *testing.T) {
	api := &fakeAPI{total: 4}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2)
	require.NoError(t, err)
	assert.Len(t, res.Invoices, 4)
	assert.Equal(t, int32(3), api.pageCalls.Load())
}

func TestFetchAllKeepsOnlyRequestedStage(t *testing.T) {
	api := &fakeAPI{
		total: 10,
		stageOf: func(i int) string {
			if i%2 == 0 {
				return models.StageFinalReview
			}
			return "Approval"
		},
	}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2000)
	require.NoError(t, err)
	require.Len(t, res.Invoices, 5)
	for _, inv := range res.Invoices {
		assert.Equal(t, models.StageFinalReview, inv.Stage)
	}
}

func TestFetchAllStopsAtPageCeiling(t *testing.T) {
	api := &fakeAPI{total: 100}
	c := newTestClient(t, api, Options{MaxPages: 3})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 10)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Invoices, 30)
	assert.Equal(t, int32(3), api.pageCalls.Load())
}

func TestFetchAllUnauthorizedIsFatal(t *testing.T) {
	api := &fakeAPI{
		invoice: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Empty(t, res.Invoices)
}

func TestFetchAllBadCredentials(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, Options{ClientSecret: "wrong"})

	err := c.Authenticate(t.Context())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestFetchAllServerErrorKeepsFetched(t *testing.T) {
	api := &fakeAPI{}
	api.invoice = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") == "0" {
			_ = json.NewEncoder(w).Encode([]models.SourceInvoice{
				{ID: 1, Stage: models.StageFinalReview},
				{ID: 2, Stage: models.StageFinalReview},
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2)
	require.NoError(t, err)
	assert.Len(t, res.Invoices, 2)
	assert.Equal(t, http.StatusInternalServerError, res.Meta.Code)
	assert.False(t, res.Partial)
}

func TestFetchAllTimeoutReturnsPartial(t *testing.T) {
	api := &fakeAPI{}
	api.invoice = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") == "0" {
			_ = json.NewEncoder(w).Encode([]models.SourceInvoice{
				{ID: 1, Stage: models.StageFinalReview},
				{ID: 2, Stage: models.StageFinalReview},
			})
			return
		}
		time.Sleep(300 * time.Millisecond)
	}
	c := newTestClient(t, api, Options{Timeout: 100 * time.Millisecond})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Invoices, 2)
}

func TestFetchAllIsolatesMalformedInvoice(t *testing.T) {
	api := &fakeAPI{}
	api.invoice = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("skip") {
		case "0":
			_, _ = w.Write([]byte(`[
				{"id":1,"invoiceNumber":"INV-1","stage":"FinalReview","lines":[{"glCode":"6100","quantity":2,"unitCost":"5.50","subtotal":11}]},
				{"id":2,"invoiceNumber":"INV-2","stage":"FinalReview","lines":"not a list"},
				{"id":3,"invoiceNumber":"INV-3","stage":"FinalReview","lines":[{"glCode":"6100","quantity":"","unitCost":"abc","subtotal":"7.25"}]}
			]`))
		case "3":
			_, _ = w.Write([]byte(`[
				{"id":4,"invoiceNumber":"INV-4","stage":"FinalReview","lines":[]},
				{"id":5,"invoiceNumber":"INV-5","stage":"Approval","lines":"not a list"}
			]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 3)
	require.NoError(t, err)

	require.Len(t, res.Invoices, 3)
	assert.Equal(t, int64(1), res.Invoices[0].ID)
	assert.Equal(t, int64(3), res.Invoices[1].ID)
	assert.Equal(t, int64(4), res.Invoices[2].ID)
	assert.Equal(t, 2, res.Pages)
	assert.False(t, res.Partial)

	line := res.Invoices[1].Lines[0]
	assert.True(t, line.Quantity.IsZero())
	assert.True(t, line.UnitCost.IsZero())
	assert.Equal(t, "7.25", line.Subtotal.String())
	assert.Equal(t, "5.5", res.Invoices[0].Lines[0].UnitCost.String())

	require.Len(t, res.Rejected, 1, "records outside the stage are dropped even when malformed")
	assert.Equal(t, "2", res.Rejected[0].ID)
	assert.Equal(t, "INV-2", res.Rejected[0].InvoiceNumber)
	assert.NotEmpty(t, res.Rejected[0].Reason)

	o := res.Rejected[0].Outcome()
	assert.Equal(t, models.OutcomeFailed, o.Kind)
	assert.Contains(t, o.Message(), "Invoice #INV-2 (ID: 2): Invalid invoice data")
}

func TestFetchAllNonListBodyIsFatal(t *testing.T) {
	api := &fakeAPI{}
	api.invoice = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"maintenance"}`))
	}
	c := newTestClient(t, api, Options{})

	res, err := c.FetchAll(t.Context(), models.StageFinalReview, 2)
	require.Error(t, err)
	assert.Empty(t, res.Invoices)
	assert.Equal(t, http.StatusOK, StatusCode(err))
}

func TestReadyForPost(t *testing.T) {
	api := &fakeAPI{
		extra: map[string]http.HandlerFunc{
			"/Invoice/GetInvoicesReadyForPost/7": func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"exportInvoices":[{"id":11,"invoiceNumber":"A-1","stage":"Export"}]}`))
			},
			"/Invoice/GetInvoicesReadyForPost/8": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			"/Invoice/GetInvoicesReadyForPost/9": func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"exportInvoices":[{"id":"x-1","invoiceNumber":"B-1"},{"id":12,"invoiceNumber":"B-2"}]}`))
			},
		},
	}
	c := newTestClient(t, api, Options{})

	res, err := c.ReadyForPost(t.Context(), "7")
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, int64(11), res.Invoices[0].ID)

	res, err = c.ReadyForPost(t.Context(), "8")
	require.NoError(t, err)
	assert.Empty(t, res.Invoices)
	assert.Equal(t, http.StatusBadGateway, res.Meta.Code)

	res, err = c.ReadyForPost(t.Context(), "9")
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, int64(12), res.Invoices[0].ID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "x-1", res.Rejected[0].ID)
	assert.Equal(t, "B-1", res.Rejected[0].InvoiceNumber)
}

func TestSetInvoicePaid(t *testing.T) {
	var bodies []PaidUpdate
	api := &fakeAPI{
		extra: map[string]http.HandlerFunc{
			"/Invoice/SetInvoicePaid": func(w http.ResponseWriter, r *http.Request) {
				var u PaidUpdate
				_ = json.NewDecoder(r.Body).Decode(&u)
				bodies = append(bodies, u)
				if u.InvoiceID == 2 {
					_, _ = w.Write([]byte(`{"isSuccessful":false}`))
					return
				}
				_, _ = w.Write([]byte(`{"isSuccessful":true}`))
			},
		},
	}
	c := newTestClient(t, api, Options{})

	paidAt := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	results, err := c.SetInvoicePaid(t.Context(), []PaidUpdate{
		NewPaidUpdate(1, paidAt),
		NewPaidUpdate(2, paidAt),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.True(t, results[1].Accepted())
	require.Len(t, bodies, 2)
	assert.Equal(t, "2024-03-05 14:07:09", bodies[0].PaidDate)
	assert.True(t, bodies[0].Paid)
}

func TestSetInvoicePostingStatusDefaultsStatus(t *testing.T) {
	var got PostingStatusUpdate
	api := &fakeAPI{
		extra: map[string]http.HandlerFunc{
			"/Invoice/SetInvoicePostingStatus": func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				_, _ = w.Write([]byte(`{"isSuccessful":true}`))
			},
		},
	}
	c := newTestClient(t, api, Options{})

	results, err := c.SetInvoicePostingStatus(t.Context(), []PostingStatusUpdate{
		{InvoiceID: 9, PostingNumber: "77", Message: "Paid In Full"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, PostingStatusPosted, got.Status)
	assert.Equal(t, "77", got.PostingNumber)
}

func TestMutationUnauthorizedAborts(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		extra: map[string]http.HandlerFunc{
			"/Invoice/SetInvoicePaid": func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
	}
	c := newTestClient(t, api, Options{})

	_, err := c.SetInvoicePaid(t.Context(), []PaidUpdate{{InvoiceID: 1}, {InvoiceID: 2}})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestReferenceResources(t *testing.T) {
	var updatedPath string
	api := &fakeAPI{
		extra: map[string]http.HandlerFunc{
			"/Supplier": func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
					return
				}
				_, _ = w.Write([]byte(`[{"id":3,"entityName":"ACME Pty","code":"SUP1","name":"Paper Co"}]`))
			},
			"/TaxCode/5": func(w http.ResponseWriter, r *http.Request) {
				updatedPath = r.Method + " " + r.URL.Path
				w.WriteHeader(http.StatusNoContent)
			},
		},
	}
	c := newTestClient(t, api, Options{})

	suppliers, err := c.Suppliers().List(t.Context())
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.Equal(t, "SUP1", suppliers[0].Code)

	status, err := c.Suppliers().Create(t.Context(), Supplier{Code: "SUP2", Name: "Ink Co"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	_, err = c.TaxCodes().Update(t.Context(), 5, TaxCode{Name: "GST"})
	require.NoError(t, err)
	assert.Equal(t, "PUT /TaxCode/5", updatedPath)
}
