// Package panel drives one order line's allocation panel: lazy loading,
// the pick/unpick operations and the bulk sequences, against the
// allocation store's HTTP API.
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"goventry.io/ordering/apperr"
	"goventry.io/ordering/models"
)

// Store is the coordinator's view of the allocation store. The HTTP
// implementation below is the production one; tests substitute their own.
type Store interface {
	ListStock(ctx context.Context, productID string) ([]*models.StockRecord, error)
	ListAllocations(ctx context.Context, orderID uint64) ([]*models.AllocationRecord, error)
	UpsertAllocation(ctx context.Context, orderID uint64, productID string, slotID uint64, qty int64, note string) (*models.AllocationRecord, error)
	DeleteAllocation(ctx context.Context, orderID uint64, allocationID string) error
}

type httpStore struct {
	client *resty.Client
}

// NewHTTPStore returns a Store speaking the api package's REST contract.
func NewHTTPStore(baseURL string) Store {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	return &httpStore{client: client}
}

// errorBody is the structured error the API responds with.
type errorBody struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

func (s *httpStore) ListStock(ctx context.Context, productID string) ([]*models.StockRecord, error) {
	var records []*models.StockRecord
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&records).
		Get(fmt.Sprintf("/api/v1/stock/%s", productID))
	if err := s.check(resp, err); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *httpStore) ListAllocations(ctx context.Context, orderID uint64) ([]*models.AllocationRecord, error) {
	var records []*models.AllocationRecord
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&records).
		Get(fmt.Sprintf("/api/v1/orders/%d/allocations", orderID))
	if err := s.check(resp, err); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *httpStore) UpsertAllocation(ctx context.Context, orderID uint64, productID string, slotID uint64, qty int64, note string) (*models.AllocationRecord, error) {
	var rec models.AllocationRecord
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"product_id": productID,
			"slot_id":    slotID,
			"qty":        qty,
			"note":       note,
		}).
		SetResult(&rec).
		Put(fmt.Sprintf("/api/v1/orders/%d/allocations", orderID))
	if err := s.check(resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *httpStore) DeleteAllocation(ctx context.Context, orderID uint64, allocationID string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/api/v1/orders/%d/allocations/%s", orderID, allocationID))
	return s.check(resp, err)
}

// check folds transport failures and structured error bodies into the
// engine's taxonomy.
func (s *httpStore) check(resp *resty.Response, err error) error {
	if err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, err, "allocation store unreachable")
	}
	if resp.IsSuccess() {
		return nil
	}

	var body errorBody
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil && body.Code != "" {
		return apperr.New(body.Code, "%s", body.Error)
	}
	return apperr.New(apperr.FromHTTPStatus(resp.StatusCode()), "allocation store returned %d", resp.StatusCode())
}
