package bazonapi

import (
	"context"
	"encoding/json"
	"fmt"
)

// The frontend API is RPC-shaped: one POST per operation with the body
// nested under the operation name, the response echoed back under the same
// key. Transport success and business failure are reported separately: a
// 200 body may still carry a per-operation "error" field, which is how a
// stale or already-taken document lock comes back.

func (c *Client) frontendCall(ctx context.Context, op string, reqBody any) (*Response, error) {
	return c.frontendCallMulti(ctx, op, map[string]any{op: reqBody}, op)
}

// frontendCallMulti posts several operations in one envelope. errOp names
// the operation whose embedded error should be inspected.
func (c *Client) frontendCallMulti(ctx context.Context, query string, request map[string]any, errOp string) (*Response, error) {
	payload := map[string]any{"request": request}
	resp, err := c.postJSON(ctx, c.baseURL+"/frontend-api/?"+query, payload, true)
	if err != nil {
		return nil, err
	}
	if resp.OK() && errOp != "" {
		if errValue := embeddedError(resp.Body, errOp); errValue != "" {
			if isLockError(errValue) {
				return resp, fmt.Errorf("%w: %s", ErrInvalidLock, errValue)
			}
			// Other embedded errors pass through unmodified; the caller
			// branches on status/body.
			logEmbeddedError(errOp, errValue)
		}
	}
	return resp, nil
}

func embeddedError(body []byte, op string) string {
	var envelope struct {
		Response map[string]json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	raw, ok := envelope.Response[op]
	if !ok {
		return ""
	}
	var inner struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil || inner.Error == nil {
		return ""
	}
	if s, ok := inner.Error.(string); ok {
		return s
	}
	b, _ := json.Marshal(inner.Error)
	return string(b)
}

// ---- document locks ----

func (c *Client) SetDocumentLock(ctx context.Context, number string, prevLockKey string) (*Response, error) {
	var prev any = false
	if prevLockKey != "" {
		prev = prevLockKey
	}
	return c.frontendCall(ctx, "setDocumentLock", map[string]any{
		"type":        "sale",
		"number":      number,
		"prevLockKey": prev,
	})
}

func (c *Client) DropDocumentLock(ctx context.Context, documentId int64, lockKey string) (*Response, error) {
	return c.frontendCall(ctx, "dropDocumentLock", map[string]any{
		"documentID": documentId,
		"lockKey":    lockKey,
		"_":          "",
	})
}

// GenerateLockKey acquires the advisory lock for a document number and
// returns the opaque key, or "" when the lock was not granted.
func (c *Client) GenerateLockKey(ctx context.Context, number string) (string, error) {
	resp, err := c.SetDocumentLock(ctx, number, "")
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", &APIError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	var envelope struct {
		Response struct {
			SetDocumentLock struct {
				LockKey string `json:"lockKey"`
			} `json:"setDocumentLock"`
		} `json:"response"`
	}
	if err := resp.JSON(&envelope); err != nil {
		return "", err
	}
	return envelope.Response.SetDocumentLock.LockKey, nil
}

// ---- document reads ----

func (c *Client) GetDetailDocument(ctx context.Context, number string) (*Response, error) {
	request := map[string]any{
		"getDocument": map[string]any{
			"number": number,
			"type":   "sale",
			"_":      "",
		},
		"getDocumentItems": documentItemsRequest(number),
	}
	return c.frontendCallMulti(ctx, "getDocument,getDocumentItems", request, "getDocument")
}

func (c *Client) GetDocumentItems(ctx context.Context, number string) (*Response, error) {
	return c.frontendCall(ctx, "getDocumentItems", documentItemsRequest(number))
}

func documentItemsRequest(number string) map[string]any {
	return map[string]any{
		"order":    map[string]any{"id": "asc"},
		"viewMode": "sale",
		"where": map[string]any{
			"documentNumber": number,
			"documentType":   "sale",
			"state!=":        []string{"removed", "removed_to_other_sale"},
		},
		"_": "",
	}
}

func (c *Client) GetItems(ctx context.Context, q ItemsQuery) (*Response, error) {
	if q.Limit <= 0 {
		q.Limit = 250
	}
	if q.CategoryId <= 0 {
		q.CategoryId = 1
	}
	if len(q.StorageIds) == 0 {
		q.StorageIds = []int{1, 2, 3}
	}
	request := map[string]any{
		"offset":        q.Offset,
		"limit":         q.Limit,
		"sorter":        [][]string{{"id", "desc"}},
		"calcFoundRows": true,
		"filter":        []any{},
		"categoryID":    q.CategoryId,
		"viewMode":      fmt.Sprintf("category-%d", q.CategoryId),
		"storagesFilter": map[string]any{
			"withReserves":       q.WithReserve,
			"storagesIds":        q.StorageIds,
			"byStoragesRemnants": map[string]any{},
		},
		"a11yGridSearchOn": 1,
		"_":                "",
	}
	if q.Search != "" {
		request["searchByPartNumber"] = q.Search
	}
	return c.frontendCall(ctx, "getProducts", request)
}

func (c *Client) GetDocumentItemsByBuffer(ctx context.Context, items []SaleItem) (*Response, error) {
	return c.frontendCall(ctx, "getDocumentItemsByBuffer", map[string]any{
		"bufferItems": items,
		"viewMode":    "sale",
		"_":           "",
	})
}

// ---- document mutations (lock-guarded: every call needs a valid key) ----

func (c *Client) SaleAddItems(ctx context.Context, documentId int64, lockKey string, items []SaleItem) (*Response, error) {
	return c.frontendCall(ctx, "saleAddItems", map[string]any{
		"bufferItems": items,
		"documentID":  documentId,
		"lockKey":     lockKey,
		"_":           "",
	})
}

func (c *Client) SaleRemoveItems(ctx context.Context, documentId int64, lockKey string, itemIds []int64) (*Response, error) {
	return c.frontendCall(ctx, "saleRemoveItems", map[string]any{
		"itemsIDs":   itemIds,
		"documentID": documentId,
		"lockKey":    lockKey,
		"_":          "",
	})
}

func (c *Client) SaleReserve(ctx context.Context, documentId int64, lockKey string) (*Response, error) {
	return c.saleMove(ctx, "saleReserve", documentId, lockKey)
}

func (c *Client) SaleCancel(ctx context.Context, documentId int64, lockKey string) (*Response, error) {
	return c.saleMove(ctx, "saleCancel", documentId, lockKey)
}

func (c *Client) SaleRecreate(ctx context.Context, documentId int64, lockKey string) (*Response, error) {
	return c.saleMove(ctx, "saleRecreate", documentId, lockKey)
}

func (c *Client) SaleIssue(ctx context.Context, documentId int64, lockKey string) (*Response, error) {
	return c.saleMove(ctx, "saleIssue", documentId, lockKey)
}

func (c *Client) saleMove(ctx context.Context, op string, documentId int64, lockKey string) (*Response, error) {
	return c.frontendCall(ctx, op, map[string]any{
		"documentID": documentId,
		"lockKey":    lockKey,
	})
}

func (c *Client) SaleEditData(ctx context.Context, documentId int64, lockKey string, fields map[string]any) (*Response, error) {
	document := map[string]any{"id": documentId}
	for k, v := range fields {
		document[k] = v
	}
	return c.frontendCall(ctx, "saleEditData", map[string]any{
		"Document":   document,
		"documentID": documentId,
		"lockKey":    lockKey,
	})
}

func (c *Client) SaleCreate(ctx context.Context, buffer SaleBuffer, items []SaleItem) (*Response, error) {
	if items == nil {
		items = []SaleItem{}
	}
	return c.frontendCall(ctx, "saleCreate", map[string]any{
		"buffer":      buffer,
		"bufferItems": items,
	})
}

// ---- payments ----

func (c *Client) SaleAddPay(ctx context.Context, documentId int64, lockKey string, pay Payment) (*Response, error) {
	return c.frontendCall(ctx, "saleAddPay", map[string]any{
		"documentID": documentId,
		"lockKey":    lockKey,
		"paySource":  pay.PaySource,
		"paySum":     pay.PaySum,
		"comment":    pay.Comment,
	})
}

func (c *Client) SalePayBack(ctx context.Context, documentId int64, lockKey string, pay Payment) (*Response, error) {
	return c.frontendCall(ctx, "salePayBack", map[string]any{
		"documentID": documentId,
		"lockKey":    lockKey,
		"paySource":  pay.PaySource,
		"paySum":     pay.PaySum,
	})
}

func (c *Client) GetSalePaySources(ctx context.Context) (*Response, error) {
	return c.frontendCall(ctx, "getSalePaySources", map[string]any{"_": ""})
}

func (c *Client) GetSalePaidSources(ctx context.Context, documentId int64) (*Response, error) {
	return c.frontendCall(ctx, "getSalePaidSources", map[string]any{
		"documentID": documentId,
		"_":          "",
	})
}

// ---- references ----

func (c *Client) GetStoragesReference(ctx context.Context) (*Response, error) {
	return c.frontendCall(ctx, "getStoragesReference", map[string]any{"_": ""})
}

func (c *Client) GetSaleSourcesReference(ctx context.Context) (*Response, error) {
	return c.frontendCall(ctx, "getSaleSourcesReference", map[string]any{"_": ""})
}

func (c *Client) GetUsers(ctx context.Context, offset, limit int) (*Response, error) {
	return c.frontendCall(ctx, "getUsers", map[string]any{
		"offset":        offset,
		"limit":         limit,
		"sorter":        [][]string{{"id", "desc"}},
		"calcFoundRows": true,
		"filter": []any{
			[]any{"isSupportUser", false},
			[]any{"roleInCompany", []string{"", "super"}},
		},
		"viewMode": "users-ui3",
		"_":        "",
	})
}

// ---- cash-register receipts ----

func (c *Client) GetDocumentFormPrint(ctx context.Context, documentId int64, printType string) (*Response, error) {
	if printType == "" {
		printType = "default"
	}
	return c.frontendCall(ctx, "getDocumentFormPrint", map[string]any{
		"id":        documentId,
		"printType": printType,
		"_":         "",
	})
}

func (c *Client) FiscalCheckRefund(ctx context.Context, documentId int64) (*Response, error) {
	return c.frontendCall(ctx, "fiscalCheckRefund", map[string]any{
		"documentID": documentId,
		"_":          "",
	})
}
