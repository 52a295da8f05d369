package bazonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"github.com/sirupsen/logrus"
)

// Client talks to Bazon's two APIs: the REST-ish external API for bulk
// listing and the RPC-style frontend API for mutations. It holds the
// short-lived access token plus the refresh token; Refresh exchanges the
// pair and reports the new tokens through the TokenSaver so the owning
// account row stays current.
//
// The client never retries: callers decide whether a failure means
// "refresh credentials" or "surface to the user".
type Client struct {
	baseURL      string
	authURL      string
	login        string
	password     string
	accessToken  string
	refreshToken string
	http         *http.Client

	// TokenSaver persists a freshly issued token pair. Optional.
	TokenSaver func(accessToken, refreshToken string) error
}

// Response is the structured result of one upstream call.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) JSON(dest any) error {
	return json.Unmarshal(r.Body, dest)
}

func NewClient(login, password, accessToken, refreshToken string) *Client {
	baseURL := strings.TrimSpace(os.Getenv("BAZON_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://kontrabaz.baz-on.ru"
	}
	authURL := strings.TrimSpace(os.Getenv("BAZON_AUTH_BASE_URL"))
	if authURL == "" {
		authURL = "https://a.baz-on.ru"
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		authURL:      strings.TrimRight(authURL, "/"),
		login:        login,
		password:     password,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) AccessToken() string  { return c.accessToken }
func (c *Client) RefreshToken() string { return c.refreshToken }

type tokenPair struct {
	AT string `json:"AT"`
	RT string `json:"RT"`
}

// Login exchanges the stored credentials for a fresh token pair.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{"login": c.login, "password": c.password}
	resp, err := c.postJSON(ctx, c.authURL+"/login/user", payload, false)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &APIError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	var pair tokenPair
	if err := resp.JSON(&pair); err != nil {
		return err
	}
	return c.adoptTokens(pair)
}

// Refresh exchanges the refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) error {
	payload := map[string]string{"RT": c.refreshToken}
	resp, err := c.postJSON(ctx, c.authURL+"/refresh/user", payload, true)
	if err != nil {
		return err
	}
	if !resp.OK() {
		// A dead refresh token means a full re-login.
		return c.Login(ctx)
	}
	var pair tokenPair
	if err := resp.JSON(&pair); err != nil {
		return err
	}
	return c.adoptTokens(pair)
}

func (c *Client) adoptTokens(pair tokenPair) error {
	if pair.AT == "" || pair.RT == "" {
		return errors.New("bazon: auth response missing token pair")
	}
	c.accessToken = pair.AT
	c.refreshToken = pair.RT
	if c.TokenSaver != nil {
		return c.TokenSaver(pair.AT, pair.RT)
	}
	return nil
}

// EnsureAuth logs in when the client has no access token yet.
func (c *Client) EnsureAuth(ctx context.Context) error {
	if c.accessToken != "" {
		return nil
	}
	return c.Login(ctx)
}

// ---- external API (bulk listing) ----

func (c *Client) getExternal(ctx context.Context, path string, params url.Values) (*Response, error) {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("order") == "" {
		params.Set("order", "desc")
	}
	endpoint := c.baseURL + "/external-api/v1/" + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) GetSaleDocuments(ctx context.Context, params url.Values) (*Response, error) {
	return c.getExternal(ctx, "getSaleDocuments", params)
}

func (c *Client) GetContractors(ctx context.Context, offset, limit int) (*Response, error) {
	params := url.Values{}
	params.Set("order", "asc")
	params.Set("limit", fmt.Sprint(limit))
	if offset > 0 {
		params.Set("offset", fmt.Sprint(offset))
	}
	return c.getExternal(ctx, "getContractors", params)
}

func (c *Client) GetOrders(ctx context.Context, offset, limit int, forSaleDocument string) (*Response, error) {
	params := url.Values{}
	params.Set("order", "asc")
	params.Set("limit", fmt.Sprint(limit))
	if offset > 0 {
		params.Set("offset", fmt.Sprint(offset))
	}
	if forSaleDocument != "" {
		params.Set("for_sale_document", forSaleDocument)
	}
	return c.getExternal(ctx, "getOrders", params)
}

func (c *Client) GetProducts(ctx context.Context, params url.Values) (*Response, error) {
	return c.getExternal(ctx, "getProducts", params)
}

// DecodeSaleDocuments unwraps the listing envelope.
func DecodeSaleDocuments(resp *Response) ([]SaleDocumentPayload, error) {
	var envelope saleDocumentsEnvelope
	if err := resp.JSON(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Response) == 0 {
		return nil, nil
	}
	return envelope.Response[0].Result.SaleDocuments, nil
}

// DecodeContractors unwraps the contractor listing envelope.
func DecodeContractors(resp *Response) ([]ContractorPayload, error) {
	var envelope contractorsEnvelope
	if err := resp.JSON(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Response) == 0 {
		return nil, nil
	}
	return envelope.Response[0].Result.Contractors, nil
}

// ---- shared plumbing ----

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, bearer bool) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func logEmbeddedError(op string, errValue string) {
	logger := config.GetLogger()
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"module":   "bazonapi",
		"funcName": op,
	}).Warn("bazon reported embedded error: " + errValue)
}
