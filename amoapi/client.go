package amoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to one Amo tenant through the v4 REST API with the tenant's
// long-lived bearer token. Any non-2xx answer is returned as *APIError so
// callers can log the exact upstream status and body before aborting the
// current sync unit.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError carries a non-2xx Amo response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amo api error %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// NewClient builds a client for one tenant subdomain. AMO_API_BASE_URL
// overrides the production host, used by tests to point at a local server.
func NewClient(subdomain, token string) *Client {
	baseURL := strings.TrimSpace(os.Getenv("AMO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://" + subdomain + ".amocrm.ru"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ---- leads ----

func (c *Client) CreateLead(ctx context.Context, lead Lead) (int64, error) {
	body, err := c.call(ctx, http.MethodPost, "/api/v4/leads", []Lead{lead})
	if err != nil {
		return 0, err
	}
	var envelope createdEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, err
	}
	if len(envelope.Embedded.Leads) == 0 {
		return 0, errors.New("amo: create lead response carried no lead")
	}
	return envelope.Embedded.Leads[0].Id, nil
}

func (c *Client) UpdateLead(ctx context.Context, id int64, lead Lead) error {
	lead.Id = 0
	_, err := c.call(ctx, http.MethodPatch, fmt.Sprintf("/api/v4/leads/%d", id), lead)
	return err
}

// ---- contacts ----

func (c *Client) CreateContact(ctx context.Context, contact Contact) (int64, error) {
	body, err := c.call(ctx, http.MethodPost, "/api/v4/contacts", []Contact{contact})
	if err != nil {
		return 0, err
	}
	var envelope createdEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, err
	}
	if len(envelope.Embedded.Contacts) == 0 {
		return 0, errors.New("amo: create contact response carried no contact")
	}
	return envelope.Embedded.Contacts[0].Id, nil
}

func (c *Client) UpdateContact(ctx context.Context, id int64, contact Contact) error {
	contact.Id = 0
	_, err := c.call(ctx, http.MethodPatch, fmt.Sprintf("/api/v4/contacts/%d", id), contact)
	return err
}

// ---- companies ----

func (c *Client) CreateCompany(ctx context.Context, company Company) (int64, error) {
	body, err := c.call(ctx, http.MethodPost, "/api/v4/companies", []Company{company})
	if err != nil {
		return 0, err
	}
	var envelope createdEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, err
	}
	if len(envelope.Embedded.Companies) == 0 {
		return 0, errors.New("amo: create company response carried no company")
	}
	return envelope.Embedded.Companies[0].Id, nil
}

func (c *Client) UpdateCompany(ctx context.Context, id int64, company Company) error {
	company.Id = 0
	_, err := c.call(ctx, http.MethodPatch, fmt.Sprintf("/api/v4/companies/%d", id), company)
	return err
}

// LinkContactToLead attaches a contact to a lead.
func (c *Client) LinkContactToLead(ctx context.Context, leadId, contactId int64) error {
	payload := []map[string]any{
		{"to_entity_id": contactId, "to_entity_type": "contacts"},
	}
	_, err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/v4/leads/%d/link", leadId), payload)
	return err
}

// ---- references ----

// GetPipelines returns every pipeline with its embedded statuses.
func (c *Client) GetPipelines(ctx context.Context) ([]Pipeline, error) {
	body, err := c.call(ctx, http.MethodGet, "/api/v4/leads/pipelines", nil)
	if err != nil {
		return nil, err
	}
	var envelope pipelinesEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Embedded.Pipelines, nil
}

// GetUsers pages through the tenant's user list.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	var users []User
	for page := 1; ; page++ {
		body, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v4/users?limit=250&page=%d", page), nil)
		if err != nil {
			return nil, err
		}
		// Amo answers 204 with an empty body past the last page.
		if len(body) == 0 {
			break
		}
		var envelope usersEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Embedded.Users) == 0 {
			break
		}
		users = append(users, envelope.Embedded.Users...)
	}
	return users, nil
}

// ---- plumbing ----

func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
