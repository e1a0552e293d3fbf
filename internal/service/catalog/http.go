package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voice-invoice-service/internal/models"
)

const defaultPageSize = 100

// maxPages bounds pagination against a server that never reports the end.
const maxPages = 1000

// HTTPProvider pages through the backend catalog endpoints
// GET {BaseURL}/clients and GET {BaseURL}/products.
type HTTPProvider struct {
	BaseURL  string
	Token    string
	PageSize int
	Client   *http.Client
}

// NewHTTPProvider returns a provider for baseURL.
func NewHTTPProvider(baseURL, token string, pageSize int, timeout time.Duration) *HTTPProvider {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &HTTPProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		PageSize: pageSize,
		Client:   &http.Client{Timeout: timeout},
	}
}

type pagination struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

type page[T any] struct {
	Data       []T        `json:"data"`
	Pagination pagination `json:"pagination"`
}

// Clients implements Provider.
func (p *HTTPProvider) Clients(ctx context.Context) ([]models.ClientCandidate, error) {
	return fetchAll[models.ClientCandidate](ctx, p, "clients")
}

// Products implements Provider.
func (p *HTTPProvider) Products(ctx context.Context) ([]models.ProductCandidate, error) {
	return fetchAll[models.ProductCandidate](ctx, p, "products")
}

func fetchAll[T any](ctx context.Context, p *HTTPProvider, resource string) ([]T, error) {
	var all []T
	for n := 1; n <= maxPages; n++ {
		pg, err := fetchPage[T](ctx, p, resource, n)
		if err != nil {
			return nil, err
		}
		all = append(all, pg.Data...)
		if len(pg.Data) == 0 || pg.Pagination.TotalPages == 0 || n >= pg.Pagination.TotalPages {
			return all, nil
		}
	}
	return nil, fmt.Errorf("%s: more than %d pages", resource, maxPages)
}

func fetchPage[T any](ctx context.Context, p *HTTPProvider, resource string, n int) (*page[T], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(n))
	q.Set("limit", strconv.Itoa(p.PageSize))
	u := fmt.Sprintf("%s/%s?%s", p.BaseURL, resource, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s page %d: %w", resource, n, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s page %d: status %d: %s", resource, n, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pg page[T]
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("%s page %d: decode: %w", resource, n, err)
	}
	return &pg, nil
}
