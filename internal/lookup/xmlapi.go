package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/berckan/whoisbatch/internal/models"
)

// DefaultXMLEndpoint is the WhoisXML API lookup URL
const DefaultXMLEndpoint = "https://www.whoisxmlapi.com/whoisserver/WhoisService"

// ErrNoAPIKey is returned when the WhoisXML backend has no key configured
var ErrNoAPIKey = errors.New("whoisxml api key not configured")

// XMLClient looks domains up through the WhoisXML HTTP API
type XMLClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// XMLOption configures an XMLClient
type XMLOption func(*XMLClient)

// WithEndpoint overrides the API URL
func WithEndpoint(endpoint string) XMLOption {
	return func(c *XMLClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) XMLOption {
	return func(c *XMLClient) { c.client = hc }
}

// NewXML creates a WhoisXML API client
func NewXML(apiKey string, opts ...XMLOption) (*XMLClient, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &XMLClient{
		apiKey:   apiKey,
		endpoint: DefaultXMLEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type xmlResponse struct {
	WhoisRecord  *xmlRecord `json:"WhoisRecord"`
	ErrorMessage *struct {
		ErrorCode string `json:"errorCode"`
		Msg       string `json:"msg"`
	} `json:"ErrorMessage"`
}

type xmlRecord struct {
	DomainName    string     `json:"domainName"`
	RegistrarName string     `json:"registrarName"`
	CreatedDate   string     `json:"createdDate"`
	UpdatedDate   string     `json:"updatedDate"`
	ExpiresDate   string     `json:"expiresDate"`
	NameServers   *struct {
		HostNames []string `json:"hostNames"`
	} `json:"nameServers"`
	DataError    string     `json:"dataError"`
	RegistryData *xmlRecord `json:"registryData"`
}

// Lookup performs one API request
func (c *XMLClient) Lookup(ctx context.Context, domain string) models.Outcome {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("domainName", domain)
	q.Set("outputFormat", "JSON")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: %v", domain, err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: %v", domain, redactKey(err, c.apiKey)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return models.Failed(fmt.Sprintf("whoisxml %s: status code %d", domain, resp.StatusCode))
	}

	var body xmlResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: malformed response: %v", domain, err))
	}
	if body.ErrorMessage != nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: %s %s", domain, body.ErrorMessage.ErrorCode, body.ErrorMessage.Msg))
	}
	if body.WhoisRecord == nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: response has no WhoisRecord", domain))
	}

	rec := body.WhoisRecord
	if rec.DataError == "MISSING_WHOIS_DATA" && rec.RegistryData == nil {
		return models.Failed(fmt.Sprintf("whoisxml %s: %v", domain, ErrNoMatch))
	}
	return models.Succeeded(rec.registration())
}

// registration prefers the top-level record and falls back to registry data
func (r *xmlRecord) registration() models.Registration {
	reg := models.Registration{
		DomainName: scalarString(r.DomainName),
		Registrar:  r.RegistrarName,
		CreatedAt:  scalarDate(r.CreatedDate),
		UpdatedAt:  scalarDate(r.UpdatedDate),
		ExpiresAt:  scalarDate(r.ExpiresDate),
	}
	if r.NameServers != nil {
		for _, h := range r.NameServers.HostNames {
			reg.NameServers = appendHost(reg.NameServers, h)
		}
	}

	if r.RegistryData == nil {
		return reg
	}
	fallback := r.RegistryData.registration()
	if _, ok := reg.DomainName.First(); !ok {
		reg.DomainName = fallback.DomainName
	}
	if reg.Registrar == "" {
		reg.Registrar = fallback.Registrar
	}
	if _, ok := reg.CreatedAt.First(); !ok {
		reg.CreatedAt = fallback.CreatedAt
	}
	if _, ok := reg.UpdatedAt.First(); !ok {
		reg.UpdatedAt = fallback.UpdatedAt
	}
	if _, ok := reg.ExpiresAt.First(); !ok {
		reg.ExpiresAt = fallback.ExpiresAt
	}
	if len(reg.NameServers) == 0 {
		reg.NameServers = fallback.NameServers
	}
	return reg
}

func scalarString(s string) models.Maybe[string] {
	if s = strings.TrimSpace(s); s == "" {
		return models.Absent[string]()
	}
	return models.Scalar(s)
}

func scalarDate(s string) models.Maybe[time.Time] {
	t, ok := ParseDate(s)
	if !ok {
		return models.Absent[time.Time]()
	}
	return models.Scalar(t)
}

// url.Error includes the request URL, which carries the key
func redactKey(err error, key string) string {
	return strings.ReplaceAll(err.Error(), key, "REDACTED")
}
