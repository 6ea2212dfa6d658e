package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/models"
	"github.com/berckan/whoisbatch/internal/normalize"
	"github.com/berckan/whoisbatch/internal/retry"
)

const (
	// MaxBulkDomains caps a single bulk request
	MaxBulkDomains = 50
	// BulkConcurrency is the number of parallel lookups per bulk request
	BulkConcurrency = 5
)

// Handler serves lookups over HTTP
type Handler struct {
	client lookup.Client
	policy retry.Policy
	logger *log.Logger
}

// New returns the API routes backed by client
func New(client lookup.Client, policy retry.Policy, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{client: client, policy: policy, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", h.CheckDomain)
	mux.HandleFunc("/lookup-bulk", h.CheckBulk)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// CheckDomain looks up a single domain
func (h *Handler) CheckDomain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	domain := withTLD(r.FormValue("domain"))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	q := models.DomainQuery{Domain: domain, Index: 1, Batch: 1}
	out, _ := h.policy.Lookup(r.Context(), h.client, domain)
	writeJSON(w, http.StatusOK, normalize.Normalize(q, out))
}

// CheckBulk looks up newline-separated domains, at most MaxBulkDomains
func (h *Handler) CheckBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var domains []string
	for _, line := range strings.Split(r.FormValue("domains"), "\n") {
		if d := withTLD(line); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		writeError(w, http.StatusBadRequest, "no domains provided")
		return
	}
	if len(domains) > MaxBulkDomains {
		domains = domains[:MaxBulkDomains]
	}

	ctx := r.Context()
	results := make([]models.OutputRecord, len(domains))
	var g errgroup.Group
	g.SetLimit(BulkConcurrency)
	for i, d := range domains {
		i, d := i, d
		g.Go(func() error {
			q := models.DomainQuery{Domain: d, Index: i + 1, Batch: 1}
			out, _ := h.policy.Lookup(ctx, h.client, d)
			results[i] = normalize.Normalize(q, out)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		h.logger.Printf("[api] bulk request of %d domains abandoned: %v", len(domains), ctx.Err())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// withTLD trims the input and adds .com to a bare label
func withTLD(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain != "" && !strings.Contains(domain, ".") {
		domain += ".com"
	}
	return domain
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
