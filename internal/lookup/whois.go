package lookup

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"

	"github.com/berckan/whoisbatch/internal/models"
)

// DefaultDNSServer is used for the name server fallback when none is configured
const DefaultDNSServer = "8.8.8.8:53"

// WhoisClient looks domains up over the WHOIS protocol
type WhoisClient struct {
	query      func(domain string) (string, error)
	resolver   *net.Resolver
	timeout    time.Duration
	nsFallback bool
}

// WhoisOption configures a WhoisClient
type WhoisOption func(*WhoisClient)

// WithTimeout bounds a single WHOIS query, referrals included
func WithTimeout(d time.Duration) WhoisOption {
	return func(c *WhoisClient) { c.timeout = d }
}

// WithNSFallback resolves NS records through dnsServer when the WHOIS
// response lists no name servers
func WithNSFallback(dnsServer string) WhoisOption {
	return func(c *WhoisClient) {
		if dnsServer == "" {
			dnsServer = DefaultDNSServer
		}
		c.nsFallback = true
		c.resolver = newResolver(dnsServer)
	}
}

// withQuery replaces the network query, for tests
func withQuery(q func(domain string) (string, error)) WhoisOption {
	return func(c *WhoisClient) { c.query = q }
}

// NewWhois creates a WHOIS lookup client
func NewWhois(opts ...WhoisOption) *WhoisClient {
	c := &WhoisClient{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.query == nil {
		client := whois.NewClient()
		client.SetTimeout(c.timeout)
		c.query = func(domain string) (string, error) {
			return client.Whois(domain)
		}
	}
	return c
}

func newResolver(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, server)
		},
	}
}

type whoisResult struct {
	text string
	err  error
}

// Lookup performs one WHOIS query. The protocol client has no context
// support, so a cancelled ctx abandons the query; it still ends within the
// client timeout.
func (c *WhoisClient) Lookup(ctx context.Context, domain string) models.Outcome {
	if err := ctx.Err(); err != nil {
		return models.Failed(fmt.Sprintf("whois %s: %v", domain, err))
	}

	done := make(chan whoisResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- whoisResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, err := c.query(domain)
		done <- whoisResult{text: text, err: err}
	}()

	var res whoisResult
	select {
	case <-ctx.Done():
		return models.Failed(fmt.Sprintf("whois %s: %v", domain, ctx.Err()))
	case res = <-done:
	}

	if res.err != nil {
		return models.Failed(fmt.Sprintf("whois %s: %v", domain, res.err))
	}

	reg, err := ParseWhois(res.text)
	if err != nil {
		return models.Failed(fmt.Sprintf("whois %s: %v", domain, err))
	}

	if c.nsFallback && len(reg.NameServers) == 0 {
		reg.NameServers = c.lookupNS(ctx, domain)
	}

	return models.Succeeded(reg)
}

// lookupNS is the DNS fallback for registries that omit name servers
func (c *WhoisClient) lookupNS(ctx context.Context, domain string) []string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	records, err := c.resolver.LookupNS(ctx, domain)
	if err != nil {
		return nil
	}
	hosts := make([]string, 0, len(records))
	for _, ns := range records {
		hosts = appendHost(hosts, ns.Host)
	}
	return hosts
}

func appendHost(hosts []string, host string) []string {
	if f := strings.Fields(host); len(f) > 0 {
		host = f[0]
	} else {
		return hosts
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return hosts
	}
	for _, h := range hosts {
		if h == host {
			return hosts
		}
	}
	return append(hosts, host)
}
