// Package normalize turns lookup outcomes into output records.
package normalize

import (
	"strings"
	"time"

	"github.com/berckan/whoisbatch/internal/models"
)

// DateLayout is how registration dates are rendered
const DateLayout = "2006-01-02"

// UnknownFailure is used when a failure carries no reason
const UnknownFailure = "unknown lookup failure"

// Normalize builds the output record for a query. It never fails: anything
// missing or ambiguous renders as N/A.
func Normalize(q models.DomainQuery, o models.Outcome) models.OutputRecord {
	if !o.OK() {
		reason := strings.TrimSpace(o.Reason())
		if reason == "" {
			reason = UnknownFailure
		}
		return models.OutputRecord{
			Count:       q.Index,
			DomainName:  q.Domain,
			Registrar:   models.NotAvailable,
			CreatedDate: models.NotAvailable,
			UpdatedDate: models.NotAvailable,
			ExpiryDate:  models.NotAvailable,
			NameServers: models.NotAvailable,
			Error:       reason,
		}
	}

	reg := o.Success
	return models.OutputRecord{
		Count:       q.Index,
		DomainName:  domainName(q.Domain, reg.DomainName),
		Registrar:   orNA(strings.TrimSpace(reg.Registrar)),
		CreatedDate: FormatDate(reg.CreatedAt),
		UpdatedDate: FormatDate(reg.UpdatedAt),
		ExpiryDate:  FormatDate(reg.ExpiresAt),
		NameServers: JoinNameServers(reg.NameServers),
	}
}

func domainName(queried string, reported models.Maybe[string]) string {
	name, ok := reported.First()
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return queried
	}
	if reported.IsList() {
		return strings.ToLower(name)
	}
	return name
}

// FormatDate renders the first reported timestamp as YYYY-MM-DD
func FormatDate(m models.Maybe[time.Time]) string {
	t, ok := m.First()
	if !ok || t.IsZero() {
		return models.NotAvailable
	}
	return t.Format(DateLayout)
}

// JoinNameServers joins hostnames with ", ", skipping blanks
func JoinNameServers(hosts []string) string {
	kept := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			kept = append(kept, h)
		}
	}
	return orNA(strings.Join(kept, ", "))
}

func orNA(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}
