package lookup

import (
	"bufio"
	"errors"
	"strings"
	"time"

	"github.com/berckan/whoisbatch/internal/models"
)

var (
	ErrEmptyResponse = errors.New("empty whois response")
	ErrNoMatch       = errors.New("no match for domain")
	ErrThrottled     = errors.New("whois server rate limit exceeded")
	ErrUnrecognized  = errors.New("unrecognized whois response")
)

type field int

const (
	fieldNone field = iota
	fieldDomain
	fieldRegistrar
	fieldCreated
	fieldUpdated
	fieldExpires
	fieldNameServer
)

var fieldKeys = map[string]field{
	"domain name":                              fieldDomain,
	"domain":                                   fieldDomain,
	"registrar":                                fieldRegistrar,
	"registrar name":                           fieldRegistrar,
	"sponsoring registrar":                     fieldRegistrar,
	"creation date":                            fieldCreated,
	"created":                                  fieldCreated,
	"created on":                               fieldCreated,
	"created date":                             fieldCreated,
	"registered on":                            fieldCreated,
	"registration date":                        fieldCreated,
	"registration time":                        fieldCreated,
	"domain registration date":                 fieldCreated,
	"updated date":                             fieldUpdated,
	"updated on":                               fieldUpdated,
	"last updated":                             fieldUpdated,
	"last-update":                              fieldUpdated,
	"last modified":                            fieldUpdated,
	"changed":                                  fieldUpdated,
	"modified":                                 fieldUpdated,
	"registry expiry date":                     fieldExpires,
	"registrar registration expiration date":   fieldExpires,
	"expiration date":                          fieldExpires,
	"expiry date":                              fieldExpires,
	"expires":                                  fieldExpires,
	"expires on":                               fieldExpires,
	"expire date":                              fieldExpires,
	"expiration time":                          fieldExpires,
	"paid-till":                                fieldExpires,
	"domain expiration date":                   fieldExpires,
	"name server":                              fieldNameServer,
	"name servers":                             fieldNameServer,
	"nameserver":                               fieldNameServer,
	"nameservers":                              fieldNameServer,
	"nserver":                                  fieldNameServer,
}

// Registries answer unknown domains with free text; checked only when no
// registration field was found.
var noMatchPatterns = []string{
	"no match for",
	"not found",
	"no entries found",
	"no data found",
	"no object found",
	"object does not exist",
	"nothing found",
	"status: free",
	"status: available",
	"the queried object does not exist",
	"no such domain",
	"domain name has not been registered",
	"no matching record",
}

var throttlePatterns = []string{
	"limit exceeded",
	"quota exceeded",
	"too many requests",
	"query rate",
	"try again later",
}

// ParseWhois extracts registration fields from a raw WHOIS response.
// Keys that occur more than once (registry and registrar sections both
// answering) become lists in the order they appeared.
func ParseWhois(text string) (models.Registration, error) {
	if strings.TrimSpace(text) == "" {
		return models.Registration{}, ErrEmptyResponse
	}

	var (
		names, registrars []string
		created, updated  []time.Time
		expires           []time.Time
		nameServers       []string
		pending           field
	)

	add := func(f field, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		switch f {
		case fieldDomain:
			names = appendString(names, value)
		case fieldRegistrar:
			registrars = appendString(registrars, value)
		case fieldCreated:
			created = appendDate(created, value)
		case fieldUpdated:
			updated = appendDate(updated, value)
		case fieldExpires:
			expires = appendDate(expires, value)
		case fieldNameServer:
			nameServers = appendHost(nameServers, value)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			pending = fieldNone
			continue
		}
		if strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">>>") {
			continue
		}

		key, value, hasColon := strings.Cut(line, ":")
		f, known := fieldKeys[strings.ToLower(strings.TrimSpace(key))]
		if hasColon && known {
			pending = fieldNone
			if strings.TrimSpace(value) == "" {
				// value continues on the following indented lines
				pending = f
				continue
			}
			add(f, value)
			continue
		}

		if pending != fieldNone && raw != line {
			// other "key: value" lines inside a block are not values of the
			// block key, except timestamps which contain colons themselves
			if !hasColon || isDate(pending) {
				add(pending, line)
			}
			continue
		}
		pending = fieldNone
	}

	registered := len(registrars) > 0 || len(created) > 0 || len(expires) > 0 || len(nameServers) > 0
	if !registered {
		lower := strings.ToLower(text)
		for _, p := range throttlePatterns {
			if strings.Contains(lower, p) {
				return models.Registration{}, ErrThrottled
			}
		}
		for _, p := range noMatchPatterns {
			if strings.Contains(lower, p) {
				return models.Registration{}, ErrNoMatch
			}
		}
		return models.Registration{}, ErrUnrecognized
	}

	reg := models.Registration{
		DomainName:  maybe(names),
		CreatedAt:   maybe(created),
		UpdatedAt:   maybe(updated),
		ExpiresAt:   maybe(expires),
		NameServers: nameServers,
	}
	if len(registrars) > 0 {
		reg.Registrar = registrars[0]
	}
	return reg, nil
}

func isDate(f field) bool {
	return f == fieldCreated || f == fieldUpdated || f == fieldExpires
}

func maybe[T any](vs []T) models.Maybe[T] {
	switch len(vs) {
	case 0:
		return models.Absent[T]()
	case 1:
		return models.Scalar(vs[0])
	default:
		return models.List(vs...)
	}
}

func appendString(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func appendDate(list []time.Time, value string) []time.Time {
	t, ok := ParseDate(value)
	if !ok {
		return list
	}
	for _, existing := range list {
		if existing.Equal(t) {
			return list
		}
	}
	return append(list, t)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02 15:04:05",
	"2006.01.02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"02-Jan-2006",
	"02-Jan-2006 15:04:05 MST",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"January 2 2006",
	"Jan 2 2006",
	time.UnixDate,
	time.RFC1123,
}

// ParseDate parses the timestamp formats registries commonly use
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	// some registries append a note in parentheses
	if i := strings.Index(value, " ("); i > 0 {
		value = value[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
