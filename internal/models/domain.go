package models

import (
	"strconv"
	"time"
)

// NotAvailable fills record fields the registry did not report
const NotAvailable = "N/A"

// DomainQuery is one input domain and its position in the input list
type DomainQuery struct {
	Domain string `json:"domain"`
	Index  int    `json:"index"`
	Batch  int    `json:"batch"`
}

// Batch is a contiguous slice of queries written to the sink as one unit
type Batch struct {
	ID      int           `json:"id"`
	Queries []DomainQuery `json:"queries"`
}

// First returns the index of the first query, or 0 for an empty batch
func (b Batch) First() int {
	if len(b.Queries) == 0 {
		return 0
	}
	return b.Queries[0].Index
}

// Last returns the index of the last query, or 0 for an empty batch
func (b Batch) Last() int {
	if len(b.Queries) == 0 {
		return 0
	}
	return b.Queries[len(b.Queries)-1].Index
}

// Registration holds the fields a registry reported for a domain
type Registration struct {
	DomainName  Maybe[string]    `json:"domain_name"`
	Registrar   string           `json:"registrar,omitempty"`
	CreatedAt   Maybe[time.Time] `json:"created_at"`
	UpdatedAt   Maybe[time.Time] `json:"updated_at"`
	ExpiresAt   Maybe[time.Time] `json:"expires_at"`
	NameServers []string         `json:"name_servers,omitempty"`
}

// Failure describes why a lookup produced no registration data
type Failure struct {
	Reason string `json:"reason"`
}

// Outcome is the result of one lookup attempt. Exactly one side is set
// when built with Succeeded or Failed.
type Outcome struct {
	Success *Registration `json:"success,omitempty"`
	Failure *Failure      `json:"failure,omitempty"`
}

// Succeeded wraps a registration as a successful outcome
func Succeeded(reg Registration) Outcome {
	return Outcome{Success: &reg}
}

// Failed builds a failed outcome with the given reason
func Failed(reason string) Outcome {
	return Outcome{Failure: &Failure{Reason: reason}}
}

// OK reports whether the outcome carries registration data
func (o Outcome) OK() bool {
	return o.Success != nil && o.Failure == nil
}

// Reason returns the failure reason, or "" for a success
func (o Outcome) Reason() string {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Reason
}

// OutputRecord is one persisted row
type OutputRecord struct {
	Count       int    `json:"count"`
	DomainName  string `json:"domain_name"`
	Registrar   string `json:"registrar"`
	CreatedDate string `json:"created_date"`
	UpdatedDate string `json:"updated_date"`
	ExpiryDate  string `json:"expiry_date"`
	NameServers string `json:"name_servers"`
	Error       string `json:"error"`
}

// Failed reports whether the record carries a lookup error
func (r OutputRecord) Failed() bool {
	return r.Error != ""
}

// Header returns the output column names
func Header(withUpdated bool) []string {
	if withUpdated {
		return []string{"Count", "Domain Name", "Registrar", "Creation Date", "Expiration Date", "Updated Date", "Name Servers", "Error"}
	}
	return []string{"Count", "Domain Name", "Registrar", "Creation Date", "Expiration Date", "Name Servers", "Error"}
}

// Row renders the record in Header column order
func (r OutputRecord) Row(withUpdated bool) []string {
	row := []string{strconv.Itoa(r.Count), r.DomainName, r.Registrar, r.CreatedDate, r.ExpiryDate}
	if withUpdated {
		row = append(row, r.UpdatedDate)
	}
	return append(row, r.NameServers, r.Error)
}

// Summary reports what a run did
type Summary struct {
	RunID    string        `json:"run_id"`
	Batches  int           `json:"batches"`
	Flushed  int           `json:"flushed"`
	Skipped  int           `json:"skipped"`
	Resumed  int           `json:"resumed"`
	Records  int           `json:"records"`
	Failures int           `json:"failures"`
	Elapsed  time.Duration `json:"elapsed"`
}
