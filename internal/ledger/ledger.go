// Package ledger holds the durable record of license requests and issued
// keys. The whole ledger is a single JSON document, loaded wholesale at
// startup and rewritten wholesale after every mutation.
package ledger

import "time"

// RequestStatus is the lifecycle state of a license request.
type RequestStatus string

const (
	// StatusPending means the request awaits administrator action.
	StatusPending RequestStatus = "pending"
	// StatusIssued is terminal; a key generation referenced this request.
	StatusIssued RequestStatus = "issued"
)

// Request is a client's ask for a license key. Requests are never deleted;
// an administrator "declines" one simply by never generating a key for it.
type Request struct {
	ID         string        `json:"id"`
	HardwareID string        `json:"hardware_id"`
	UserID     string        `json:"user_id,omitempty"`
	UserName   string        `json:"user_name,omitempty"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     RequestStatus `json:"status"`
}

// IssuedKey records an administrator-approved issuance. Records are keyed by
// the derived key string itself: derivation is deterministic per hardware
// identifier, so re-issuing for the same hardware refreshes the existing
// record instead of creating a duplicate.
type IssuedKey struct {
	Key        string     `json:"key"`
	HardwareID string     `json:"hardware_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	RequestID  string     `json:"request_id,omitempty"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Document is the aggregate persisted to disk.
type Document struct {
	Requests []Request            `json:"requests"`
	Issued   map[string]IssuedKey `json:"issued"`
}

// emptyDocument returns a Document with allocated containers so the empty
// ledger marshals as {"requests":[],"issued":{}}.
func emptyDocument() Document {
	return Document{
		Requests: []Request{},
		Issued:   map[string]IssuedKey{},
	}
}

// clone deep-copies the document. Mutations operate on a clone so the
// in-memory state only advances after the clone is durably written.
func (d Document) clone() Document {
	out := Document{
		Requests: make([]Request, len(d.Requests)),
		Issued:   make(map[string]IssuedKey, len(d.Issued)),
	}
	copy(out.Requests, d.Requests)
	for k, v := range d.Issued {
		out.Issued[k] = v
	}
	return out
}
