package models

import (
	"time"
)

// KeyClass describes how a limiter key was derived. Used for headers,
// logging, and metrics labels.
type KeyClass string

const (
	// ClassUser keys authenticated callers by their stable account email.
	ClassUser KeyClass = "user"
	// ClassIP keys anonymous callers by network origin address.
	ClassIP KeyClass = "ip"
	// ClassAnon is the shared bucket for traffic with no identifying
	// information at all. All such callers share one budget; known tradeoff.
	ClassAnon KeyClass = "anon"
)

// Key is a fully derived limiter key: class prefix plus identifier.
type Key struct {
	Class KeyClass
	Value string
}

func (k Key) String() string {
	return string(k.Class) + ":" + k.Value
}

// DeriveKey selects the limiter key for a caller. Authenticated callers get
// a stable identity key; anonymous callers are keyed by client IP; with
// neither available everything lands in the shared anonymous bucket.
func DeriveKey(email, ip string) Key {
	if email != "" {
		return Key{Class: ClassUser, Value: email}
	}
	if ip != "" {
		return Key{Class: ClassIP, Value: ip}
	}
	return Key{Class: ClassAnon, Value: "shared"}
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the JSON body returned with a 429.
type RateLimitExceededResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
