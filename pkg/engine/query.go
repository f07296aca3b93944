package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var queryCounter atomic.Uint64

// Query is one user request. Created on input and read-only thereafter.
type Query struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	ContextRefs []string  `json:"context_refs,omitempty"`
	ArrivedAt   time.Time `json:"arrived_at"`
}

// NewQuery creates a query with a derived id and arrival timestamp.
func NewQuery(text string, contextRefs []string) Query {
	now := time.Now().UTC()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", text, now.UnixNano(), queryCounter.Add(1))))
	return Query{
		ID:          hex.EncodeToString(sum[:6]),
		Text:        text,
		ContextRefs: contextRefs,
		ArrivedAt:   now,
	}
}

// ContextProvider supplies retrieved context for a query. The memory
// subsystem behind it is an external collaborator; failures degrade to an
// empty context rather than failing the query.
type ContextProvider interface {
	RetrieveContext(ctx context.Context, q Query) (string, error)
}

// queryState tracks the per-query lifecycle.
type queryState string

const (
	stateCreated      queryState = "CREATED"
	stateClassified   queryState = "CLASSIFIED"
	stateLocalActive  queryState = "LOCAL_ACTIVE"
	stateRemoteActive queryState = "REMOTE_ACTIVE"
	stateBothActive   queryState = "BOTH_ACTIVE"
	stateIntegrated   queryState = "INTEGRATED"
	stateDelivered    queryState = "DELIVERED"
)
