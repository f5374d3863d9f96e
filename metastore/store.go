// Package metastore implements the two read-only lookups against the
// persisted, external metadata store: query definitions and connector
// configurations.
package metastore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store methods when no row matches the given
// id; the resolver turns this into QueryNotFound/ConnectorNotFound.
var ErrNotFound = errors.New("metastore: not found")

// Store is the two read-only point lookups a metadata backend must
// support. Both methods return ErrNotFound rather than a zero value when
// no row matches.
type Store interface {
	Query(ctx context.Context, id string) (*QueryDefinition, error)
	Connector(ctx context.Context, id string) (*ConnectorConfig, error)
}

// QueryDefinition is the persisted query record.
type QueryDefinition struct {
	ID          string `json:"id"`
	ConnectorID string `json:"connector_id"`
	Content     string `json:"content"`
}

// ConnectorConfig is the persisted connector record. ConfigBlob is
// opaque-by-type: only the driver factory matching Type interprets it.
type ConnectorConfig struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ConfigBlob map[string]any `json:"config"`
}
