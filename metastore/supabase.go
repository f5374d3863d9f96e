package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SupabaseStore is a Store backed by a Supabase/PostgREST endpoint,
// performing the two lookups as point GETs filtered by primary key.
type SupabaseStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSupabaseStore builds a SupabaseStore against the given project URL
// and API key.
func NewSupabaseStore(baseURL, apiKey string) *SupabaseStore {
	return &SupabaseStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SupabaseStore) Query(ctx context.Context, id string) (*QueryDefinition, error) {
	var rows []QueryDefinition
	if err := s.get(ctx, "queries", id, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *SupabaseStore) Connector(ctx context.Context, id string) (*ConnectorConfig, error) {
	var rows []ConnectorConfig
	if err := s.get(ctx, "connectors", id, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *SupabaseStore) get(ctx context.Context, table, id string, dest any) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s&limit=1", s.baseURL, table, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("metastore: build request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metastore: request %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metastore: %s responded %s", table, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("metastore: decode %s response: %w", table, err)
	}

	return nil
}
