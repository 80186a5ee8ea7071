// Package supabase implements the storage interfaces over Supabase
// PostgREST. Ledger mutations are delegated to stored procedures, which
// own the atomic check-and-update; tables are used for audit data.
package supabase

import (
	"context"
	"fmt"

	"github.com/R3E-Network/audit_layer/internal/app/storage"
	"github.com/R3E-Network/audit_layer/supabase/client"
)

// Store is backed by a Supabase project.
type Store struct {
	client *client.Client
}

var _ storage.CreditStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.AirdropStore = (*Store)(nil)
var _ storage.Seeder = (*Store)(nil)

// New wraps an initialised client.
func New(c *client.Client) *Store {
	return &Store{client: c}
}

func (s *Store) rpc(ctx context.Context, fn string, params map[string]any) (*client.Response, error) {
	resp, err := s.client.RPC(ctx, fn, params)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	return resp, nil
}

func decode(resp *client.Response, err error, out any) error {
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	return resp.JSON(out)
}
