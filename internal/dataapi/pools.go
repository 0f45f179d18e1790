package dataapi

import (
	"context"

	"github.com/tabular/tabular-backend/internal/tenantdb"
	"github.com/tabular/tabular-backend/pkg/database"
)

// PoolProvider hands out the connection pool for a tenant's database
type PoolProvider interface {
	PoolFor(ctx context.Context, tenantID string) (*database.DB, error)
}

// TenantPools resolves a tenant through the provisioning catalog and
// serves its pool from the process-lifetime cache.
type TenantPools struct {
	resolver *tenantdb.ConnectionResolver
	cache    *tenantdb.PoolCache
}

// NewTenantPools wires the resolver and the pool cache together
func NewTenantPools(resolver *tenantdb.ConnectionResolver, cache *tenantdb.PoolCache) *TenantPools {
	return &TenantPools{resolver: resolver, cache: cache}
}

// PoolFor resolves the tenant's database URL and returns its pool
func (p *TenantPools) PoolFor(ctx context.Context, tenantID string) (*database.DB, error) {
	url, err := p.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return p.cache.GetOrCreate(url)
}
