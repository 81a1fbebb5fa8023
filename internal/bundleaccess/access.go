// Package bundleaccess gives the CLI one view of bundle operations whether a
// daemon is answering on its admin API or the CLI has to open the bundle
// store itself.
package bundleaccess

import (
	"context"
	"strings"

	"parcel/internal/access"
	"parcel/internal/api"
	"parcel/internal/delivery"
)

// Access provides bundle operations regardless of HTTP or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.Bundle, error)
	Describe(ctx context.Context, id string) (*api.BundleDetail, error)
	Create(ctx context.Context, req api.CreateBundleRequest) (api.Bundle, error)
	Revoke(ctx context.Context, id, reason string) (api.RevokeResponse, error)
	Poll(ctx context.Context, id, password string) (delivery.Snapshot, error)
}

// NewStoreAccess returns an Access backed by a locally constructed service.
func NewStoreAccess(service *api.BundleService) Access {
	return &storeAccess{service: service}
}

type storeAccess struct {
	service *api.BundleService
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.Bundle, error) {
	parsed, err := api.ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	return a.service.List(ctx, parsed...)
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.BundleDetail, error) {
	return a.service.Describe(ctx, strings.TrimSpace(id))
}

func (a *storeAccess) Create(ctx context.Context, req api.CreateBundleRequest) (api.Bundle, error) {
	in, err := api.ParseCreateRequest(req)
	if err != nil {
		return api.Bundle{}, err
	}
	return a.service.Create(ctx, in)
}

func (a *storeAccess) Revoke(ctx context.Context, id, reason string) (api.RevokeResponse, error) {
	return a.service.Revoke(ctx, strings.TrimSpace(id), reason)
}

func (a *storeAccess) Poll(ctx context.Context, id, password string) (delivery.Snapshot, error) {
	return a.service.Poll(ctx, strings.TrimSpace(id), access.Attempt{Password: password})
}
