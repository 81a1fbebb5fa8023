package api

import (
	"fmt"
	"strings"
	"time"

	"parcel/internal/bundle"
	"parcel/internal/services"
)

// ParseCreateRequest converts a create body into service input. expiresIn
// takes a Go duration ("36h"); expiresAt takes RFC3339.
func ParseCreateRequest(body CreateBundleRequest) (CreateInput, error) {
	in := CreateInput{
		ID:       strings.TrimSpace(body.ID),
		Label:    body.Label,
		AssetIDs: body.AssetIDs,
		Password: body.Password,
	}
	if value := strings.TrimSpace(body.ExpiresIn); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return in, services.Wrap(services.ErrValidation, "api", "create bundle", fmt.Sprintf("invalid expiresIn %q", value), nil)
		}
		in.ExpiresIn = d
	}
	if value := strings.TrimSpace(body.ExpiresAt); value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return in, services.Wrap(services.ErrValidation, "api", "create bundle", fmt.Sprintf("invalid expiresAt %q: want RFC3339", value), nil)
		}
		in.ExpiresAt = &at
	}
	return in, nil
}

// ParseStatuses parses status filters. Each value may hold a comma-separated
// list; blanks are skipped.
func ParseStatuses(values []string) ([]bundle.Status, error) {
	var statuses []bundle.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			status, ok := bundle.ParseStatus(trimmed)
			if !ok {
				return nil, services.Wrap(services.ErrValidation, "api", "list bundles", fmt.Sprintf("unknown status %q", trimmed), nil)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}
