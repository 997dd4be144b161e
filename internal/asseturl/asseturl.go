// Package asseturl builds the externally fetchable URL for an asset
// row: "<external_url>/assets/<id>/<digest>/<filename>", matching the
// content-addressed path the HTTP asset handler serves.
package asseturl

import (
	"context"
	"fmt"
	"net/url"

	"github.com/haileys/hailsplay/internal/domain"
)

// AssetLoader is the lookup surface Builder needs from C3.
// internal/asset's Store implements it.
type AssetLoader interface {
	LoadAsset(ctx context.Context, id domain.AssetId) (domain.Asset, error)
}

// Builder resolves asset ids to URLs against a fixed external base URL.
type Builder struct {
	assets      AssetLoader
	externalURL string
}

func New(assets AssetLoader, externalURL string) *Builder {
	return &Builder{assets: assets, externalURL: externalURL}
}

func (b *Builder) URL(ctx context.Context, id domain.AssetId) (string, error) {
	asset, err := b.assets.LoadAsset(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load asset %d: %w", id, err)
	}

	base, err := url.Parse(b.externalURL)
	if err != nil {
		return "", fmt.Errorf("parse external url: %w", err)
	}

	return base.JoinPath("assets", fmt.Sprint(int64(id)), string(asset.Digest), asset.Filename).String(), nil
}
