// Package disabled is the default curator: it stores nothing.
package disabled

import (
	"context"

	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
)

func init() {
	registrycurator.Register(registrycurator.Plugin{
		Name: "disabled",
		Loader: func(_ context.Context) (registrycurator.Curator, error) {
			return &Curator{}, nil
		},
	})
}

type Curator struct{}

func (c *Curator) Curate(_ context.Context, _ string) (*registrycurator.Result, error) {
	return &registrycurator.Result{ShouldStore: false, Reason: "curation disabled"}, nil
}

func (c *Curator) Available(_ context.Context) bool { return false }

func (c *Curator) Name() string { return "disabled" }

var _ registrycurator.Curator = (*Curator)(nil)
