package permission

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

// GroupYAML represents a group in the seed file.
type GroupYAML struct {
	Name     string `yaml:"name"`
	Flags    string `yaml:"flags"`
	Immunity int    `yaml:"immunity,omitempty"`
}

// GroupsConfig is the top-level YAML for groups.
type GroupsConfig struct {
	Groups []GroupYAML `yaml:"groups"`
}

func groupFromYAML(g GroupYAML) model.Group {
	return model.Group{Name: g.Name, Flags: g.Flags, Immunity: g.Immunity}
}

// LoadGroupsFromYAML reads a groups file and creates or updates each group.
func (r *Resolver) LoadGroupsFromYAML(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator config
	if err != nil {
		return 0, fmt.Errorf("read groups config: %w", err)
	}
	return r.ImportGroupsYAML(ctx, data)
}

// ImportGroupsYAML parses YAML data and upserts every group in a single
// transaction.
func (r *Resolver) ImportGroupsYAML(ctx context.Context, data []byte) (int, error) {
	var cfg GroupsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse groups config: %w", err)
	}
	for i, g := range cfg.Groups {
		if g.Name == "" {
			return 0, fmt.Errorf("groups config: entry %d: %w", i, ErrNameRequired)
		}
	}

	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		return ds.Tx(ctx, func(tx datastore.DataStore) error {
			for _, g := range cfg.Groups {
				if _, err := upsertGroup(ctx, tx, groupFromYAML(g)); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		r.log.Error("import groups", "err", err)
		return 0, err
	}

	r.log.Info("imported groups from YAML", "count", len(cfg.Groups))
	r.refreshAfterMutation(ctx)
	return len(cfg.Groups), nil
}

// ExportGroupsYAML exports all groups, including those without mapped
// capabilities, as YAML.
func (r *Resolver) ExportGroupsYAML(ctx context.Context) ([]byte, error) {
	var cfg GroupsConfig
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		groups, err := ds.ListGroups(ctx)
		if err != nil {
			return err
		}
		for _, g := range groups {
			cfg.Groups = append(cfg.Groups, GroupYAML{Name: g.Name, Flags: g.Flags, Immunity: g.Immunity})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(&cfg)
}
