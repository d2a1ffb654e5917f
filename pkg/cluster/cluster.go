// Package cluster groups users by rounded coordinates so nearby users share
// one provider query and one cooldown bucket.
package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
)

// DefaultPrecision rounds to two decimals, roughly 1.1 km cells.
const DefaultPrecision = 2

// Cluster is one rounded cell and the users located in it.
type Cluster struct {
	model.Location
	RecipientIDs   []string `json:"recipient_ids"`
	RecipientCount int      `json:"recipient_count"`
}

// UserSource lists users with known coordinates.
type UserSource interface {
	ListLocatedUsers(ctx context.Context) ([]model.User, error)
}

// Clusterer rounds raw coordinates at a fixed precision.
type Clusterer struct {
	precision int
	users     UserSource
}

// New creates a Clusterer backed by users. Negative precision falls back to DefaultPrecision.
func New(users UserSource, precision int) *Clusterer {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Clusterer{precision: precision, users: users}
}

// Precision returns the number of decimals coordinates are rounded to.
func (c *Clusterer) Precision() int {
	return c.precision
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

// Locate rounds a raw coordinate pair into its cell.
func (c *Clusterer) Locate(latitude, longitude float64) model.Location {
	return model.Location{
		Latitude:  Round(latitude, c.precision),
		Longitude: Round(longitude, c.precision),
	}
}

// Locations loads located users and clusters them.
func (c *Clusterer) Locations(ctx context.Context) ([]Cluster, error) {
	users, err := c.users.ListLocatedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list located users: %w", err)
	}
	return c.Cluster(users), nil
}

// Cluster groups users by rounded location, most recipients first. Users
// without both coordinates are ignored.
func (c *Clusterer) Cluster(users []model.User) []Cluster {
	index := make(map[model.Location]int)
	seen := make(map[model.Location]map[string]struct{})
	var out []Cluster

	for _, u := range users {
		if !u.HasLocation() {
			continue
		}
		loc := c.Locate(*u.Latitude, *u.Longitude)
		i, ok := index[loc]
		if !ok {
			i = len(out)
			index[loc] = i
			seen[loc] = make(map[string]struct{})
			out = append(out, Cluster{Location: loc})
		}
		if _, dup := seen[loc][u.ID]; dup {
			continue
		}
		seen[loc][u.ID] = struct{}{}
		out[i].RecipientIDs = append(out[i].RecipientIDs, u.ID)
		out[i].RecipientCount++
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].RecipientCount != out[b].RecipientCount {
			return out[a].RecipientCount > out[b].RecipientCount
		}
		if out[a].Latitude != out[b].Latitude {
			return out[a].Latitude < out[b].Latitude
		}
		return out[a].Longitude < out[b].Longitude
	})
	return out
}
