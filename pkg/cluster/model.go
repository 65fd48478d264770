// Cluster data structures. A cluster is a fixed-capacity pool of
// RAM/CPU/GPU owned by one organization; its availability counters live
// in the resource ledger, never here.

package cluster

import (
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

// Cluster: A registered compute cluster
type Cluster struct {
	// Identity
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"` // opaque reference, auth lives elsewhere

	// Capacity, immutable after registration
	Total resource.Resources `json:"total"`

	CreatedAt time.Time `json:"created_at"`
}

// Fits: Check whether a resource request can ever fit this cluster
func (c *Cluster) Fits(req resource.Resources) bool {
	return req.Scaled().FitsWithin(c.Total.Scaled())
}
