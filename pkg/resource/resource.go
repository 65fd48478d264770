// Resource vectors shared by the ledger, cluster and deployment models.
//
// External APIs carry RAM/CPU/GPU as float64 (GB / cores / devices). All
// internal accounting happens on integers scaled by 1000 so that repeated
// reserve/release cycles never accumulate float drift.

package resource

import "fmt"

// Scale: Factor between external float values and internal integer units
const Scale = 1000

// Resources: A RAM/CPU/GPU triple in external (float) units
type Resources struct {
	RAM float64 `json:"ram"`
	CPU float64 `json:"cpu"`
	GPU float64 `json:"gpu"`
}

// Millis: A RAM/CPU/GPU triple in scaled integer units
type Millis struct {
	RAM int64
	CPU int64
	GPU int64
}

// Scaled: Convert to internal integer units
func (r Resources) Scaled() Millis {
	return Millis{
		RAM: int64(r.RAM * Scale),
		CPU: int64(r.CPU * Scale),
		GPU: int64(r.GPU * Scale),
	}
}

// IsZero: True if all three components are zero
func (r Resources) IsZero() bool {
	return r.RAM == 0 && r.CPU == 0 && r.GPU == 0
}

// IsNegative: True if any component is negative
func (r Resources) IsNegative() bool {
	return r.RAM < 0 || r.CPU < 0 || r.GPU < 0
}

func (r Resources) String() string {
	return fmt.Sprintf("ram=%.3f cpu=%.3f gpu=%.3f", r.RAM, r.CPU, r.GPU)
}

// Unscaled: Convert back to external float units
func (m Millis) Unscaled() Resources {
	return Resources{
		RAM: float64(m.RAM) / Scale,
		CPU: float64(m.CPU) / Scale,
		GPU: float64(m.GPU) / Scale,
	}
}

// FitsWithin: True if every component of m is <= the matching component of limit
func (m Millis) FitsWithin(limit Millis) bool {
	return m.RAM <= limit.RAM && m.CPU <= limit.CPU && m.GPU <= limit.GPU
}

// Add: Component-wise sum
func (m Millis) Add(other Millis) Millis {
	return Millis{RAM: m.RAM + other.RAM, CPU: m.CPU + other.CPU, GPU: m.GPU + other.GPU}
}

// Sub: Component-wise difference
func (m Millis) Sub(other Millis) Millis {
	return Millis{RAM: m.RAM - other.RAM, CPU: m.CPU - other.CPU, GPU: m.GPU - other.GPU}
}

// ClampTo: Component-wise minimum against an upper bound
func (m Millis) ClampTo(limit Millis) Millis {
	out := m
	if out.RAM > limit.RAM {
		out.RAM = limit.RAM
	}
	if out.CPU > limit.CPU {
		out.CPU = limit.CPU
	}
	if out.GPU > limit.GPU {
		out.GPU = limit.GPU
	}
	return out
}
