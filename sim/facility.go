package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// The arena holds racks and servers as contiguous slices indexed by integer
// id. Parent links are ids, never pointers, so snapshots copy cleanly.

// Server is one GPU host. FreeSlots counts unassigned GPU slots; the
// scheduler owns the invariant free = total - sum(assigned shares).
type Server struct {
	Slot         int     // slot within the rack
	RackID       int     // parent rack
	TotalSlots   int     // GPU slots
	FreeSlots    int     // unassigned GPU slots
	Utilisation  float64 // published GPU utilisation, 0..1
	PowerCapFrac float64 // operator cap from throttle_gpu, 1.0 = uncapped
	Degraded     bool    // set while a gpu_degraded failure targets this server
}

// ID returns the canonical server identity string.
func (s *Server) ID() string {
	return ServerID(s.RackID, s.Slot)
}

// Rack is one row position in the hall with its thermal state.
type Rack struct {
	ID          int
	Zone        int // CRAC zone, contiguous split of the rack array
	InletTempC  float64
	OutletTempC float64
	HeatKW      float64
	HumidityPct float64
	Throttled   bool
}

// Facility is the arena of racks and servers plus derived lookup helpers.
type Facility struct {
	cfg     *Config
	Racks   []Rack
	Servers []Server

	serverIdx map[string]int // server id -> arena index
}

// NewFacility builds the arena from the config: racks in id order, servers in
// (rack, slot) order so a linear scan matches first-fit scheduling order.
func NewFacility(cfg *Config) *Facility {
	f := &Facility{
		cfg:       cfg,
		Racks:     make([]Rack, cfg.Facility.NumRacks),
		Servers:   make([]Server, 0, cfg.Facility.NumRacks*cfg.Facility.ServersPerRack),
		serverIdx: make(map[string]int),
	}
	for r := 0; r < cfg.Facility.NumRacks; r++ {
		f.Racks[r] = Rack{
			ID:          r,
			Zone:        cfg.ZoneOfRack(r),
			InletTempC:  cfg.Thermal.AmbientTempC,
			OutletTempC: cfg.Thermal.AmbientTempC,
			HumidityPct: 45,
		}
		for s := 0; s < cfg.Facility.ServersPerRack; s++ {
			idx := len(f.Servers)
			f.Servers = append(f.Servers, Server{
				Slot:         s,
				RackID:       r,
				TotalSlots:   cfg.Facility.GPUsPerServer,
				FreeSlots:    cfg.Facility.GPUsPerServer,
				PowerCapFrac: 1.0,
			})
			f.serverIdx[ServerID(r, s)] = idx
		}
	}
	return f
}

// Server resolves a server id string to its arena entry.
func (f *Facility) Server(id string) (*Server, error) {
	idx, ok := f.serverIdx[id]
	if !ok {
		return nil, errNotFound("unknown server %q", id)
	}
	return &f.Servers[idx], nil
}

// ServersOfRack returns the arena indices of a rack's servers in slot order.
func (f *Facility) ServersOfRack(rackID int) []int {
	per := f.cfg.Facility.ServersPerRack
	out := make([]int, per)
	for s := 0; s < per; s++ {
		out[s] = rackID*per + s
	}
	return out
}

// RackExists reports whether rackID is inside the arena.
func (f *Facility) RackExists(rackID int) bool {
	return rackID >= 0 && rackID < len(f.Racks)
}

// === Identity strings ===

// ServerID formats the canonical rack-{r}-srv-{s} identity.
func ServerID(rackID, slot int) string {
	return fmt.Sprintf("rack-%d-srv-%d", rackID, slot)
}

// RackID formats the canonical rack-{r} identity.
func RackID(rackID int) string {
	return fmt.Sprintf("rack-%d", rackID)
}

// CRACID formats the canonical crac-{u} identity.
func CRACID(unit int) string {
	return fmt.Sprintf("crac-%d", unit)
}

// ParseRackID parses rack-{r}. Returns InvalidArgument on malformed input.
func ParseRackID(s string) (int, error) {
	rest, ok := strings.CutPrefix(s, "rack-")
	if !ok {
		return 0, errInvalid("malformed rack id %q", s)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, errInvalid("malformed rack id %q", s)
	}
	return n, nil
}

// ParseCRACID parses crac-{u}.
func ParseCRACID(s string) (int, error) {
	rest, ok := strings.CutPrefix(s, "crac-")
	if !ok {
		return 0, errInvalid("malformed crac id %q", s)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, errInvalid("malformed crac id %q", s)
	}
	return n, nil
}

// ParseServerID parses rack-{r}-srv-{s} into (rack, slot).
func ParseServerID(s string) (int, int, error) {
	rest, ok := strings.CutPrefix(s, "rack-")
	if !ok {
		return 0, 0, errInvalid("malformed server id %q", s)
	}
	parts := strings.SplitN(rest, "-srv-", 2)
	if len(parts) != 2 {
		return 0, 0, errInvalid("malformed server id %q", s)
	}
	r, err := strconv.Atoi(parts[0])
	if err != nil || r < 0 {
		return 0, 0, errInvalid("malformed server id %q", s)
	}
	slot, err := strconv.Atoi(parts[1])
	if err != nil || slot < 0 {
		return 0, 0, errInvalid("malformed server id %q", s)
	}
	return r, slot, nil
}
