package sim

import (
	"math/rand"
	"sort"
)

// Network model of a leaf-spine fabric. Training jobs push RDMA east-west,
// inference pushes north-south client traffic, batch pushes storage I/O.
// Latency follows an M/M/1 approximation on the ToR uplink and loss emerges
// above 80% utilisation. Derived telemetry only; no feedback.

const (
	torUplinkGbps         = 100.0
	spineLinkGbps         = 400.0
	portsPerToR           = 48
	baseIntraRackLatencyUS = 2.0
	baseSpineLatencyUS     = 5.0
	idleTrafficGbps        = 0.1

	// Per-server traffic at 100% GPU utilisation.
	trainingRDMAGbpsPerServer = 40.0
	inferenceNSGbpsPerServer  = 8.0
	batchStorageGbpsPerServer = 15.0
)

// RackNetworkState is the per-rack ToR snapshot.
type RackNetworkState struct {
	RackID             int     `json:"rack_id"`
	IngressGbps        float64 `json:"ingress_gbps"`
	EgressGbps         float64 `json:"egress_gbps"`
	IntraRackGbps      float64 `json:"intra_rack_gbps"`
	TorLinkCapacityGbps float64 `json:"tor_link_capacity_gbps"`
	TorUtilisationPct  float64 `json:"tor_utilisation_pct"`
	AvgLatencyUS       float64 `json:"avg_latency_us"`
	P99LatencyUS       float64 `json:"p99_latency_us"`
	PacketLossPct      float64 `json:"packet_loss_pct"`
	CRCErrors          int     `json:"crc_errors"`
	RDMATxGbps         float64 `json:"rdma_tx_gbps"`
	RDMARxGbps         float64 `json:"rdma_rx_gbps"`
	ActivePorts        int     `json:"active_ports"`
	TotalPorts         int     `json:"total_ports"`
	Partitioned        bool    `json:"partitioned"`
}

// SpineLinkState is one spine path between two racks carrying multi-rack
// job traffic.
type SpineLinkState struct {
	SrcRackID      int     `json:"src_rack_id"`
	DstRackID      int     `json:"dst_rack_id"`
	BandwidthGbps  float64 `json:"bandwidth_gbps"`
	CapacityGbps   float64 `json:"capacity_gbps"`
	UtilisationPct float64 `json:"utilisation_pct"`
	LatencyUS      float64 `json:"latency_us"`
}

// FacilityNetworkState is the fabric-wide snapshot.
type FacilityNetworkState struct {
	Racks              []RackNetworkState `json:"racks"`
	SpineLinks         []SpineLinkState   `json:"spine_links"`
	TotalEastWestGbps  float64            `json:"total_east_west_gbps"`
	TotalNorthSouthGbps float64           `json:"total_north_south_gbps"`
	TotalRDMAGbps      float64            `json:"total_rdma_gbps"`
	AvgFabricLatencyUS float64            `json:"avg_fabric_latency_us"`
	TotalCRCErrors     int                `json:"total_crc_errors"`
}

// NetworkModel derives fabric telemetry. CRC counters persist across ticks.
type NetworkModel struct {
	cfg       *Config
	rng       *rand.Rand
	crcErrors map[int]int
}

// NewNetworkModel creates a NetworkModel drawing noise from the network
// subsystem stream.
func NewNetworkModel(cfg *Config, rng *rand.Rand) *NetworkModel {
	return &NetworkModel{
		cfg:       cfg,
		rng:       rng,
		crcErrors: make(map[int]int),
	}
}

// Reset clears the persistent CRC accumulators.
func (m *NetworkModel) Reset() {
	m.crcErrors = make(map[int]int)
}

// Step computes the fabric snapshot from running jobs and published server
// utilisation. partitionedRacks carry no traffic this tick.
func (m *NetworkModel) Step(facility *Facility, running []*Job, jobTypes map[string]JobType, partitionedRacks []int) FacilityNetworkState {
	partitioned := make(map[int]bool, len(partitionedRacks))
	for _, r := range partitionedRacks {
		partitioned[r] = true
	}

	// Racks joined by multi-rack jobs exchange spine traffic.
	partners := make(map[int]map[int]bool)
	for _, job := range running {
		racks := make(map[int]bool)
		for _, sid := range job.AssignedServers {
			if r, _, err := ParseServerID(sid); err == nil {
				racks[r] = true
			}
		}
		if len(racks) < 2 {
			continue
		}
		for a := range racks {
			if partners[a] == nil {
				partners[a] = make(map[int]bool)
			}
			for b := range racks {
				if a != b {
					partners[a][b] = true
				}
			}
		}
	}

	state := FacilityNetworkState{}
	spineTraffic := make(map[[2]int]float64)
	latencySum := 0.0

	for r := range facility.Racks {
		rs := RackNetworkState{
			RackID:              r,
			TorLinkCapacityGbps: torUplinkGbps,
			TotalPorts:          portsPerToR,
			Partitioned:         partitioned[r],
		}

		if !rs.Partitioned {
			for _, idx := range facility.ServersOfRack(r) {
				srv := &facility.Servers[idx]
				util := srv.Utilisation
				jtype, busy := jobTypes[srv.ID()]
				rs.ActivePorts++

				if !busy || util < 0.01 {
					rs.IntraRackGbps += idleTrafficGbps
					continue
				}

				switch jtype {
				case JobTraining:
					rdma := trainingRDMAGbpsPerServer * util
					rs.RDMATxGbps += rdma * 0.5
					rs.RDMARxGbps += rdma * 0.5
					rs.IntraRackGbps += rdma * 0.7
					interRack := rdma * 0.3
					if len(partners[r]) > 0 {
						per := interRack / float64(len(partners[r]))
						for p := range partners[r] {
							key := [2]int{r, p}
							if p < r {
								key = [2]int{p, r}
							}
							spineTraffic[key] += per
						}
						rs.EgressGbps += interRack
					}
					rs.EgressGbps += 2.0 * util // checkpoint writes
					state.TotalRDMAGbps += rdma
				case JobInference:
					ns := inferenceNSGbpsPerServer * util
					rs.IngressGbps += ns * 0.6
					rs.EgressGbps += ns * 0.4
					rs.IntraRackGbps += ns * 0.2
					state.TotalNorthSouthGbps += ns
				default:
					st := batchStorageGbpsPerServer * util
					rs.IngressGbps += st * 0.7
					rs.EgressGbps += st * 0.3
					rs.IntraRackGbps += st * 0.1
				}
			}

			noise := 1.0 + m.rng.NormFloat64()*0.03
			rs.IngressGbps *= noise
			rs.EgressGbps *= noise
		}

		state.TotalEastWestGbps += rs.IntraRackGbps

		uplink := (rs.IngressGbps + rs.EgressGbps) / torUplinkGbps
		rs.TorUtilisationPct = round1(minf(100, uplink*100))

		// M/M/1 service time blow-up on the uplink queue.
		rs.AvgLatencyUS = round1(baseIntraRackLatencyUS / maxf(0.01, 1.0-uplink))
		rho := minf(0.95, uplink)
		rs.P99LatencyUS = round1(rs.AvgLatencyUS * (1.0 + 2.3*rho))

		if uplink > 0.8 {
			over := (uplink - 0.8) / 0.2
			rs.PacketLossPct = round3(minf(2.0, 0.5*over*over))
		}

		if m.rng.Float64() < 0.001 {
			m.crcErrors[r] += 1 + m.rng.Intn(4)
		}
		rs.CRCErrors = m.crcErrors[r]
		state.TotalCRCErrors += rs.CRCErrors

		rs.IngressGbps = round2(rs.IngressGbps)
		rs.EgressGbps = round2(rs.EgressGbps)
		rs.IntraRackGbps = round2(rs.IntraRackGbps)
		rs.RDMATxGbps = round2(rs.RDMATxGbps)
		rs.RDMARxGbps = round2(rs.RDMARxGbps)

		latencySum += rs.AvgLatencyUS
		state.Racks = append(state.Racks, rs)
	}

	// Deterministic spine link ordering.
	keys := make([][2]int, 0, len(spineTraffic))
	for k := range spineTraffic {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		bw := spineTraffic[k]
		util := bw / spineLinkGbps
		state.SpineLinks = append(state.SpineLinks, SpineLinkState{
			SrcRackID:      k[0],
			DstRackID:      k[1],
			BandwidthGbps:  round2(bw),
			CapacityGbps:   spineLinkGbps,
			UtilisationPct: round1(minf(100, util*100)),
			LatencyUS:      round1(baseSpineLatencyUS / maxf(0.01, 1.0-minf(0.95, util))),
		})
	}

	if n := len(state.Racks); n > 0 {
		state.AvgFabricLatencyUS = round1(latencySum / float64(n))
	}
	return state
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
