package sim

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"raftcore/raft"
)

// linkParams describes the per-directed-pair sampling distributions:
// drop probability is Bernoulli, latency is LogNormal so most messages
// arrive close to the mean but a long tail arrives late, the way a real
// network does.
type linkParams struct {
	drop    distuv.Bernoulli
	latency distuv.LogNormal
}

// pairKey identifies one directed (from, to) link.
type pairKey struct {
	from, to raft.ServerId
}

// Network samples loss and latency independently per ordered server
// pair and supports partitioning: a pair that crosses a partition
// boundary has its drop probability forced to 1.0 until healed.
type Network struct {
	mu          sync.Mutex
	rng         *rand.Rand
	baseline    float64 // drop probability outside a partition
	meanLatency float64 // milliseconds
	latencyStd  float64
	links       map[pairKey]*linkParams
	partitioned map[pairKey]bool
}

// NewNetwork builds a network with the given baseline drop probability
// and log-normal latency parameters (meanLatencyMs in milliseconds,
// latencyStdDev as the log-space sigma), seeded from rng so the whole
// simulation is reproducible from one seed.
func NewNetwork(rng *rand.Rand, baselineDropProbability, meanLatencyMs, latencyStdDev float64) *Network {
	return &Network{
		rng:         rng,
		baseline:    baselineDropProbability,
		meanLatency: meanLatencyMs,
		latencyStd:  latencyStdDev,
		links:       make(map[pairKey]*linkParams),
		partitioned: make(map[pairKey]bool),
	}
}

func (n *Network) link(key pairKey) *linkParams {
	if lp, ok := n.links[key]; ok {
		return lp
	}
	lp := n.newLink()
	n.links[key] = lp
	return lp
}

func (n *Network) newLink() *linkParams {
	return &linkParams{
		drop:    distuv.Bernoulli{P: n.baseline, Src: n.rng},
		latency: distuv.LogNormal{Mu: logMean(n.meanLatency), Sigma: n.latencyStd, Src: n.rng},
	}
}

// logMean converts meanLatencyMs into the mu parameter LogNormal expects
// by taking its natural log, so callers need not pre-convert to log
// space. The sampled latency then has median meanLatencyMs; its
// arithmetic mean is exp(mu + sigma²/2), which is larger.
func logMean(meanLatencyMs float64) float64 {
	if meanLatencyMs <= 0 {
		meanLatencyMs = 1
	}
	return math.Log(meanLatencyMs)
}

// Partition restricts delivery to within each given group: any pair
// whose endpoints fall in different groups has its drop probability
// forced to 1.0 until Heal is called.
func (n *Network) Partition(groups [][]raft.ServerId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	group := make(map[raft.ServerId]int)
	for gi, g := range groups {
		for _, id := range g {
			group[id] = gi
		}
	}

	n.partitioned = make(map[pairKey]bool)
	for from := range group {
		for to := range group {
			if from == to {
				continue
			}
			if group[from] != group[to] {
				n.partitioned[pairKey{from, to}] = true
			}
		}
	}
}

// Heal clears every active partition, restoring the baseline drop
// probability network-wide.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned = make(map[pairKey]bool)
}

// SampleDelivery decides whether a message from `from` to `to` is
// dropped and, if not, how many milliseconds of latency it should
// accrue before delivery. Partitioned pairs are always dropped.
func (n *Network) SampleDelivery(from, to raft.ServerId) (drop bool, latencyMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := pairKey{from, to}
	if n.partitioned[key] {
		return true, 0
	}

	lp := n.link(key)
	if lp.drop.Rand() >= 0.5 {
		return true, 0
	}
	return false, lp.latency.Rand()
}
