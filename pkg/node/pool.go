package node

import (
	"sync"

	"github.com/samber/lo"

	"github.com/latoulicious/lavaclient/pkg/logging"
)

// Pool tracks the live nodes and owns the guild-to-node assignment. Each
// guild maps to exactly one node; assignment only changes when the guild is
// removed or its node shuts down.
type Pool struct {
	logger logging.Logger

	mu          sync.Mutex
	nodes       []*Node
	assignments map[string]*Node
}

// NewPool creates an empty node pool.
func NewPool(logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pool{
		logger:      logger,
		assignments: make(map[string]*Node),
	}
}

// Add registers a node with the pool.
func (p *Pool) Add(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.nodes {
		if existing == n {
			return
		}
	}
	n.pool = p
	p.nodes = append(p.nodes, n)
}

// GetNode returns the node assigned to a guild, assigning the least loaded
// one on first use. With requireReady set, unassigned guilds only consider
// nodes in the Ready state.
//
// The scan is O(nodes) per lookup; node counts are single digits to low
// tens so this beats maintaining an index.
func (p *Pool) GetNode(guildID string, requireReady bool) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if assigned, ok := p.assignments[guildID]; ok {
		return assigned, nil
	}

	candidates := p.nodes
	if requireReady {
		candidates = lo.Filter(p.nodes, func(n *Node, _ int) bool {
			return n.Ready()
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoNodesAvailable
	}

	counts := make(map[*Node]int, len(candidates))
	for _, assignedNode := range p.assignments {
		counts[assignedNode]++
	}

	// MinBy keeps the earliest candidate on ties.
	chosen := lo.MinBy(candidates, func(a, b *Node) bool {
		return counts[a] < counts[b]
	})

	p.assignments[guildID] = chosen
	p.logger.Debug("assigned guild to node",
		logging.String("guild", guildID),
		logging.String("node", chosen.cfg.Host))
	return chosen, nil
}

// RemoveGuild drops a guild's node assignment.
func (p *Pool) RemoveGuild(guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.assignments, guildID)
}

// GuildCount returns how many guilds are assigned to a node.
func (p *Pool) GuildCount(n *Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, assigned := range p.assignments {
		if assigned == n {
			count++
		}
	}
	return count
}

// All returns a snapshot of the registered nodes.
func (p *Pool) All() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes := make([]*Node, len(p.nodes))
	copy(nodes, p.nodes)
	return nodes
}

// DisconnectAll shuts down every node in the pool.
func (p *Pool) DisconnectAll() {
	for _, n := range p.All() {
		if err := n.Disconnect(); err != nil {
			p.logger.Error("node disconnect failed", logging.Error(err))
		}
	}
}

// remove is called by a node during its own shutdown.
func (p *Pool) remove(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.nodes {
		if existing == n {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			break
		}
	}
	for guildID, assigned := range p.assignments {
		if assigned == n {
			delete(p.assignments, guildID)
		}
	}
}
