// Package lavaclient is the host-facing surface of the Lavalink client. A
// Client owns the node pool, the dispatch bus and the per-guild players,
// and bridges the host's Discord gateway events into the voice handshake.
package lavaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/lavaclient/pkg/dispatch"
	"github.com/latoulicious/lavaclient/pkg/logging"
	"github.com/latoulicious/lavaclient/pkg/node"
	"github.com/latoulicious/lavaclient/pkg/player"
	"github.com/latoulicious/lavaclient/pkg/rest"
)

// Config configures the client.
type Config struct {
	// Nodes lists the audio nodes to connect to. At least one is required.
	Nodes []node.Config
	// ConnectTimeout bounds the initial connect of each node. Zero retries
	// indefinitely.
	ConnectTimeout time.Duration
	// ChannelFinder lets hosts with their own channel cache decide whether
	// a voice channel still exists when re-associating an orphaned guild
	// during the handshake. Defaults to the session state cache.
	ChannelFinder func(channelID string) bool
	// Logger receives client diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

// Client is the root object hosts interact with.
type Client struct {
	session *discordgo.Session
	cfg     Config
	logger  logging.Logger
	pool    *node.Pool
	bus     *dispatch.Bus

	// joinVoice sends the gateway voice state update; swappable in tests.
	joinVoice func(guildID, channelID string) error

	mu          sync.Mutex
	players     map[string]*player.Player
	restClients map[*node.Node]*rest.Client
	userID      string
	initialized bool
	closed      bool

	detachHandlers []func()
}

// New creates a client bound to a host Discord session. Call Initialize
// after the session is ready.
func New(session *discordgo.Session, cfg Config) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("discord session is required")
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes configured", node.ErrInvalidNodeConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	c := &Client{
		session:     session,
		cfg:         cfg,
		logger:      cfg.Logger,
		pool:        node.NewPool(cfg.Logger),
		players:     make(map[string]*player.Player),
		restClients: make(map[*node.Node]*rest.Client),
	}
	c.joinVoice = func(guildID, channelID string) error {
		return session.ChannelVoiceJoinManual(guildID, channelID, false, true)
	}
	c.bus = dispatch.NewBus(c, cfg.Logger)

	// Built-in listeners drive the player state machines; hosts register
	// their own listeners alongside these.
	c.bus.RegisterEventListener(c.handlePlayerEvent)
	c.bus.RegisterUpdateListener(c.handlePlayerUpdate)
	return c, nil
}

// Initialize connects every configured node and hooks the voice gateway
// events. The session must have completed its ready handshake so the bot
// user id is known.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	if c.session.State == nil || c.session.State.User == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: session has no ready user", ErrNotInitialized)
	}
	c.userID = c.session.State.User.ID
	c.initialized = true
	c.mu.Unlock()

	shards := c.session.ShardCount
	if shards < 1 {
		shards = 1
	}

	for _, nodeCfg := range c.cfg.Nodes {
		nodeCfg.UserID = c.userID
		nodeCfg.NumShards = shards

		n, err := node.NewNode(nodeCfg, c.bus.Dispatch, c.logger)
		if err != nil {
			return err
		}
		c.pool.Add(n)

		c.mu.Lock()
		c.restClients[n] = rest.NewClient(nodeCfg.Host, nodeCfg.RestPort, nodeCfg.Password, c.logger)
		c.mu.Unlock()

		if err := n.Connect(ctx, c.cfg.ConnectTimeout); err != nil {
			return fmt.Errorf("connecting node %s: %w", nodeCfg.Host, err)
		}
	}

	c.detachHandlers = append(c.detachHandlers,
		c.session.AddHandler(c.onVoiceServerUpdate),
		c.session.AddHandler(c.onVoiceStateUpdate),
	)

	c.logger.Info("lavalink client initialized",
		logging.Int("nodes", len(c.cfg.Nodes)),
		logging.String("user", c.userID))
	return nil
}

// Connect creates (or moves) the player for a guild and joins the voice
// channel through the host gateway.
func (c *Client) Connect(ctx context.Context, guildID, channelID string) (*player.Player, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	existing, ok := c.players[guildID]
	c.mu.Unlock()

	if ok {
		if err := existing.MoveTo(ctx, channelID); err != nil {
			return nil, err
		}
		return existing, nil
	}

	n, err := c.pool.GetNode(guildID, true)
	if err != nil {
		return nil, err
	}

	p := c.newPlayer(guildID, channelID, n)
	if err := p.Connect(); err != nil {
		// Tear the player down fully so its node subscription goes away
		// with the map entry.
		if derr := p.Disconnect(false); derr != nil {
			c.logger.Warn("failed to clean up player after join error",
				logging.String("guild_id", guildID), logging.Error(derr))
		}
		return nil, err
	}
	return p, nil
}

// GetPlayer returns the active player for a guild.
func (c *Client) GetPlayer(guildID string) (*player.Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[guildID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

// AllPlayers returns a snapshot of the active players.
func (c *Client) AllPlayers() []*player.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	players := make([]*player.Player, 0, len(c.players))
	for _, p := range c.players {
		players = append(players, p)
	}
	return players
}

// Nodes returns the live nodes.
func (c *Client) Nodes() []*node.Node {
	return c.pool.All()
}

// NodeStats returns the last stats snapshot of every live node. Nodes that
// have not reported yet are skipped.
func (c *Client) NodeStats() []*node.Stats {
	var out []*node.Stats
	for _, n := range c.pool.All() {
		if stats := n.Stats(); stats != nil {
			out = append(out, stats)
		}
	}
	return out
}

// LoadTracks resolves a query through the REST API of the node assigned to
// a guild.
func (c *Client) LoadTracks(ctx context.Context, guildID, identifier string) (*rest.LoadResult, error) {
	n, err := c.pool.GetNode(guildID, true)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	restClient, ok := c.restClients[n]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotInitialized
	}
	return restClient.LoadTracks(ctx, identifier)
}

// RegisterEventListener subscribes a host listener to protocol events.
func (c *Client) RegisterEventListener(listener dispatch.EventListener) error {
	return c.bus.RegisterEventListener(listener)
}

// UnregisterEventListener removes a host event listener.
func (c *Client) UnregisterEventListener(listener dispatch.EventListener) {
	c.bus.UnregisterEventListener(listener)
}

// RegisterUpdateListener subscribes a host listener to position updates.
func (c *Client) RegisterUpdateListener(listener dispatch.UpdateListener) error {
	return c.bus.RegisterUpdateListener(listener)
}

// UnregisterUpdateListener removes a host update listener.
func (c *Client) UnregisterUpdateListener(listener dispatch.UpdateListener) {
	c.bus.UnregisterUpdateListener(listener)
}

// RegisterStatsListener subscribes a host listener to node stats.
func (c *Client) RegisterStatsListener(listener dispatch.StatsListener) error {
	return c.bus.RegisterStatsListener(listener)
}

// UnregisterStatsListener removes a host stats listener.
func (c *Client) UnregisterStatsListener(listener dispatch.StatsListener) {
	c.bus.UnregisterStatsListener(listener)
}

// Close disconnects every player and node and detaches from the gateway.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	detach := c.detachHandlers
	c.detachHandlers = nil
	restClients := c.restClients
	c.restClients = make(map[*node.Node]*rest.Client)
	c.mu.Unlock()

	for _, remove := range detach {
		remove()
	}

	for _, p := range c.AllPlayers() {
		if err := p.Disconnect(false); err != nil {
			c.logger.Warn("player disconnect failed",
				logging.String("guild", p.GuildID()),
				logging.Error(err))
		}
	}

	for _, restClient := range restClients {
		restClient.Close()
	}

	c.pool.DisconnectAll()
	c.logger.Info("lavalink client closed")
	return nil
}

// newPlayer wires up a player, its join callback and its removal hook.
// Callers must not hold c.mu.
func (c *Client) newPlayer(guildID, channelID string, n *node.Node) *player.Player {
	join := c.joinVoice
	onClose := func(guildID string) {
		c.removePlayer(guildID)
	}

	p := player.New(guildID, channelID, n, join, onClose, c.logger)

	c.mu.Lock()
	c.players[guildID] = p
	c.mu.Unlock()
	return p
}

func (c *Client) removePlayer(guildID string) {
	c.mu.Lock()
	delete(c.players, guildID)
	c.mu.Unlock()
	c.pool.RemoveGuild(guildID)
}

// handlePlayerEvent is the built-in event listener driving the player
// state machine.
func (c *Client) handlePlayerEvent(p *player.Player, event node.Event, extra interface{}) {
	if err := p.HandleEvent(event, extra); err != nil {
		c.logger.Warn("player event handling failed",
			logging.String("guild", p.GuildID()),
			logging.String("event", string(event)),
			logging.Error(err))
	}
}

// handlePlayerUpdate is the built-in update listener applying authoritative
// positions.
func (c *Client) handlePlayerUpdate(p *player.Player, state node.PositionTime) {
	p.HandlePlayerUpdate(state)
}

// onVoiceServerUpdate forwards the gateway's voice server payload verbatim
// into the player's handshake aggregate.
func (c *Client) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	p, err := c.GetPlayer(e.GuildID)
	if err != nil {
		c.logger.Debug("voice server update for guild without a player",
			logging.String("guild", e.GuildID))
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("failed to encode voice server update", logging.Error(err))
		return
	}
	if err := p.OnVoiceServerUpdate(payload); err != nil {
		c.logger.Warn("voice server update failed",
			logging.String("guild", e.GuildID),
			logging.Error(err))
	}
}

// onVoiceStateUpdate feeds the session id into the handshake. Updates for
// other users are ignored; an update for a guild without a player
// re-associates the orphaned guild with a fresh player first.
func (c *Client) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.UserID != c.userID {
		return
	}

	p, err := c.GetPlayer(e.GuildID)
	if err != nil {
		if e.ChannelID == "" || !c.channelExists(e.ChannelID) {
			return
		}
		n, err := c.pool.GetNode(e.GuildID, true)
		if err != nil {
			c.logger.Debug("voice state update with no node available",
				logging.String("guild", e.GuildID))
			return
		}
		c.logger.Debug("received voice connection without a player, creating one",
			logging.String("guild", e.GuildID))
		p = c.newPlayer(e.GuildID, e.ChannelID, n)
	}

	if err := p.OnVoiceStateUpdate(e.SessionID, e.ChannelID); err != nil {
		c.logger.Warn("voice state update failed",
			logging.String("guild", e.GuildID),
			logging.Error(err))
	}
}

func (c *Client) channelExists(channelID string) bool {
	if c.cfg.ChannelFinder != nil {
		return c.cfg.ChannelFinder(channelID)
	}
	if c.session.State == nil {
		return true
	}
	_, err := c.session.State.Channel(channelID)
	return err == nil
}
