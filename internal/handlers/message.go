package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/lavaclient/pkg/lavaclient"
	"github.com/latoulicious/lavaclient/pkg/rest"
)

var client *lavaclient.Client

// SetClient installs the audio client used by the message handler.
func SetClient(c *lavaclient.Client) {
	client = c
}

func MessageHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore all messages created by the bot itself
	if m.Author.ID == s.State.User.ID {
		return
	}

	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	args := strings.Split(m.Content, " ")
	command := strings.TrimPrefix(args[0], "!")

	switch command {
	case "play":
		playCommand(s, m, args[1:])
	case "pause":
		pauseCommand(s, m, true)
	case "resume":
		pauseCommand(s, m, false)
	case "skip":
		skipCommand(s, m)
	case "stop":
		stopCommand(s, m)
	case "queue":
		queueCommand(s, m)
	case "np":
		nowPlayingCommand(s, m)
	case "volume":
		volumeCommand(s, m, args[1:])
	case "shuffle":
		shuffleCommand(s, m)
	case "leave":
		leaveCommand(s, m)
	default:
		s.ChannelMessageSend(m.ChannelID, "Unknown command. Try !play, !pause, !resume, !skip, !stop, !queue, !np, !volume, !shuffle, or !leave.")
	}
}

// voiceChannelOf finds the voice channel the message author is currently in.
func voiceChannelOf(s *discordgo.Session, guildID, userID string) string {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

func playCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		s.ChannelMessageSend(m.ChannelID, "Usage: !play <url or search terms>")
		return
	}

	channelID := voiceChannelOf(s, m.GuildID, m.Author.ID)
	if channelID == "" {
		s.ChannelMessageSend(m.ChannelID, "Join a voice channel first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := client.Connect(ctx, m.GuildID, channelID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed to join voice channel: "+err.Error())
		return
	}

	query := strings.Join(args, " ")
	identifier := query
	if !strings.HasPrefix(query, "http://") && !strings.HasPrefix(query, "https://") {
		identifier = "ytsearch:" + query
	}

	result, err := client.LoadTracks(ctx, m.GuildID, identifier)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Track lookup failed: "+err.Error())
		return
	}
	if len(result.Tracks) == 0 {
		s.ChannelMessageSend(m.ChannelID, "No results for: "+query)
		return
	}

	if result.IsPlaylist() {
		for _, track := range result.Tracks {
			p.Add(m.Author.ID, track)
		}
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Queued %d tracks from **%s**", len(result.Tracks), result.PlaylistInfo.Name))
	} else {
		track := result.Tracks[0]
		p.Add(m.Author.ID, track)
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Queued **%s** (%s)", track.Title, rest.FormatTime(track.Length)))
	}

	if !p.IsPlaying() {
		if err := p.Play(); err != nil {
			s.ChannelMessageSend(m.ChannelID, "Playback failed: "+err.Error())
		}
	}
}

func pauseCommand(s *discordgo.Session, m *discordgo.MessageCreate, pause bool) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Pause(ctx, pause, 0); err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed: "+err.Error())
		return
	}
	if pause {
		s.ChannelMessageSend(m.ChannelID, "Paused.")
	} else {
		s.ChannelMessageSend(m.ChannelID, "Resumed.")
	}
}

func skipCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	if err := p.Skip(); err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed to skip: "+err.Error())
		return
	}
	s.ChannelMessageSend(m.ChannelID, "Skipped.")
}

func stopCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	if err := p.Stop(); err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed to stop: "+err.Error())
		return
	}
	s.ChannelMessageSend(m.ChannelID, "Stopped and cleared the queue.")
}

func queueCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}

	tracks := p.Queue().Tracks()
	if len(tracks) == 0 {
		s.ChannelMessageSend(m.ChannelID, "The queue is empty.")
		return
	}

	var sb strings.Builder
	for i, track := range tracks {
		if i >= 10 {
			sb.WriteString(fmt.Sprintf("...and %d more\n", len(tracks)-i))
			break
		}
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, track.Title, rest.FormatTime(track.Length)))
	}
	s.ChannelMessageSend(m.ChannelID, sb.String())
}

func nowPlayingCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil || p.Current() == nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	track := p.Current()
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Now playing: **%s** [%s / %s]",
		track.Title, rest.FormatTime(p.Position()), rest.FormatTime(track.Length)))
}

func volumeCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	if len(args) == 0 {
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Volume: %d", p.Volume()))
		return
	}
	volume, err := strconv.Atoi(args[0])
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Usage: !volume <0-150>")
		return
	}
	if err := p.SetVolume(volume); err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed to set volume: "+err.Error())
		return
	}
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Volume set to %d.", p.Volume()))
}

func shuffleCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Nothing is playing.")
		return
	}
	p.ForceShuffle(0)
	s.ChannelMessageSend(m.ChannelID, "Queue shuffled.")
}

func leaveCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	p, err := client.GetPlayer(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "Not connected.")
		return
	}
	if err := p.Disconnect(false); err != nil {
		s.ChannelMessageSend(m.ChannelID, "Failed to leave: "+err.Error())
		return
	}
	s.ChannelMessageSend(m.ChannelID, "Left the voice channel.")
}
