package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/lavaclient/internal/config"
	"github.com/latoulicious/lavaclient/internal/handlers"
	"github.com/latoulicious/lavaclient/pkg/lavaclient"
	"github.com/latoulicious/lavaclient/pkg/logging"
	"github.com/latoulicious/lavaclient/pkg/node"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	// Create a new Discord session using the provided token
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatalf("Failed to create Discord session: %v", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	client, err := lavaclient.New(dg, lavaclient.Config{
		Nodes:          []node.Config{cfg.Node},
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("Failed to create audio client: %v", err)
	}
	handlers.SetClient(client)

	// Register the message handler
	dg.AddHandler(handlers.MessageHandler)

	// Open a websocket connection to Discord and begin listening.
	if err := dg.Open(); err != nil {
		log.Fatalf("Failed to open Discord session: %v", err)
	}

	// Node connections need the bot user id, so they start after the
	// session is ready.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = client.Initialize(ctx)
	cancel()
	if err != nil {
		dg.Close()
		log.Fatalf("Failed to connect to audio node: %v", err)
	}

	log.Println("Bot is running. Press CTRL-C to exit.")
	// Wait here until CTRL-C or other term signal is received.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	// Cleanly close down the audio client and the Discord session.
	client.Close()
	dg.Close()
}
