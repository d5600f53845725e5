package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/agent-network-protocol/anp-e2ee/pkg/did"
	"github.com/agent-network-protocol/anp-e2ee/pkg/e2ee"
	"github.com/agent-network-protocol/anp-e2ee/pkg/prettylog"
	"github.com/agent-network-protocol/anp-e2ee/pkg/transport"
)

var upgrader = websocket.Upgrader{}

func main() {
	godotenv.Load()

	configPath := os.Getenv("ANP_NODE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		slog.Error("loading config", "path", configPath, "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(prettylog.NewHandler(cfg.SlogLevel())))

	var identity *did.Identity
	if cfg.KeyPEMPath != "" {
		identity, err = did.LoadIdentity(cfg.DID, cfg.KeyPEMPath)
	} else {
		slog.Warn("no key_pem_path configured, generating ephemeral identity key")
		identity, err = did.NewIdentity(cfg.DID)
	}
	if err != nil {
		slog.Error("loading identity", "error", err)
		os.Exit(1)
	}

	endpoint := e2ee.NewEndpoint(identity,
		e2ee.WithEndpointKeyExpires(cfg.KeyExpiresSeconds))

	// the core spawns no timers; the host schedules cleanup sweeps
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.CleanupIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			for _, pair := range endpoint.Manager().CleanupExpired() {
				slog.Info("rehandshake needed",
					"local_did", pair.LocalDID, "peer_did", pair.PeerDID)
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true

	e.GET("/ws/e2ee", func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		client := transport.NewClient(ws)
		for {
			env, err := client.ReadEnvelope()
			if err != nil {
				slog.Debug("connection closed", "error", err)
				return nil
			}

			outbound, received, err := endpoint.HandleMessage(env.Type, env.Content)
			if err != nil {
				slog.Warn("handling message",
					"message_id", env.MessageID, "type", env.Type, "error", err)
				continue
			}

			for _, out := range outbound {
				reply, err := transport.NewEnvelope(out.WireType, out.Content)
				if err != nil {
					slog.Error("building envelope", "error", err)
					continue
				}
				if err := client.WriteEnvelope(reply); err != nil {
					slog.Error("writing envelope", "error", err)
					return nil
				}
			}

			if received != nil {
				slog.Info("decrypted message",
					"peer_did", received.PeerDID,
					"original_type", received.OriginalType,
					"bytes", len(received.Plaintext))
			}
		}
	})

	slog.Info("starting node", "did", cfg.DID, "listen_addr", cfg.ListenAddr)
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
