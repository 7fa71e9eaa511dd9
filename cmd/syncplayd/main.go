// Command syncplayd is a headless driver for the syncplay core: it
// connects to a coordination server and an already-running external
// player's IPC socket, then logs the observable streams until
// interrupted. It exists to exercise the facade end-to-end outside of
// any GUI, per the core's "must run headless" requirement.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/everpcpc/syncplay-go"
	"github.com/everpcpc/syncplay-go/internal/config"
	"github.com/everpcpc/syncplay-go/internal/player"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host       string
		port       int
		useTLS     bool
		username   string
		room       string
		password   string
		playerSock string
	)

	cmd := &cobra.Command{
		Use:   "syncplayd",
		Short: "Headless syncplay client core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), host, port, useTLS, username, room, password, playerSock)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "localhost", "coordination server host")
	flags.IntVar(&port, "port", 8999, "coordination server port")
	flags.BoolVar(&useTLS, "tls", false, "request opportunistic TLS upgrade")
	flags.StringVar(&username, "username", "", "username to present in the handshake")
	flags.StringVar(&room, "room", "lobby", "room to join")
	flags.StringVar(&password, "password", "", "room password, if required")
	flags.StringVar(&playerSock, "player-socket", "", "path to the external player's local IPC socket")
	cmd.MarkFlagRequired("username")

	return cmd
}

func run(ctx context.Context, host string, port int, useTLS bool, username, room, password, playerSock string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := syncplay.New(config.Default())

	if playerSock != "" {
		if err := c.AttachPlayer(ctx, playerSock, player.DialUnix); err != nil {
			return fmt.Errorf("attach player: %w", err)
		}
	}

	go logStreams(c)

	if err := c.Connect(ctx, syncplay.ConnectOptions{
		Host:     host,
		Port:     port,
		TLS:      useTLS,
		Username: username,
		Room:     room,
		Password: password,
	}); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	<-ctx.Done()
	return c.Disconnect()
}

func logStreams(c *syncplay.Client) {
	for {
		select {
		case s, ok := <-c.StatusStream():
			if !ok {
				return
			}
			slog.Info("status", "state", s.String())
		case t := <-c.TLSStatusStream():
			slog.Info("tls", "status", t.String())
		case m := <-c.ChatStream():
			slog.Info("chat", "username", m.Username, "message", m.Message)
		case p := <-c.PlaybackStream():
			slog.Info("playback", "position", p.Position, "paused", p.Paused, "setBy", p.SetBy)
		case rtt := <-c.RTTStream():
			slog.Info("rtt", "duration", rtt.String())
		}
	}
}
