package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/echo-chat/chat"
	"github.com/gosuda/echo-chat/chatstore"
	"github.com/gosuda/echo-chat/wsmux"
)

var (
	flagEndpoint string
	flagDataPath string
	flagUser     string
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client; every user shares one websocket",
		RunE:  runChat,
	}
	flags := cmd.Flags()
	flags.StringVar(&flagEndpoint, "endpoint", cfg.Endpoint, "echo websocket endpoint (env ECHO_CHAT_ENDPOINT)")
	flags.StringVar(&flagDataPath, "data-path", cfg.DataPath, "optional directory to persist chat history via PebbleDB (env ECHO_CHAT_DATA_PATH)")
	flags.StringVar(&flagUser, "user", cfg.User, "user id to open at start (env ECHO_CHAT_USER)")
	return cmd
}

func openBlobs(dir string) chatstore.Blobs {
	if dir == "" {
		return chatstore.NewMemoryBlobs()
	}
	p, err := chatstore.OpenPebble(dir)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] open store failed; running in memory only")
		return chatstore.NewMemoryBlobs()
	}
	return p
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs := openBlobs(flagDataPath)
	defer func() {
		if err := blobs.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()
	store := chatstore.NewStore(blobs, chatstore.DefaultMaxRecords)

	loop := wsmux.NewLoop(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = loop.Run(context.Background())
	}()
	defer func() {
		loop.Close()
		wg.Wait()
	}()

	term := newTerminal(cmd.OutOrStdout())
	mcfg := wsmux.Config{
		Endpoint:       flagEndpoint,
		Retry:          wsmux.RetryPolicy{MaxAttempts: cfg.RetryAttempts, BaseDelay: cfg.RetryDelay, Backoff: wsmux.BackoffLinear},
		ConnectTimeout: cfg.ConnectTimeout,
	}
	var startErr error
	if err := loop.Do(ctx, func() {
		c, err := chat.NewClient(loop, store, mcfg, chat.WithEventHandler(term.onEvent))
		if err != nil {
			startErr = err
			return
		}
		term.client = c
		startErr = term.open(startUser(c))
	}); err != nil {
		return err
	}
	if startErr != nil {
		return fmt.Errorf("start chat: %w", startErr)
	}
	defer func() {
		_ = loop.Do(context.Background(), func() {
			if err := term.client.Close(); err != nil {
				log.Warn().Err(err).Msg("[chat] save on exit")
			}
		})
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit := false
			if err := loop.Do(ctx, func() { quit = term.handle(line) }); err != nil {
				return nil
			}
			if quit {
				return nil
			}
		}
	}
}

// startUser picks the --user flag, else the most recently active user, else
// a fresh one.
func startUser(c *chat.Client) (string, string) {
	if flagUser != "" {
		return flagUser, ""
	}
	if users, err := c.Users(); err == nil && len(users) > 0 {
		return users[0].ID, users[0].Name
	}
	u, err := c.NewUser()
	if err != nil {
		return chatstore.NewUserID(time.Now()), ""
	}
	return u.ID, u.Name
}
