package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

var (
	flagPort       int
	flagName       string
	flagCredKey    string
	flagServerURLs []string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local echo websocket endpoint, optionally exposed through a portal relay",
		RunE:  runServe,
	}
	flags := cmd.Flags()
	flags.IntVar(&flagPort, "port", cfg.Port, "local HTTP port, negative to disable (env ECHO_CHAT_PORT)")
	flags.StringVar(&flagName, "name", cfg.Name, "name announced in the banner and to the relay (env ECHO_CHAT_NAME)")
	flags.StringVar(&flagCredKey, "cred-key", cfg.CredKey, "optional relay credential key, base64 encoded")
	flags.StringSliceVar(&flagServerURLs, "server-url", cfg.ServerURLs, "relay server URL(s); repeat or comma-separated (env RELAY)")
	return cmd
}

func cleanServerURLs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			if u := strings.TrimSpace(p); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

// startRelay exposes handler through the portal relays. It returns a nil
// stop function when no relay is configured.
func startRelay(ctx context.Context, handler http.Handler) (func(), error) {
	servers := cleanServerURLs(flagServerURLs)
	if len(servers) == 0 {
		return nil, nil
	}
	cred := sdk.NewCredential()
	if flagCredKey != "" {
		key, err := base64.StdEncoding.DecodeString(flagCredKey)
		if err != nil {
			return nil, fmt.Errorf("decode cred key: %w", err)
		}
		cred2, err := cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("new credential from private key: %w", err)
		}
		cred = cred2
	}
	client, err := sdk.NewClient(func(c *sdk.RDClientConfig) {
		c.BootstrapServers = servers
	})
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	ln, err := client.Listen(cred, flagName, []string{"http/1.1"})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	log.Info().Strs("servers", servers).Str("name", flagName).Msg("[echo] relay listener enabled")
	go func() {
		if err := http.Serve(ln, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
			log.Error().Err(err).Msg("[echo] relay http error")
		}
	}()
	return func() {
		_ = ln.Close()
		_ = client.Close()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newEchoServer(flagName)
	handler := srv.Router()

	stopRelay, err := startRelay(ctx, handler)
	if err != nil {
		return err
	}
	if stopRelay == nil && flagPort < 0 {
		return errors.New("nothing to serve: no relay configured and local port disabled")
	}

	var httpSrv *http.Server
	if flagPort >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", flagPort), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[echo] serving locally at ws://127.0.0.1:%d/ws", flagPort)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("[echo] local http stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	if stopRelay != nil {
		stopRelay()
	}
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("[echo] http server shutdown error")
		}
	}
	srv.closeAll()
	srv.wait()
	log.Info().Msg("[echo] shutdown complete")
	return nil
}
