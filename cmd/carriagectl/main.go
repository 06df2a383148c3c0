package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/client"
	"github.com/aodjo/KakaoForge-sub001/internal/config"
	"github.com/aodjo/KakaoForge-sub001/internal/logging"
	"github.com/aodjo/KakaoForge-sub001/internal/status"
	"github.com/rs/zerolog/log"
)

const (
	defaultConfigPath = "cmd/carriagectl/config.toml"
	envConfigPath     = "KFORGE_CONFIG"
	sendTimeout       = 15 * time.Second
)

type options struct {
	configPath string
	chatID     int64
	text       string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config path (defaults to $KFORGE_CONFIG or "+defaultConfigPath+")")
	flag.Int64Var(&opts.chatID, "chat", 0, "chat id to send -text to once connected")
	flag.StringVar(&opts.text, "text", "", "message text for -chat")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "carriagectl: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(envConfigPath)); v != "" {
		return v
	}
	return defaultConfigPath
}

func statusGuard(cfg config.StatusConfig) auth.Validator {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil
	}
	return auth.StaticToken{Token: cfg.Token}
}

func run(opts options) error {
	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return err
	}
	logging.Apply(cfg.Log)

	artifact, err := auth.LoadArtifact(cfg.AuthFile)
	if err != nil {
		return err
	}
	cred := artifact.Credential()
	c, err := client.New(cfg.Client, cred)
	if err != nil {
		return err
	}
	defer c.Shutdown()
	log.Info().Msgf("carriagectl.run starting booking=%s %s", cfg.Client.BookingAddr, cred.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fatal := make(chan error, 1)
	wireHandlers(c, fatal)
	if opts.chatID != 0 && opts.text != "" {
		c.OnReady(sendOnce(c, opts.chatID, opts.text))
	}

	statusErr := make(chan error, 1)
	if strings.TrimSpace(cfg.Status.Addr) != "" {
		srv := status.New("carriagectl", cfg.Status.Addr, cfg.Status.CorsOrigins, statusGuard(cfg.Status), c)
		go func() {
			statusErr <- srv.Serve(ctx)
		}()
	}

	// a failed first attempt is retried on the backoff schedule
	if err := c.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Msgf("carriagectl.run initial connect failed err=%v", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("carriagectl.run shutdown")
		return nil
	case err := <-fatal:
		return err
	case err := <-statusErr:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

func wireHandlers(c *client.Client, fatal chan<- error) {
	c.OnReady(func() {
		st := c.Status()
		log.Info().Msgf("carriagectl ready endpoint=%s rooms=%d", st.Endpoint, st.Rooms)
	})
	c.OnMessage(func(m client.Message) {
		if !m.New {
			return
		}
		log.Info().
			Int64("chat_id", m.ChatID).
			Int64("log_id", m.Log.LogID).
			Str("room", m.RoomTitle).
			Str("sender", m.SenderName).
			Int32("type", m.Log.Type).
			Str("text", m.Log.Message).
			Msg("carriagectl message")
	})
	c.OnDisconnect(func(err error) {
		log.Warn().Msgf("carriagectl disconnected err=%v", err)
	})
	c.OnError(func(err error) {
		log.Error().Msgf("carriagectl error err=%v", err)
	})
	c.OnKickout(func(p client.Push) {
		select {
		case fatal <- fmt.Errorf("kicked out by server (%s)", p.Raw):
		default:
		}
	})
}

func sendOnce(c *client.Client, chatID int64, text string) client.ReadyHandler {
	var once sync.Once
	return func() {
		once.Do(func() {
			go send(c, chatID, text)
		})
	}
}

func send(c *client.Client, chatID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	ack, err := c.Write(ctx, chatID, text, carriage.MsgText, carriage.WriteOptions{})
	if err != nil {
		log.Error().Msgf("carriagectl.send chat_id=%d err=%v", chatID, err)
		return
	}
	log.Info().Msgf("carriagectl.send chat_id=%d log_id=%d", chatID, ack.LogID)
}
