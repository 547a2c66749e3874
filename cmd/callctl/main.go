// callctl is a headless call client for the relay: it binds an identity,
// opens a signaling channel and either waits for calls or places one.
//
//	callctl -name "Dr. Vos" -role doctor listen
//	callctl -name "J. Doe" -role patient -video call <userID>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/adapters/channel"
	"github.com/ovident/telecall/internal/adapters/media"
	"github.com/ovident/telecall/internal/adapters/rtc"
	"github.com/ovident/telecall/internal/app/call"
	"github.com/ovident/telecall/internal/config"
	"github.com/ovident/telecall/internal/domain"
)

func main() {
	relayURL := flag.String("relay", "http://localhost:8080", "relay base URL")
	name := flag.String("name", "", "display name")
	roleStr := flag.String("role", "patient", "doctor or patient")
	video := flag.Bool("video", false, "place video calls instead of audio-only")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *name == "" || flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: callctl -name <name> [-role doctor|patient] [-video] listen | call <userID>")
		os.Exit(2)
	}
	role, err := domain.ParseRole(*roleStr)
	if err != nil {
		log.Fatal().Str("role", *roleStr).Msg("unknown role")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	token, uid, err := fetchToken(*relayURL, *name, string(role))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to obtain token")
	}
	self := domain.Participant{ID: domain.UserID(uid), Name: *name, Role: role}
	log.Info().Str("uid", uid).Msg("identity bound")

	ch := channel.New(wsURL(*relayURL), token)

	src, err := media.NewDeviceSource()
	if err != nil {
		log.Fatal().Err(err).Msg("media source init")
	}
	links := rtc.Factory(cfg.ICEServers, src.ConfigureEngine)

	timeouts := call.Timeouts{Ring: cfg.RingTimeout, Connect: cfg.ConnectTimeout, Grace: cfg.GracePeriod}

	done := make(chan struct{})
	var coord *call.Coordinator
	coord = call.New(self, ch, src, links, timeouts, func(ev call.Event) {
		switch ev.Kind {
		case call.EventMissedCall:
			log.Info().Str("caller", ev.Caller.Name).Str("reason", string(ev.Reason)).Msg("missed call")
		case call.EventState:
			log.Info().Str("state", string(ev.Session.State)).Str("reason", string(ev.Reason)).Msg("call state")
			switch ev.Session.State {
			case domain.CallStateRinging:
				go func() {
					if err := coord.Accept(ctx); err != nil {
						log.Error().Err(err).Msg("accept failed")
					}
				}()
			case domain.CallStateEnded:
				select {
				case done <- struct{}{}:
				default:
				}
			}
		}
	})

	if err := ch.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("channel connect")
	}
	defer ch.Close()

	switch flag.Arg(0) {
	case "listen":
		log.Info().Msg("waiting for calls")
		<-ctx.Done()
	case "call":
		if flag.NArg() < 2 {
			log.Fatal().Msg("call requires a target user id")
		}
		kind := domain.MediaAudio
		if *video {
			kind = domain.MediaVideo
		}
		target := domain.Participant{ID: domain.UserID(flag.Arg(1))}
		sid, err := coord.PlaceCall(ctx, target, kind)
		if err != nil {
			log.Fatal().Err(err).Msg("place call")
		}
		log.Info().Str("session", sid).Msg("call placed")
		select {
		case <-done:
		case <-ctx.Done():
		}
	default:
		log.Fatal().Str("cmd", flag.Arg(0)).Msg("unknown command")
	}

	_ = coord.End()
}

func fetchToken(base, name, role string) (token, userID string, err error) {
	body, err := json.Marshal(map[string]string{"name": name, "role": role})
	if err != nil {
		return "", "", err
	}
	resp, err := http.Post(base+"/api/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}
	var out struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Token, out.UserID, nil
}

func wsURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "/ws/signal"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/signal"
	return u.String()
}
