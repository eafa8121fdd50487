package main

import (
	"context"
	"ephemeral-chat/e2e"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gookit/color"
)

type step struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	baseURL := flag.String("url", "", "Server base URL (defaults to E2E_BASE_URL)")
	flag.Parse()

	cfg, err := e2e.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}

	client := e2e.NewClient(cfg, func(format string, args ...any) {
		fmt.Printf("    "+format+"\n", args...)
	})

	failed := 0
	for _, s := range scenario(client) {
		fmt.Println(client.Header(s.name))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		err := s.run(ctx)
		cancel()
		if err != nil {
			failed++
			color.FgRed.Printf("  ✗ %v\n", err)
			continue
		}
		color.FgGreen.Println("  ✓ ok")
	}
	if failed > 0 {
		color.FgRed.Printf("%d step(s) failed\n", failed)
		os.Exit(1)
	}
	color.FgGreen.Println("All steps passed")
}

func expect(got, want int) error {
	if got != want {
		return fmt.Errorf("expected status %d, got %d", want, got)
	}
	return nil
}

func scenario(client *e2e.Client) []step {
	var roomID, first, second string
	return []step{
		{"Create room", func(ctx context.Context) error {
			room, status, err := client.CreateRoom(ctx)
			if err != nil {
				return err
			}
			roomID = room.RoomID
			return expect(status, http.StatusCreated)
		}},
		{"First member joins", func(ctx context.Context) error {
			joined, _, status, err := client.Join(ctx, roomID, "")
			if err != nil {
				return err
			}
			first = joined.Token
			return expect(status, http.StatusOK)
		}},
		{"Second member joins", func(ctx context.Context) error {
			joined, _, status, err := client.Join(ctx, roomID, "")
			if err != nil {
				return err
			}
			second = joined.Token
			return expect(status, http.StatusOK)
		}},
		{"Third member is refused", func(ctx context.Context) error {
			_, _, status, err := client.Join(ctx, roomID, "")
			if err != nil {
				return err
			}
			return expect(status, http.StatusConflict)
		}},
		{"Post a message", func(ctx context.Context) error {
			status, _, err := client.Post(ctx, roomID, first, "tester", "hello from the smoke test")
			if err != nil {
				return err
			}
			return expect(status, http.StatusCreated)
		}},
		{"Fetch history as the other member", func(ctx context.Context) error {
			history, status, err := client.Messages(ctx, roomID, second)
			if err != nil {
				return err
			}
			if err := expect(status, http.StatusOK); err != nil {
				return err
			}
			if len(history.Messages) != 1 || history.Messages[0].Token != "" {
				return fmt.Errorf("unexpected history %+v", history.Messages)
			}
			return nil
		}},
		{"Destroy the room", func(ctx context.Context) error {
			status, err := client.Destroy(ctx, roomID, second)
			if err != nil {
				return err
			}
			return expect(status, http.StatusNoContent)
		}},
		{"Tokens are void after destroy", func(ctx context.Context) error {
			status, _, err := client.Post(ctx, roomID, first, "tester", "still there?")
			if err != nil {
				return err
			}
			return expect(status, http.StatusUnauthorized)
		}},
	}
}
