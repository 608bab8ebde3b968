// Command rafiq-live is an interactive terminal client for the Rafiq
// assistant: live spoken turns through the speaker, text chat with web
// grounding, and image generation, with optional transcript persistence.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafiq-ai/rafiq-go/internal/dotenv"
	"github.com/rafiq-ai/rafiq-go/pkg/store"
	rafiq "github.com/rafiq-ai/rafiq-go/sdk"
)

const defaultSystemInstruction = "You are Rafiq, a warm and helpful assistant. Keep spoken answers short and conversational."

func main() {
	var (
		envFile     = flag.String("env", ".env", "dotenv file to load")
		voice       = flag.String("voice", "", "prebuilt voice name (default "+rafiq.DefaultVoice+")")
		system      = flag.String("system", defaultSystemInstruction, "system instruction")
		noSpeaker   = flag.Bool("no-speaker", false, "consume audio without playing it")
		volume      = flag.Int("volume", 80, "ffplay volume (0-100)")
		databaseURL = flag.String("db", "", "postgres URL for transcript persistence (default $DATABASE_URL)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if err := run(*envFile, *voice, *system, *noSpeaker, *volume, *databaseURL, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "rafiq-live: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile, voice, system string, noSpeaker bool, volume int, databaseURL string, verbose bool) error {
	if err := dotenv.Load(envFile); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := rafiq.NewClient(
		rafiq.WithLogger(logger),
		rafiq.WithSystemInstruction(system),
	)

	engine := newFFPlayEngine("", volume, noSpeaker, logger)
	defer engine.Close()
	player := rafiq.NewStreamingPlayer(engine, logger)

	transcript, err := openTranscript(databaseURL, logger)
	if err != nil {
		return err
	}
	defer transcript.close()

	ctx := context.Background()
	opened := client.Live.StartSession(ctx, voice, rafiq.LiveCallbacks{
		OnTurnComplete: func() { fmt.Println() },
		OnError:        func(msg string) { fmt.Fprintf(os.Stderr, "\n[live] %s\n", msg) },
	})
	if !opened {
		return fmt.Errorf("could not open live session")
	}
	defer client.Live.CloseSession()

	fmt.Println("rafiq-live ready. Type a message to talk, /chat <msg>, /image <prompt>, /quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/q":
			return scanner.Err()
		case line == "/close":
			client.Live.CloseSession()
			player.StopAndClear()
			fmt.Println("live session closed")
		case line == "/open":
			if client.Live.StartSession(ctx, voice, rafiq.LiveCallbacks{
				OnTurnComplete: func() { fmt.Println() },
				OnError:        func(msg string) { fmt.Fprintf(os.Stderr, "\n[live] %s\n", msg) },
			}) {
				fmt.Println("live session open")
			}
		case strings.HasPrefix(line, "/chat "):
			chatTurn(ctx, client, transcript, strings.TrimPrefix(line, "/chat "))
		case strings.HasPrefix(line, "/image "):
			imageTurn(ctx, client, strings.TrimPrefix(line, "/image "))
		default:
			liveTurn(ctx, client, player, transcript, line)
		}
	}
	return scanner.Err()
}

// liveTurn speaks one turn: text deltas echo to stdout while audio deltas
// stream to the player.
func liveTurn(ctx context.Context, client *rafiq.Client, player *rafiq.StreamingPlayer, transcript *transcriptWriter, prompt string) {
	player.StopAndClear()

	var spoken strings.Builder
	client.Live.SendTurn(ctx, prompt,
		func(text string, partial bool) {
			if partial {
				spoken.WriteString(text)
				fmt.Print(text)
			}
		},
		func(data []byte, mimeType string) {
			player.SetFormat(mimeType)
			player.AddPCM(data)
		},
	)

	transcript.record(ctx, store.RoleUser, prompt, nil)
	if spoken.Len() > 0 {
		transcript.record(ctx, store.RoleModel, spoken.String(), nil)
	}
}

func chatTurn(ctx context.Context, client *rafiq.Client, transcript *transcriptWriter, prompt string) {
	result, err := client.Chat.GenerateStream(ctx, prompt, nil, "", func(text string) {
		fmt.Print(text)
	})
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[chat] %v\n", err)
		return
	}

	var citations []string
	for _, c := range result.Citations {
		citations = append(citations, fmt.Sprintf("%s <%s>", c.Title, c.URI))
		fmt.Printf("  source: %s %s\n", c.Title, c.URI)
	}
	transcript.record(ctx, store.RoleUser, prompt, nil)
	transcript.record(ctx, store.RoleModel, result.Text, citations)
}

func imageTurn(ctx context.Context, client *rafiq.Client, prompt string) {
	img, err := client.Images.Generate(ctx, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[image] %v\n", err)
		return
	}
	name := fmt.Sprintf("rafiq-%d.jpg", time.Now().Unix())
	if err := os.WriteFile(name, img.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "[image] write %s: %v\n", name, err)
		return
	}
	fmt.Printf("wrote %s (%d bytes)\n", name, len(img.Data))
}

// transcriptWriter persists turns when a database is configured and is a
// no-op otherwise.
type transcriptWriter struct {
	store  store.Store
	convID uuid.UUID
	logger *slog.Logger
}

func openTranscript(databaseURL string, logger *slog.Logger) (*transcriptWriter, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return &transcriptWriter{logger: logger}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := store.NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	conv, err := st.CreateConversation(ctx, "rafiq-live "+time.Now().Format(time.RFC3339))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Info("transcript persistence enabled", "conversation_id", conv.ID)
	return &transcriptWriter{store: st, convID: conv.ID, logger: logger}, nil
}

func (w *transcriptWriter) record(ctx context.Context, role store.Role, text string, citations []string) {
	if w.store == nil || text == "" {
		return
	}
	_, err := w.store.AppendMessage(ctx, store.Message{
		ConversationID: w.convID,
		Role:           role,
		Text:           text,
		Citations:      citations,
	})
	if err != nil {
		w.logger.Warn("transcript append failed", "error", err)
	}
}

func (w *transcriptWriter) close() {
	if w.store != nil {
		_ = w.store.Close()
	}
}
