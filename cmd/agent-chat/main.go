// agent-chat is a terminal client for the agent streaming protocol. It
// connects one conversation to a live endpoint, sends stdin lines as
// queries and prints the event stream, which makes it a convenient probe
// for both servers and this client library.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexio-ai/agentstream/pkg/protocol"
	"github.com/lexio-ai/agentstream/pkg/session"
	"github.com/lexio-ai/agentstream/pkg/transport"
)

type settings struct {
	endpoint       string
	conversationID string
	documentID     string
	token          string
	logLevel       string
	pingInterval   time.Duration
}

func main() {
	s := &settings{}

	rootCmd := &cobra.Command{
		Use:   "agent-chat",
		Short: "Interactive client for the agent streaming protocol",
		Long: `Connects a single conversation to an agent endpoint and streams events.

Stdin lines are sent as queries. Slash commands:
  /cancel      cancel the current run
  /doc <id>    switch the document context
  /reset       clear the local conversation history
  /quit        disconnect and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), s)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&s.endpoint, "endpoint", "ws://localhost:8088/api/agent", "agent websocket endpoint")
	flags.StringVar(&s.conversationID, "conversation-id", "", "conversation id (random when empty)")
	flags.StringVar(&s.documentID, "document-id", "", "initial document context")
	flags.StringVar(&s.token, "token", os.Getenv("AGENTSTREAM_TOKEN"), "bearer token (env AGENTSTREAM_TOKEN)")
	flags.StringVar(&s.logLevel, "log-level", "info", "trace|debug|info|warn|error")
	flags.DurationVar(&s.pingInterval, "ping-interval", 30*time.Second, "keepalive ping interval, 0 to disable")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s *settings) error {
	level, err := zerolog.ParseLevel(s.logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.NewConsoleWriter()).
		Level(level).
		With().
		Timestamp().
		Logger()

	if s.conversationID == "" {
		s.conversationID = uuid.NewString()
		logger.Info().Str("conversation_id", s.conversationID).Msg("generated conversation id")
	}

	sess := session.New(s.endpoint,
		session.WithLogger(logger),
		session.WithDialer(&transport.WebsocketDialer{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     s.pingInterval,
			Logger:           logger,
		}),
	)
	defer sess.Disconnect()

	unsubscribe := sess.Subscribe(func(ev protocol.Event) {
		printEvent(ev)
	})
	defer unsubscribe()

	err = sess.Connect(ctx, session.Identity{
		ConversationID: s.conversationID,
		DocumentID:     s.documentID,
		AuthToken:      s.token,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		sess.Disconnect()
		return nil
	})
	g.Go(func() error {
		if err := inputLoop(ctx, sess, logger); err != nil {
			return err
		}
		// Unblock the shutdown goroutine once stdin is done.
		return errDone
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return err
	}
	return nil
}

var errDone = errors.New("input finished")

func inputLoop(ctx context.Context, sess *session.AgentSession, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("connected; type a query, /quit to exit")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/cancel":
			sess.CancelTask()
			fmt.Println("cancel requested")
		case line == "/reset":
			sess.Reset()
			fmt.Println("history cleared")
		case strings.HasPrefix(line, "/doc "):
			sess.SetDocument(strings.TrimSpace(strings.TrimPrefix(line, "/doc ")))
		default:
			if err := sess.SendQuery(line, nil); err != nil {
				logger.Warn().Err(err).Msg("query rejected")
			}
		}
	}
	return scanner.Err()
}

func printEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Connected:
		fmt.Println("<< server ready")
	case protocol.StatePush:
		fmt.Printf("<< state: %s\n", e.State)
	case protocol.Plan:
		fmt.Println("<< plan:")
		for i, step := range e.Steps {
			fmt.Printf("   %d. %s\n", i+1, step)
		}
	case protocol.Thought:
		fmt.Printf("<< thought: %s\n", e.Text)
	case protocol.Action:
		fmt.Printf("<< action: %s %v\n", e.Tool, e.Input)
	case protocol.Observation:
		fmt.Printf("<< observation: %s\n", e.Output)
	case protocol.Answer:
		fmt.Printf("\n%s\n\n", e.Content)
	case protocol.ServerError:
		fmt.Printf("<< error: %s\n", e.Message)
	case protocol.Cancelled:
		fmt.Println("<< cancelled")
	}
}
