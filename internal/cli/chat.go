package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paydesk/finchat/internal/api"
	"github.com/paydesk/finchat/internal/chatsync"
	"github.com/paydesk/finchat/internal/config"
	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/transport"
)

func newChatCmd() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat session against the gateway",
		Long: `Logs into the gateway and opens a live chat session in the terminal.
Customers land directly in their conversation; admins get the roster and
pick a conversation with /open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := api.NewClient(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
			login, err := client.Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Printf("logged in as %s (%s)\n", login.DisplayName, login.Role)

			factory := func() chatsync.Transport {
				return transport.NewWebSocket(cfg.API.WSURL, client.Token(), log)
			}

			r := &repl{out: os.Stdout}
			session := chatsync.NewSession(login.ActorID, login.Role, factory, client, log,
				chatsync.WithTypingTimeout(time.Duration(cfg.Chat.TypingTimeoutMs)*time.Millisecond),
				chatsync.WithOnUpdate(func() { r.render(r.session) }),
			)
			r.session = session

			if err := session.Connect(ctx); err != nil {
				return fmt.Errorf("connect failed: %w", err)
			}
			defer session.Disconnect()

			if login.Role == domain.RoleAdmin {
				r.printRoster()
				fmt.Println("commands: /list, /open <conversation>, /status, /quit")
			}

			return r.loop(ctx)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

// repl is the line-oriented terminal frontend over a chat session. It
// prints messages as the session's visible list grows.
type repl struct {
	session *chatsync.Session
	out     *os.File

	printed int
	conv    string
}

// loop reads stdin lines until EOF or cancellation.
func (r *repl) loop(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
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
			if done := r.handle(ctx, line); done {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false

	case line == "/quit":
		return true

	case line == "/list":
		r.printRoster()
		return false

	case line == "/status":
		snap := r.session.Snapshot()
		fmt.Fprintf(r.out, "%s (%s): %s\n", snap.ActorID, snap.Role, snap.State)
		return false

	case strings.HasPrefix(line, "/open "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		if err := r.session.OpenConversation(ctx, id); err != nil {
			fmt.Fprintf(r.out, "could not open %s: %v\n", id, err)
			return false
		}
		r.printed = 0
		r.conv = id
		r.render(r.session)
		return false

	default:
		// Typing input precedes the send, like keystrokes would.
		r.session.TypingInput()
		if _, err := r.session.Send(ctx, line); err != nil {
			fmt.Fprintf(r.out, "send failed: %v\n", err)
		}
		return false
	}
}

// render prints any messages added since the last call. Called from the
// session's update callback.
func (r *repl) render(s *chatsync.Session) {
	if s == nil {
		return
	}
	if open := s.OpenConversationID(); open != r.conv {
		r.conv = open
		r.printed = 0
	}

	msgs := s.Messages()
	for ; r.printed < len(msgs); r.printed++ {
		m := msgs[r.printed]
		marker := ""
		if !m.ID.Confirmed() {
			marker = " (sending...)"
		}
		fmt.Fprintf(r.out, "[%s] %s: %s%s\n",
			m.CreatedAt.Format("15:04:05"), m.Sender, m.Body, marker)
	}

	if r.conv != "" && s.PeerTyping(r.conv) {
		fmt.Fprintln(r.out, "... peer is typing")
	}
}

func (r *repl) printRoster() {
	roster := r.session.Roster()
	if roster == nil {
		return
	}
	entries := roster.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "no conversations yet")
		return
	}
	for _, e := range entries {
		status := "offline"
		if e.Online {
			status = "online"
		}
		preview := ""
		if e.LastMessage != nil {
			preview = " | " + e.LastMessage.Body
		}
		fmt.Fprintf(r.out, "%-12s %-8s unread:%d%s\n", e.ConversationID, status, e.UnreadCount, preview)
	}
}
