package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/jobdam/agentdesk/internal/appdir"
	"github.com/jobdam/agentdesk/internal/broker"
	"github.com/jobdam/agentdesk/internal/client"
	"github.com/jobdam/agentdesk/internal/config"
	"github.com/jobdam/agentdesk/internal/logging"
	"github.com/jobdam/agentdesk/internal/support"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive support console",
	Long: `Start the interactive support console.

The console connects to the platform broker, lists waiting hand-off
requests and lets you accept one and chat with the user. Type a message
and press Enter to send it to the active room; slash commands control
the session (/help lists them).`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

type slashCommand struct {
	name        string
	description string
}

var slashCommands = []slashCommand{
	{"/accept", "Accept a pending hand-off request: /accept <room-id>"},
	{"/queue", "List waiting hand-off requests"},
	{"/status", "Show connection and session state"},
	{"/disconnect", "Leave the active room"},
	{"/clear", "Clear the transcript (asks for confirmation)"},
	{"/help", "Show available commands"},
	{"/quit", "Exit the console"},
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Shutting down...")
		cancel()
	}()

	token, err := loadToken()
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if token == "" {
		fmt.Println("⚠️  No credential found; connecting unauthenticated.")
	} else if config.TokenExpired(token, time.Now()) {
		fmt.Println("⚠️  The stored credential looks expired; the broker may reject the connection.")
	}

	fmt.Printf("🔌 Connecting to %s...\n", cfg.BrokerURL)
	conn, err := broker.Dial(ctx, broker.Config{
		URL:   cfg.BrokerURL,
		Token: token,
		OnDisconnect: func(err error) {
			if err != nil {
				fmt.Printf("\n❌ Connection lost: %v\n", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	triage, err := support.NewTriage(cfg.TriageRules)
	if err != nil {
		return fmt.Errorf("invalid triage rules: %w", err)
	}

	stateDir, err := appdir.StateDir()
	if err != nil {
		return err
	}

	api := client.New(cfg.APIBaseURL, client.WithToken(token))
	pending := func(ctx context.Context) ([]support.PendingRequest, error) {
		reqs, err := api.PendingRequests(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]support.PendingRequest, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, support.PendingRequest{RoomID: r.SessionID, Nickname: r.Nickname})
		}
		return out, nil
	}

	mgr, err := support.NewManager(support.ManagerConfig{
		Transport:         support.ConnTransport{Conn: conn},
		Store:             support.NewSnapshotStore(stateDir),
		Pending:           pending,
		Triage:            triage,
		AgentRole:         cfg.AgentRole,
		DisconnectPhrases: cfg.DisconnectPhrases,
		Dedup: support.DedupOptions{
			Window:        time.Duration(cfg.Dedup.WindowMillis) * time.Millisecond,
			Retention:     time.Duration(cfg.Dedup.RetentionMinutes) * time.Minute,
			SweepInterval: time.Duration(cfg.Dedup.SweepMinutes) * time.Minute,
		},
		SendPerSecond: cfg.Send.PerSecond,
		SendBurst:     cfg.Send.Burst,
		OnLine: func(l support.Line) {
			fmt.Println(l.String())
		},
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Replay the restored transcript before new lines start flowing.
	for _, l := range mgr.Lines() {
		fmt.Println(l.String())
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	// Warn when the platform login flow rotates the credentials file.
	if credPath, err := appdir.CredentialsPath(); err == nil {
		watcher, err := config.NewCredentialsWatcher(credPath, func() {
			fmt.Println("\n⚠️  Credentials changed on disk; restart the console to use the new token.")
		}, logging.Console())
		if err == nil {
			if err := watcher.Start(); err == nil {
				defer watcher.Close()
			}
		}
	}

	printQueue(mgr)

	// Create readline shell
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string {
		if room := mgr.ActiveRoom(); room != "" {
			return room + "> "
		}
		return "agentdesk> "
	})

	// Set up history
	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	// Set up tab completion for slash commands
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Type a message to send it to the active room. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return fmt.Errorf("connection closed")
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleConsoleCommand(mgr, line); quit {
				return nil
			}
			continue
		}

		if err := mgr.SendText(line); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	}
}

// handleConsoleCommand dispatches a slash command. It returns true when the
// console should exit.
func handleConsoleCommand(mgr *support.Manager, line string) bool {
	parts, err := shlex.Split(strings.TrimPrefix(line, "/"))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return false
	}
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		return true

	case "accept":
		roomID := ""
		if len(parts) > 1 {
			roomID = parts[1]
		} else if items := mgr.QueueItems(); len(items) == 1 {
			// A single waiting request needs no argument.
			roomID = items[0].RoomID
		}
		if roomID == "" {
			fmt.Println("❓ Usage: /accept <room-id> (see /queue)")
			return false
		}
		if err := mgr.Accept(roomID); err != nil {
			fmt.Printf("❌ Accept failed: %v\n", err)
		}

	case "queue", "pending":
		printQueue(mgr)

	case "status":
		printStatus(mgr)

	case "disconnect":
		if err := mgr.DisconnectRoom(); err != nil {
			fmt.Printf("❌ Disconnect failed: %v\n", err)
		}

	case "clear":
		fmt.Print("Clear the transcript? This cannot be undone. [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) == "y" {
			mgr.ClearTranscript()
			fmt.Println("🧹 Transcript cleared.")
		}

	case "help", "h", "?":
		printConsoleHelp()

	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func printQueue(mgr *support.Manager) {
	items := mgr.QueueItems()
	if len(items) == 0 {
		fmt.Println("📭 No waiting hand-off requests.")
		return
	}
	fmt.Printf("📬 %d waiting hand-off request(s):\n", len(items))
	for _, it := range items {
		fmt.Printf("   %s  %s (%s)\n", it.RoomID, it.UserName, it.UserNickname)
	}
}

func printStatus(mgr *support.Manager) {
	connState := "disconnected"
	if mgr.Connected() {
		connState = "connected"
	}
	fmt.Printf("Broker:      %s\n", connState)
	if room := mgr.ActiveRoom(); room != "" {
		fmt.Printf("Active room: %s\n", room)
		if mgr.UserConnected() {
			fmt.Println("User:        connected")
		} else {
			fmt.Println("User:        offline")
		}
	} else {
		fmt.Println("Active room: none")
	}
	fmt.Printf("Queue:       %d waiting\n", len(mgr.QueueItems()))
	fmt.Printf("Transcript:  %d line(s)\n", len(mgr.Lines()))
}

func printConsoleHelp() {
	fmt.Println(`
Available commands:
  /accept <room-id> - Accept a waiting hand-off request
  /queue            - List waiting hand-off requests
  /status           - Show connection and session state
  /disconnect       - Leave the active room
  /clear            - Clear the transcript (asks for confirmation)
  /help, /h, /?     - Show this help message
  /quit, /exit, /q  - Exit the console

Tips:
  - Type your message and press Enter to send it to the active room
  - Use Ctrl+C to exit gracefully
  - Use up/down arrows for command history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for the console input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	var matches []string
	var descriptions []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			matches = append(matches, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}
	if len(matches) == 0 {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(matches)*2)
	for i, match := range matches {
		pairs = append(pairs, match, descriptions[i])
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
