package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tutor-llm/internal/app"
	"tutor-llm/internal/config"
	"tutor-llm/internal/domain"
	"tutor-llm/internal/logger"
	"tutor-llm/internal/service"
)

var (
	storeDriver string
	memoryGB    float64
)

var rootCmd = &cobra.Command{
	Use:   "cli_chat",
	Short: "Chat with the on-device tutor from the terminal",
	Long: `Interactive tutor chat. Plain lines are sent as questions.
Commands: /new, /sessions, /open N, /delete N, /image PATH, /clear-image,
/like N, /dislike N, /dictate, /enddictate, /quit. Ctrl+C stops a running answer.`,
	RunE: runChat,
}

func main() {
	rootCmd.Flags().StringVar(&storeDriver, "store", "", "session store driver (sqlite, postgres, redis, memory)")
	rootCmd.Flags().Float64Var(&memoryGB, "memory-gb", 0, "device memory hint in GB")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if storeDriver != "" {
		cfg.StoreDriver = storeDriver
	}
	if memoryGB > 0 {
		cfg.DeviceMemoryGB = &memoryGB
	}

	zl := logger.New(cfg.LogFile, false)
	defer zl.Sync()

	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	c := &chat{app: a, out: cmd.OutOrStdout()}
	a.Conversation.Subscribe(c.onUpdate)
	if err := a.Conversation.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	fmt.Fprintf(c.out, "Loading %s...\n", a.Engine.Model())
	if err := a.Engine.Initialize(ctx, func(msg string) { fmt.Fprintf(c.out, "  %s\n", msg) }); err != nil {
		return err
	}
	c.printActive()

	// Ctrl+C detiene la respuesta en curso; si no hay ninguna, sale.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if !a.Conversation.Stop() {
				os.Exit(130)
			}
		}
	}()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if quit := c.handle(ctx, line); quit {
			return nil
		}
	}
}

type chat struct {
	app *app.App
	out io.Writer

	mu        sync.Mutex
	printed   int
	dictating bool
}

func (c *chat) onUpdate(u service.Update) {
	switch u.Kind {
	case service.UpdateContent:
		c.mu.Lock()
		if len(u.Content) > c.printed {
			fmt.Fprint(c.out, u.Content[c.printed:])
			c.printed = len(u.Content)
		}
		c.mu.Unlock()
	case service.UpdateNotice:
		fmt.Fprintf(c.out, "[!] %s\n", u.Notice)
	}
}

func (c *chat) handle(ctx context.Context, line string) bool {
	conv := c.app.Conversation
	if c.isDictating() && !strings.HasPrefix(line, "/") {
		if !c.app.Relay.Push(line) {
			c.setDictating(false)
		}
		fmt.Fprintf(c.out, "draft: %s\n", conv.Input().Text)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/new":
		conv.CreateSession(ctx)
		c.printActive()
	case "/sessions":
		for i, s := range conv.Sessions() {
			marker := " "
			if s.ID == conv.ActiveID() {
				marker = "*"
			}
			fmt.Fprintf(c.out, "%s %d. %s (%d messages)\n", marker, i+1, s.Title, len(s.Messages))
		}
	case "/open", "/delete":
		s, ok := c.sessionAt(arg)
		if !ok {
			fmt.Fprintln(c.out, "unknown session number")
			return false
		}
		var err error
		if cmd == "/open" {
			err = conv.SelectSession(s.ID)
		} else {
			err = conv.DeleteSession(ctx, s.ID)
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		c.printActive()
	case "/image":
		uri, err := readDataURI(arg)
		if err == nil {
			err = conv.AttachImage(ctx, uri)
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "image attached")
	case "/clear-image":
		conv.ClearImage()
	case "/like", "/dislike":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintln(c.out, "usage: /like N")
			return false
		}
		kind := domain.FeedbackLike
		if cmd == "/dislike" {
			kind = domain.FeedbackDislike
		}
		value, _ := conv.UpdateFeedback(idx, kind)
		fmt.Fprintf(c.out, "feedback on %d: %q\n", idx, value)
	case "/dictate":
		if err := conv.StartDictation(); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		c.setDictating(true)
		fmt.Fprintln(c.out, "dictating: each line is the transcript so far, /enddictate to finish")
	case "/enddictate":
		_ = conv.StopDictation()
		c.setDictating(false)
		fmt.Fprintf(c.out, "draft: %s\n", conv.Input().Text)
	case "/send":
		c.send(ctx, nil)
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintf(c.out, "unknown command %s\n", cmd)
			return false
		}
		c.send(ctx, &line)
	}
	return false
}

func (c *chat) send(ctx context.Context, text *string) {
	c.mu.Lock()
	c.printed = 0
	c.mu.Unlock()

	res, err := c.app.Conversation.Send(ctx, text)
	if !res.Accepted {
		return
	}
	fmt.Fprintln(c.out)
	switch {
	case err != nil && errors.Is(err, domain.ErrStream):
		fmt.Fprintln(c.out, "(answer interrupted)")
	case res.Stopped:
		fmt.Fprintln(c.out, "(stopped)")
	}
}

func (c *chat) printActive() {
	s, ok := c.app.Conversation.Active()
	if !ok {
		return
	}
	fmt.Fprintf(c.out, "== %s ==\n", s.Title)
	for i, m := range s.Messages {
		fb := ""
		if m.Feedback != "" {
			fb = " [" + m.Feedback + "]"
		}
		fmt.Fprintf(c.out, "%d %s: %s%s\n", i, m.Role, m.Content, fb)
	}
}

func (c *chat) sessionAt(arg string) (domain.ChatSession, bool) {
	n, err := strconv.Atoi(arg)
	sessions := c.app.Conversation.Sessions()
	if err != nil || n < 1 || n > len(sessions) {
		return domain.ChatSession{}, false
	}
	return sessions[n-1], true
}

func (c *chat) isDictating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dictating && c.app.Relay.Listening()
}

func (c *chat) setDictating(v bool) {
	c.mu.Lock()
	c.dictating = v
	c.mu.Unlock()
}

// readDataURI lee una imagen del disco y la codifica como data URI.
func readDataURI(path string) (string, error) {
	if path == "" {
		return "", errors.New("usage: /image PATH")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(raw)
	return fmt.Sprintf("data:%s;base64,%s", mt.String(), base64.StdEncoding.EncodeToString(raw)), nil
}
