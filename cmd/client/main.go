package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"client_go/internal/channel"
	"client_go/internal/config"
	"client_go/internal/domain"
	"client_go/internal/engine"
	"client_go/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	tokens := security.NewTokenInspector()
	subject, err := tokens.Subject(cfg.AuthToken)
	if err != nil {
		logger.Fatalf("invalid auth token: %v", err)
	}
	if expiring, err := tokens.ExpiresWithin(cfg.AuthToken, time.Minute); err == nil && expiring {
		logger.Fatal("auth token expired or about to expire; sign in again")
	}
	logger.WithField("user", subject).Info("starting NovaTalk client")

	transport := channel.NewWebSocketTransport(cfg.ServerURL, cfg.AuthToken)

	var eng *engine.Engine
	supervisor := channel.NewSupervisor(transport, channel.Hooks{
		OnPush:     func(event string, data json.RawMessage) { eng.HandlePush(event, data) },
		OnSnapshot: func(data json.RawMessage) { eng.ApplySnapshot(data) },
		OnState:    func(s channel.State) { eng.HandleState(s) },
		OnNotice:   func(text string) { fmt.Println("! " + text) },
	}, channel.Options{
		RequestTimeout:    cfg.RequestTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		Logger:            logger,
	})

	eng = engine.New(supervisor, engine.Hooks{
		OnNotice: func(text string) { fmt.Println("! " + text) },
		OnNotification: func(msg *domain.Message) {
			name := "Someone"
			if msg.Sender != nil && msg.Sender.DisplayName != "" {
				name = msg.Sender.DisplayName
			}
			fmt.Printf("* %s sent you a message in chat %d\n", name, msg.ChatID)
		},
		OnPresence: func(s channel.State) {
			fmt.Printf("~ channel %s\n", s)
		},
	}, engine.Options{
		TypingQuiet:  cfg.TypingQuiet,
		TypingExpiry: cfg.TypingExpiry,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go supervisor.Run(ctx)

	go repl(ctx, eng, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	cancel()
}

// repl reads line commands from stdin: chats, open <id>, send <text>,
// edit <id> <text>, del <id>, search <query>, quit.
func repl(ctx context.Context, eng *engine.Engine, logger *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "chats":
			for _, c := range eng.Chats() {
				name := c.Name
				if name == "" && c.Partner != nil {
					name = c.Partner.DisplayName
				}
				fmt.Printf("%6d  %s\n", c.ID, name)
			}
		case "open":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("usage: open <chat-id>")
				continue
			}
			if err := eng.OpenChat(ctx, id); err != nil {
				fmt.Println("! " + err.Error())
				continue
			}
			for _, m := range eng.Messages(id) {
				printMessage(m)
			}
		case "send":
			chatID := eng.ActiveChatID()
			if chatID == 0 {
				fmt.Println("open a chat first")
				continue
			}
			eng.NotifyTypingActivity(chatID)
			msg, err := eng.SendMessage(ctx, chatID, rest, nil)
			if err != nil {
				fmt.Println("! " + err.Error())
				continue
			}
			printMessage(msg)
		case "edit":
			idStr, text, _ := strings.Cut(rest, " ")
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				fmt.Println("usage: edit <message-id> <text>")
				continue
			}
			if err := eng.BeginEdit(id); err != nil {
				fmt.Println("! " + err.Error())
				continue
			}
			if err := eng.SaveEdit(ctx, text); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "del":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("usage: del <message-id>")
				continue
			}
			if err := eng.DeleteMessage(ctx, id); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "search":
			results, err := eng.SearchContacts(ctx, rest)
			if err != nil {
				fmt.Println("! " + err.Error())
				continue
			}
			for _, u := range results {
				fmt.Printf("%6d  %s (@%s)\n", u.ID, u.DisplayName, u.Username)
			}
		case "quit", "exit":
			p, _ := os.FindProcess(os.Getpid())
			_ = p.Signal(os.Interrupt)
			return
		default:
			fmt.Println("commands: chats, open, send, edit, del, search, quit")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Warn("stdin closed")
	}
}

func printMessage(m *domain.Message) {
	if m.IsDeleted {
		fmt.Printf("%6d  [deleted]\n", m.ID)
		return
	}
	name := "?"
	if m.Sender != nil {
		name = m.Sender.DisplayName
	}
	suffix := ""
	if m.Edited {
		suffix = " (edited)"
	}
	if m.Status == domain.StatusError {
		suffix += " [failed]"
	}
	fmt.Printf("%6d  %s: %s%s\n", m.ID, name, m.Body, suffix)
}
