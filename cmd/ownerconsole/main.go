package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dlord213/onestay-web/internal/api"
	"github.com/dlord213/onestay-web/internal/chat"
	"github.com/dlord213/onestay-web/internal/config"
	"github.com/dlord213/onestay-web/internal/logger"
	"github.com/dlord213/onestay-web/internal/realtime"
	"github.com/dlord213/onestay-web/internal/session"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(logger.Config{Development: cfg.Log.Development})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := session.NewStore(cfg.State.Dir, lg)
	store.Rehydrate()
	hydrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Await(hydrateCtx); err != nil {
		lg.Fatalw("state rehydration", "err", err)
	}

	apiClient := api.NewClient(api.ClientConfig{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         cfg.APITimeout,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	}, store, lg)

	in := bufio.NewScanner(os.Stdin)
	if store.Token() == "" {
		if err := login(ctx, apiClient, store, in); err != nil {
			lg.Fatalw("login", "err", err)
		}
	}

	if !store.HasCheckedResorts() {
		resorts, err := apiClient.ResortsByOwner(ctx, store.UserID())
		if err != nil {
			lg.Warnw("resort fetch failed", "err", err)
		} else {
			cache := make([]session.Resort, 0, len(resorts))
			for _, r := range resorts {
				cache = append(cache, session.Resort{ID: r.ID, Name: r.Name, Location: r.Location})
			}
			if err := store.SetResorts(cache); err != nil {
				lg.Warnw("resort cache persist failed", "err", err)
			}
		}
	}
	if !store.HasResorts() {
		fmt.Println("No resort found. Create a resort first to receive guest messages.")
		return
	}
	resortID := store.Resorts()[0].ID

	rt := realtime.NewClient(realtime.Options{
		URL:              cfg.Socket.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		SendRate:         cfg.Socket.SendRatePerSecond,
		SendBuffer:       cfg.Socket.SendBuffer,
	}, store, lg)

	var engine *chat.Engine
	reload := func() {
		convs, err := apiClient.ResortChats(context.Background(), resortID)
		if err != nil {
			lg.Warnw("chat list reload failed", "err", err)
			return
		}
		engine.Load(convs)
	}
	engine = chat.NewEngine(chat.Config{
		UserID:    store.UserID(),
		Transport: rt,
		Fallback:  apiClient,
		Reload:    reload,
		OnSendError: func(chatID string, err error) {
			fmt.Printf("! send failed in %s: %v\n", chatID, err)
		},
		Log: lg,
	})

	defer rt.Disconnect()
	rt.OnMessage(func(ev realtime.MessageEvent) {
		engine.HandleInbound(ev)
		fmt.Printf("[%s] %s: %s\n", ev.ChatID, ev.Sender, ev.Text)
	})
	rt.OnMessageSent(engine.HandleConfirmation)
	rt.OnChatStatus(func(ev realtime.StatusEvent) {
		engine.HandleStatus(ev)
		fmt.Printf("[%s] other party online: %v\n", ev.ChatID, ev.IsOtherUserOnline)
	})
	rt.OnChatUpdate(engine.HandleChatUpdate)
	rt.OnError(engine.HandleError)
	rt.OnConnection(func(connected bool) {
		if connected {
			fmt.Println("* realtime channel up")
		} else {
			fmt.Println("* realtime channel down, sends fall back to REST")
		}
	})

	if !rt.Connect(ctx) {
		fmt.Println("Could not connect to chat service; messages still work over REST.")
	}
	if convs, err := apiClient.ResortChats(ctx, resortID); err != nil {
		lg.Warnw("chat list load failed", "err", err)
	} else {
		engine.Load(convs)
	}

	repl(ctx, in, engine, rt)
}

func login(ctx context.Context, c *api.Client, store *session.Store, in *bufio.Scanner) error {
	fmt.Print("email: ")
	if !in.Scan() {
		return fmt.Errorf("aborted")
	}
	email := strings.TrimSpace(in.Text())
	fmt.Print("password: ")
	if !in.Scan() {
		return fmt.Errorf("aborted")
	}
	password := strings.TrimSpace(in.Text())

	res, err := c.Login(ctx, email, password)
	if err != nil {
		return err
	}
	user := session.User{ID: res.User.ID, Username: res.User.Username, Email: res.User.Email, Role: res.User.Role}
	return store.SetSession(&user, res.Token)
}

func repl(ctx context.Context, in *bufio.Scanner, engine *chat.Engine, rt *realtime.Client) {
	var open string
	printList(engine)
	fmt.Println(`commands: /list, /open <n>, /close, /quit; anything else sends to the open chat`)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch {
			case line == "/quit":
				return
			case line == "/list":
				printList(engine)
			case line == "/close":
				if open != "" {
					rt.LeaveChat(open)
					engine.CloseChat()
					open = ""
				}
			case strings.HasPrefix(line, "/open "):
				n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
				convs := engine.Conversations()
				if err != nil || n < 1 || n > len(convs) {
					fmt.Println("usage: /open <n> from /list")
					continue
				}
				if open != "" {
					rt.LeaveChat(open)
				}
				open = convs[n-1].ID
				engine.OpenChat(open)
				rt.JoinChat(open)
				rt.GetChatStatus(open)
				engine.MarkAsRead(open)
				printChat(engine, open)
			case open == "":
				fmt.Println("open a chat first: /open <n>")
			default:
				if err := engine.SendMessage(ctx, open, line); err != nil {
					fmt.Printf("! %v\n", err)
				}
			}
		}
	}
}

func printList(engine *chat.Engine) {
	convs := engine.Conversations()
	if len(convs) == 0 {
		fmt.Println("No guest messages yet.")
		return
	}
	for i, c := range convs {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%2d. %s: %s%s\n", i+1, c.CustomerName, c.LastMessage, unread)
	}
}

func printChat(engine *chat.Engine, chatID string) {
	conv, ok := engine.Conversation(chatID)
	if !ok {
		return
	}
	for _, m := range conv.Messages {
		fmt.Printf("%s %s: %s\n", m.Timestamp.Format("15:04"), m.Sender, m.Text)
	}
}
