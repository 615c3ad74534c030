package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"hr-messenger/client"
	httpclient "hr-messenger/infrastructure/http/client"
	wsclient "hr-messenger/infrastructure/ws/client"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	dialer, err := wsclient.NewDialer(config.ServerURL, config.Token, config.PongWait, config.WriteWait)
	if err != nil {
		return err
	}
	api := httpclient.NewHistoryClient(config.ServerURL, config.Token, config.RequestTimeout)
	controller := client.NewController(log, dialer, api, client.Config{
		AckTimeout:    config.AckTimeout,
		ReconnectMin:  config.ReconnectMin,
		ReconnectMax:  config.ReconnectMax,
		MaxTextLength: config.MaxTextLength,
	})
	if err := controller.SetIdentity(config.UserID); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			color.Red.Printf("realtime connection stopped: %v\n", err)
			stop()
		}
	}()
	go watch(ctx, controller)

	if err := controller.LoadUnread(ctx); err != nil {
		color.Yellow.Printf("unread counters unavailable: %v\n", err)
	}
	color.Cyan.Printf("signed in as %s, type /help for commands\n", config.UserID)

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
			if err := execute(ctx, controller, strings.TrimSpace(line)); err != nil {
				color.Red.Printf("%v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, controller *client.Controller, line string) error {
	command, argument, _ := strings.Cut(line, " ")
	argument = strings.TrimSpace(argument)

	switch command {
	case "":
		return nil
	case "/help":
		fmt.Println("/open <user>     open the conversation with user")
		fmt.Println("/retry <ref>     resend a failed message")
		fmt.Println("/unread          show unread counters")
		fmt.Println("anything else    send to the open conversation")
		return nil
	case "/open":
		return controller.Select(ctx, argument)
	case "/retry":
		return controller.Retry(ctx, argument)
	case "/unread":
		printUnread(controller.Snapshot())
		return nil
	default:
		_, err := controller.Send(ctx, line)
		return err
	}
}

// watch prints whatever changed since the previous snapshot.
func watch(ctx context.Context, controller *client.Controller) {
	var previous client.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-controller.Updates():
			current := controller.Snapshot()
			for _, line := range render(previous, current) {
				fmt.Println(line)
			}
			previous = current
		}
	}
}
