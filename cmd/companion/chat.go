package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"companion-service/internal/delivery"
	"companion-service/internal/push"
	"companion-service/internal/repository"
	"companion-service/internal/turn_processor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var (
		conversationID string
		ephemeral      bool
		hideTyping     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()
			if ephemeral {
				comps.profiles = repository.NewMemoryProfileRepository()
			}

			writer := push.NewWriter(cmd.OutOrStdout(), cfg.Generation.CompanionName)
			writer.ShowTyping(!hideTyping && isTerminal(cmd.OutOrStdout()))

			registry := delivery.NewRegistry(writer, delivery.RegistryOptions{
				Policy: cfg.Delivery.SupersedePolicy,
			}, logger)
			defer registry.Shutdown()

			processor, err := newProcessor(cfg, comps, registry, logger)
			if err != nil {
				return err
			}

			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), processor, conversationID, logger)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "local", "Conversation id to chat as.")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep the relationship profile in memory only.")
	cmd.Flags().BoolVar(&hideTyping, "no-typing", false, "Hide typing indicator lines.")

	return cmd
}

// runChat reads one message per line. Turns claim the conversation in
// input order and run in the background, so typing again interrupts a
// reply that is still being revealed.
func runChat(ctx context.Context, in io.Reader, out io.Writer, processor TurnProcessor, conversationID string, logger *zap.Logger) error {
	report := func(err error) {
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, turn_processor.ErrInvalidInput), errors.Is(err, delivery.ErrTurnInFlight):
			fmt.Fprintf(out, "(%v)\n", err)
		default:
			logger.Error("Turn failed", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	start := func(req turn_processor.Request) {
		pending, err := processor.Begin(req)
		if err != nil {
			report(err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := processor.Run(ctx, pending)
			report(err)
		}()
	}

	fmt.Fprintln(out, "Type a message and press enter. /quit to leave.")
	start(turn_processor.Request{ConversationID: conversationID, IsGreeting: true})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				wg.Wait()
				return nil
			}
			msg := line
			start(turn_processor.Request{ConversationID: conversationID, Message: &msg})
		}
	}
}

// TurnProcessor runs conversation turns.
type TurnProcessor interface {
	Begin(req turn_processor.Request) (*turn_processor.Pending, error)
	Run(ctx context.Context, pending *turn_processor.Pending) (*turn_processor.Result, error)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
