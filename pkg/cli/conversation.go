package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/errutil"
	"github.com/urfave/cli/v3"
)

const chatCloseCommand = "/close"

func cmdChat() *cli.Command {
	var cfg engineConfig
	var conversationID string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Usage:       "Conversation ID to continue (a new one is generated when empty)",
			Destination: &conversationID,
		},
	}
	flags = append(flags, cfg.Flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the engine as a customer from standard input",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			id := model.ConversationID(conversationID)
			if id == "" {
				id = model.NewConversationID()
			}
			headerColor.Fprintf(os.Stdout, "Conversation %s (type %s to finish)\n", id, chatCloseCommand)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == chatCloseCommand {
					result, err := uc.Conversation.CloseConversation(ctx, id)
					if err != nil {
						return goerr.Wrap(err, "failed to close conversation")
					}
					printClose(os.Stdout, result)
					return nil
				}

				reply, err := uc.Conversation.ReceiveMessage(ctx, id, types.RoleUser, line)
				if err != nil {
					errutil.Handle(ctx, err, "failed to handle message")
					alertColor.Fprintln(os.Stdout, err.Error())
					continue
				}
				printReply(os.Stdout, reply)
			}
			if err := scanner.Err(); err != nil {
				return goerr.Wrap(err, "failed to read input")
			}
			return nil
		},
	}
}

func cmdClose() *cli.Command {
	var cfg engineConfig

	return &cli.Command{
		Name:      "close",
		Usage:     "Close conversations and record their resolution paths",
		ArgsUsage: "CONVERSATION_ID...",
		Flags:     cfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() == 0 {
				return goerr.New("at least one conversation ID is required", goerr.T(model.TagInput))
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, arg := range c.Args().Slice() {
				result, err := uc.Conversation.CloseConversation(ctx, model.ConversationID(arg))
				if err != nil {
					return goerr.Wrap(err, "failed to close conversation", goerr.V(model.ConversationIDKey, arg))
				}
				printClose(os.Stdout, result)
			}
			return nil
		},
	}
}

// transcript is a recorded conversation replayed through the engine
type transcript struct {
	ID       string              `toml:"id"`
	Close    bool                `toml:"close"`
	Messages []transcriptMessage `toml:"message"`
}

type transcriptMessage struct {
	Role    string `toml:"role"`
	Content string `toml:"content"`
}

func loadTranscript(path string) (*transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read transcript", goerr.V("path", path))
	}

	var tr transcript
	if err := toml.Unmarshal(data, &tr); err != nil {
		return nil, goerr.Wrap(err, "failed to parse transcript", goerr.V("path", path), goerr.T(model.TagParse))
	}
	if tr.ID == "" {
		tr.ID = model.NewConversationID().String()
	}
	if len(tr.Messages) == 0 {
		return nil, goerr.New("transcript has no message", goerr.V("path", path), goerr.T(model.TagInput))
	}
	return &tr, nil
}

func cmdReplay() *cli.Command {
	var cfg engineConfig

	return &cli.Command{
		Name:      "replay",
		Usage:     "Feed recorded transcripts through the engine",
		ArgsUsage: "TRANSCRIPT.toml...",
		Flags:     cfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() == 0 {
				return goerr.New("at least one transcript is required", goerr.T(model.TagInput))
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, path := range c.Args().Slice() {
				tr, err := loadTranscript(path)
				if err != nil {
					return err
				}
				id := model.ConversationID(tr.ID)
				headerColor.Fprintf(os.Stdout, "Replaying %s as %s\n", path, id)

				for i, msg := range tr.Messages {
					role, err := types.ParseRole(msg.Role)
					if err != nil {
						return goerr.Wrap(err, "invalid transcript role",
							goerr.V("path", path), goerr.V("index", i), goerr.T(model.TagInput))
					}
					reply, err := uc.Conversation.ReceiveMessage(ctx, id, role, msg.Content)
					if err != nil {
						return goerr.Wrap(err, "failed to replay message", goerr.V("path", path), goerr.V("index", i))
					}
					fmt.Fprintf(os.Stdout, "%s> %s\n", role, msg.Content)
					if reply.Answer != nil {
						printReply(os.Stdout, reply)
					}
				}

				if tr.Close {
					result, err := uc.Conversation.CloseConversation(ctx, id)
					if err != nil {
						return goerr.Wrap(err, "failed to close replayed conversation", goerr.V("path", path))
					}
					printClose(os.Stdout, result)
				}
			}
			return nil
		},
	}
}
