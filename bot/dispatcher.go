package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/codebot/sandbox"
)

const (
	replyUnknown = ":question:"
	replyPong    = "pong"
	// HelloImage is the logical image run by the hello command.
	HelloImage = "hello-world"
)

// User is the author of a chat message.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Bot         bool   `json:"bot"`
}

// Message is a chat message delivered to the bot.
type Message struct {
	ID        string `json:"id"`
	User      User   `json:"user"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
	PlainText string `json:"plainText"`
}

// Poster posts a message to a channel. *Client is the production implementation.
type Poster interface {
	PostMessage(ctx context.Context, channelID, content string, embed bool) error
}

// Dispatcher answers chat messages.
type Dispatcher struct {
	logger *zap.Logger
	parser *Parser
	runner sandbox.Runner
	poster Poster
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(logger *zap.Logger, parser *Parser, runner sandbox.Runner, poster Poster) *Dispatcher {
	return &Dispatcher{logger: logger, parser: parser, runner: runner, poster: poster}
}

// Handle replies to msg in its channel.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) error {
	reply := d.Reply(ctx, msg.PlainText)
	if err := d.poster.PostMessage(ctx, msg.ChannelID, reply, false); err != nil {
		return fmt.Errorf("failed to reply to message %s: %w", msg.ID, err)
	}
	return nil
}

// Reply computes the answer to text.
func (d *Dispatcher) Reply(ctx context.Context, text string) string {
	cmd, ok := d.parser.Parse(text)
	if !ok {
		return replyUnknown
	}

	var req sandbox.RunRequest
	switch cmd.Name {
	case CommandPing:
		return replyPong
	case CommandHello:
		req = sandbox.NamedImageRun{Image: HelloImage}
	case CommandRun:
		req = sandbox.NamedImageRun{Image: cmd.Captures["image"], Args: strings.Fields(cmd.Captures["arg"])}
	case CommandPython:
		req = sandbox.ScriptRun{Source: cmd.Captures["code"], Args: strings.Fields(cmd.Captures["arg"])}
	default:
		d.logger.Warn("parsed command has no handler", zap.String("command", cmd.Name))
		return replyUnknown
	}

	d.logger.Info("running command", zap.String("command", cmd.Name))
	result, err := d.runner.Run(ctx, req)
	if err != nil {
		d.logger.Error("command failed", zap.String("command", cmd.Name), zap.Error(err))
		return errorReply(err)
	}
	return sandbox.FormatResult(result)
}

func errorReply(err error) string {
	var unknown *sandbox.UnknownImageError
	var launchErr *sandbox.ContainerLaunchError
	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf(":x: unknown image `%s`", unknown.Name)
	case errors.Is(err, sandbox.ErrMissingOutput):
		return ":x: the script exited without producing output"
	case errors.As(err, &launchErr):
		return ":x: the container could not be started"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ":x: the run was cancelled"
	default:
		return ":x: the run failed"
	}
}
