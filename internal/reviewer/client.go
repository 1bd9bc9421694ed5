package reviewer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/gansauditor/internal/supervisor"
)

// Config configures how the external reviewer process is invoked.
type Config struct {
	Command           string
	Args              []string
	ContextTokenLimit int
	MaxSpawnRetries   uint64
}

// Client assembles reviewer prompts, invokes the external reviewer process
// through a ProcessSupervisor, and parses its reply.
type Client struct {
	supervisor *supervisor.ProcessSupervisor
	config     Config
}

// NewClient creates a Client that runs reviewer processes through sup.
func NewClient(sup *supervisor.ProcessSupervisor, config Config) *Client {
	return &Client{supervisor: sup, config: config}
}

// Review assembles a prompt from req, invokes the reviewer process (with a
// bounded retry when the supervisor's queue times out; a process that
// cannot be started at all is not retried) with cwd/env and timeout, and
// parses its
// reply. It never returns only a Go error: on any failure it returns a
// FallbackReview alongside the error describing why, so the engine always
// has a Review to persist.
func (c *Client) Review(ctx context.Context, req PromptRequest, cwd string, env []string, timeout time.Duration) (Review, error) {
	prompt := AssemblePrompt(req, c.config.ContextTokenLimit)

	var result supervisor.Result
	operation := func() error {
		result = c.supervisor.Execute(ctx, supervisor.Request{
			Command: c.config.Command,
			Args:    c.config.Args,
			Env:     env,
			Cwd:     cwd,
			Stdin:   []byte(prompt),
			Timeout: timeout,
		})

		switch result.ErrorKind {
		case supervisor.ErrorKindNotFound, supervisor.ErrorKindPermission, supervisor.ErrorKindBadCwd:
			return backoff.Permanent(fmt.Errorf("reviewer process could not start: %s", result.ErrorText))
		case supervisor.ErrorKindQueueTimeout:
			return fmt.Errorf("reviewer process queue timeout: %s", result.ErrorText)
		default:
			return nil
		}
	}

	retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.MaxSpawnRetries)
	if err := backoff.Retry(operation, retry); err != nil {
		return FallbackReview("reviewer process unavailable: " + err.Error()), err
	}

	if result.TimedOut {
		err := fmt.Errorf("reviewer timed out after %s", timeout)
		return FallbackReview("timed out"), err
	}

	review, err := ParseReply(result.Stdout)
	if err != nil {
		return FallbackReview("response parse failure: " + err.Error()), err
	}

	return review, nil
}
