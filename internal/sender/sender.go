package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/nkkko/pushline/internal/logging"
	"github.com/nkkko/pushline/pkg/proto"
)

// Prompt is printed before every line is read
const Prompt = "Enter a message to send to the phone, or press ENTER to exit"

// ErrConnect is returned when the relay cannot be reached. There is no retry.
var ErrConnect = errors.New("failed to connect to relay")

// LineReader reads operator input one line at a time
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Publisher is the relay connection used to broadcast lines
type Publisher interface {
	Start(ctx context.Context) error
	Invoke(ctx context.Context, target string, args ...string) error
	Stop() error
}

// Sender is the interactive publishing session
type Sender struct {
	pub    Publisher
	in     LineReader
	out    io.Writer
	logger zerolog.Logger
}

// New creates a sender session
func New(pub Publisher, in LineReader, out io.Writer) *Sender {
	if out == nil {
		out = io.Discard
	}
	return &Sender{
		pub:    pub,
		in:     in,
		out:    out,
		logger: logging.Component("sender"),
	}
}

// Run connects once and publishes every line until an empty line or EOF.
// Cancelling ctx closes the input, which ends a blocked read.
func (s *Sender) Run(ctx context.Context) error {
	closeInput := sync.OnceValue(s.in.Close)
	defer closeInput()
	stopWatch := context.AfterFunc(ctx, func() { closeInput() })
	defer stopWatch()

	if err := s.pub.Start(ctx); err != nil {
		fmt.Fprintln(s.out, err)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer s.pub.Stop()

	s.logger.Debug().Msg("Connected to relay")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fmt.Fprintln(s.out, Prompt)

		line, err := s.in.Readline()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			// ^C with text discards the line; on an empty line it exits
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read line: %w", err)
		}

		if line == "" {
			return nil
		}

		if err := s.pub.Invoke(ctx, proto.TargetSendMessage, line); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		s.logger.Debug().Int("length", len(line)).Msg("Message sent")
	}
}
