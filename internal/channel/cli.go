package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bowerhall/pawd/internal/bus"
)

// CLI is a stdin/stdout adapter for local testing. One chat, one user.
type CLI struct {
	bus       *bus.MessageBus
	canceller Canceller
	in        io.Reader
	out       io.Writer
}

func NewCLI(messageBus *bus.MessageBus, canceller Canceller) *CLI {
	c := &CLI{
		bus:       messageBus,
		canceller: canceller,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	messageBus.RegisterOutbound(bus.ChannelCLI, c.handleOutbound)
	return c
}

func (c *CLI) Name() string {
	return bus.ChannelCLI
}

func (c *CLI) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(c.out, "pawd ready. Type a message, or /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			if line == "" {
				continue
			}

			if isStopWord(line) {
				if c.canceller != nil && c.canceller.CancelSession(bus.ChannelCLI+":local") {
					fmt.Fprintln(c.out, "[stopped]")
				} else {
					fmt.Fprintln(c.out, "[nothing to stop]")
				}
				continue
			}

			// the local console is always the owner
			c.bus.PublishInbound(bus.InboundMessage{
				Channel:  bus.ChannelCLI,
				SenderID: "local",
				ChatID:   "local",
				Content:  line,
				Metadata: map[string]string{"source": "owner"},
			})
		}
	}
}

// handleOutbound writes chunks as they arrive; the CLI is the one
// surface that can actually stream.
func (c *CLI) handleOutbound(msg bus.OutboundMessage) {
	switch {
	case msg.IsStreamChunk:
		fmt.Fprint(c.out, msg.Content)

	case msg.IsStreamEnd:
		fmt.Fprintln(c.out)
		for _, path := range msg.Media {
			fmt.Fprintf(c.out, "[media] %s\n", path)
		}

	default:
		fmt.Fprintln(c.out, msg.Content)
	}
}
