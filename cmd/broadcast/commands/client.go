package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/config"
	"github.com/carbonforge/broadcast/src/dummy"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	messageQueue = 256

	// handshakeTimeout bounds the wait for the hub to accept the handshake,
	// on top of the dial timeout.
	handshakeTimeout = 5 * time.Second
)

//NewClientCmd returns the command that joins a relay hub and chats through
//stdin and stdout
func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "client",
		Short:   "Join a relay hub",
		PreRunE: loadConfig(config.ModeClient),
		RunE:    runClient,
	}
	AddClientFlags(cmd)
	return cmd
}

//AddClientFlags adds flags to the client command
func AddClientFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	cmd.Flags().StringP("connect", "c", _config.Broadcast.ConnectAddr, "IP:Port of the hub")
	cmd.Flags().Uint16("version", _config.Broadcast.Version, "Protocol version announced to the hub")
	cmd.Flags().DurationP("timeout", "t", _config.Broadcast.Timeout, "Dial timeout")
	cmd.Flags().String("moniker", _config.Broadcast.Moniker, "Name shown with your messages")
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runClient(cmd *cobra.Command, args []string) error {
	conf := &_config.Broadcast
	logger := conf.Logger()

	session := broadcast.NewSession(logger,
		broadcast.WithMaxPacketLength(conf.MaxPacketLength),
		broadcast.WithDialTimeout(conf.Timeout),
	)
	client := dummy.NewClient(session, conf.Moniker, messageQueue, logger)

	if err := client.Join(newDialer(conf, logger), conf.ConnectAddr, conf.Credentials()); err != nil {
		return errors.Wrapf(err, "joining %s", conf.ConnectAddr)
	}
	defer client.Leave()

	if err := client.WaitReady(conf.Timeout + handshakeTimeout); err != nil {
		return errors.Wrapf(err, "joining %s", conf.ConnectAddr)
	}
	fmt.Printf("Connected to %s\n", conf.ConnectAddr)

	// Scanning stdin cannot be interrupted, so it stays outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return waitForSignal(ctx, cancel)
	})

	g.Go(func() error {
		for {
			select {
			case m := <-client.Messages():
				fmt.Println(m.String())
			case <-client.Closed():
				return errors.Errorf("connection to %s lost", conf.ConnectAddr)
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case text, ok := <-lines:
				if !ok {
					cancel()
					return nil
				}
				if text == "" {
					continue
				}
				if err := client.Say(text); err != nil {
					logger.WithError(err).Error("Cannot send message")
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}
