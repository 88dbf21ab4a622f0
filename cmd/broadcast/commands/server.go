package commands

import (
	"context"
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/config"
	"github.com/carbonforge/broadcast/src/dummy"
	"github.com/carbonforge/broadcast/src/journal"
	"github.com/carbonforge/broadcast/src/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 30 * time.Second

//NewServerCmd returns the command that starts a relay hub
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Short:   "Run a relay hub",
		PreRunE: loadConfig(config.ModeServer),
		RunE:    runServer,
	}
	AddServerFlags(cmd)
	return cmd
}

//AddServerFlags adds flags to the server command
func AddServerFlags(cmd *cobra.Command) {
	addCommonFlags(cmd)

	cmd.Flags().StringP("listen", "l", _config.Broadcast.BindAddr, "Listen IP:Port")
	cmd.Flags().Uint16("min-version", _config.Broadcast.MinVersion, "Lowest client version accepted")
	cmd.Flags().Uint16("max-version", _config.Broadcast.MaxVersion, "Highest client version accepted")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.Broadcast.ServiceAddr, "Listen IP:Port for HTTP service, empty to disable")

	// Store
	cmd.Flags().Bool("store", _config.Broadcast.Store, "Journal relayed packets in badgerDB instead of in memory")
	cmd.Flags().String("db", _config.Broadcast.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Int("history", _config.Broadcast.History, "Number of packets replayed to new clients")
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runServer(cmd *cobra.Command, args []string) error {
	conf := &_config.Broadcast
	logger := conf.Logger()

	j, err := newJournal(conf, logger)
	if err != nil {
		logger.WithError(err).Error("Cannot open journal")
		return err
	}

	layer, err := newStreamLayer(conf, logger)
	if err != nil {
		j.Close()
		logger.WithError(err).Error("Cannot create stream layer")
		return err
	}

	session := broadcast.NewSession(logger, broadcast.WithMaxPacketLength(conf.MaxPacketLength))
	hub := dummy.NewHub(session, j, conf.History, logger)

	if err := hub.Serve(layer, conf.Credentials()); err != nil {
		layer.Close()
		j.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return waitForSignal(ctx, cancel)
	})

	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logger.WithFields(logrus.Fields{
					"address":     session.HostAddress(),
					"connections": session.ConnectionCount(),
					"last_index":  j.LastIndex(),
				}).Info("Status")
			case <-ctx.Done():
				return nil
			}
		}
	})

	if conf.ServiceAddr != "" {
		svc := service.NewService(conf.ServiceAddr, session, j, logger)

		g.Go(svc.Serve)

		g.Go(func() error {
			<-ctx.Done()
			return svc.Shutdown()
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		return hub.Close()
	})

	return g.Wait()
}

func newJournal(conf *config.Config, logger *logrus.Entry) (journal.Journal, error) {
	if !conf.Store {
		return journal.NewInmemJournal(conf.History), nil
	}
	return journal.NewBadgerJournal(conf.DatabaseDir, conf.History, logger)
}
