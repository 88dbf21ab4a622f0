package commands

import (
	"github.com/carbonforge/broadcast/src/config"
	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/sirupsen/logrus"
)

func newStreamLayer(conf *config.Config, logger *logrus.Entry) (bnet.StreamLayer, error) {
	if conf.Transport == config.TransportWebsocket {
		return bnet.NewWebsocketStreamLayer(conf.BindAddr, conf.WebsocketPath, conf.SendWindow, logger)
	}
	return bnet.NewTCPStreamLayer(conf.BindAddr, conf.SendWindow, logger)
}

func newDialer(conf *config.Config, logger *logrus.Entry) bnet.Dialer {
	if conf.Transport == config.TransportWebsocket {
		return bnet.WebsocketDialer{
			Path:   conf.WebsocketPath,
			Window: conf.SendWindow,
			Logger: logger,
		}
	}
	return bnet.TCPDialer{
		Window: conf.SendWindow,
		Logger: logger,
	}
}
