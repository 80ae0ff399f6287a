package blockchain

import (
	"fmt"
	"path/filepath"

	fabconfig "github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/wallet"
)

type fabricConnector struct {
	cfg config.FabricConfig
}

type fabricSession struct {
	gw       *gateway.Gateway
	contract *gateway.Contract
}

func (s *fabricSession) Contract() Contract { return s.contract }
func (s *fabricSession) Close()             { s.gw.Close() }

func (c *fabricConnector) Connect() (Session, error) {
	w, err := wallet.Open(c.cfg.WalletPath)
	if err != nil {
		return nil, err
	}
	if !w.Exists(c.cfg.Identity) {
		return nil, fmt.Errorf("%w: %q at %s, run provision first", ErrIdentityNotFound, c.cfg.Identity, c.cfg.WalletPath)
	}

	gw, err := gateway.Connect(
		gateway.WithConfig(fabconfig.FromFile(filepath.Clean(c.cfg.ConnectionProfile))),
		gateway.WithIdentity(w, c.cfg.Identity),
		gateway.WithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	network, err := gw.GetNetwork(c.cfg.ChannelName)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to get network %s: %w", c.cfg.ChannelName, err)
	}
	return &fabricSession{gw: gw, contract: network.GetContract(c.cfg.ChaincodeName)}, nil
}
