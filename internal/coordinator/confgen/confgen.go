// Package confgen renders ready-to-use worker configuration files for
// registered judger nodes.
package confgen

import (
	jcfg "gavel/internal/judger/config"
	appErr "gavel/pkg/errors"

	"github.com/pelletier/go-toml/v2"
)

// Params carries everything a worker config needs that the coordinator
// knows. The secret comes from the operator; the server keeps only a hash.
type Params struct {
	NodeID         string
	Secret         string
	CoordinatorURL string
	Transport      string
	KafkaBrokers   []string
}

// Generate renders a worker config file. The result parses back with the
// worker's own loader, so a generated file is valid by construction.
func Generate(p Params) ([]byte, error) {
	if p.NodeID == "" || p.Secret == "" {
		return nil, appErr.Newf(appErr.ConfigError, "node id and secret are required")
	}

	cfg := jcfg.Config{}
	cfg.Coordinator.URL = p.CoordinatorURL
	cfg.Coordinator.NodeID = p.NodeID
	cfg.Coordinator.Secret = p.Secret
	cfg.Coordinator.Transport = p.Transport
	cfg.Kafka.Brokers = p.KafkaBrokers
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ConfigError)
	}
	return out, nil
}
