package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gimmi17/Solanagram/internal/supervisor"
)

// BundleEnvAPIHash lets deployments inject the api hash via environment
// instead of the bundle file.
const BundleEnvAPIHash = "TELEGRAM_API_HASH"

// Bundle is the materialized configuration a worker container reads at
// startup from its bind-mounted directory.
type Bundle struct {
	Config      supervisor.WorkerConfig
	APIHash     string
	SessionBlob []byte
}

// LoadBundle reads the worker bundle from dir. The api hash comes from the
// bundle file, falling back to the environment.
func LoadBundle(dir string) (*Bundle, error) {
	configRaw, err := os.ReadFile(filepath.Join(dir, supervisor.BundleConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read worker config: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(configRaw, &bundle.Config); err != nil {
		return nil, fmt.Errorf("failed to decode worker config: %w", err)
	}

	bundle.SessionBlob, err = os.ReadFile(filepath.Join(dir, supervisor.BundleSessionFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read session blob: %w", err)
	}

	if hashRaw, err := os.ReadFile(filepath.Join(dir, supervisor.BundleAPIHashFile)); err == nil {
		bundle.APIHash = strings.TrimSpace(string(hashRaw))
	}
	if bundle.APIHash == "" {
		bundle.APIHash = os.Getenv(BundleEnvAPIHash)
	}

	if err := bundle.validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (b *Bundle) validate() error {
	cfg := &b.Config
	switch {
	case cfg.APIID == 0:
		return fmt.Errorf("bundle is missing api_id")
	case b.APIHash == "":
		return fmt.Errorf("bundle is missing api hash")
	case cfg.ChatID == 0:
		return fmt.Errorf("bundle is missing chat_id")
	case cfg.DatabaseDSN == "":
		return fmt.Errorf("bundle is missing database_dsn")
	case cfg.SessionID == 0:
		return fmt.Errorf("bundle is missing session_id")
	case len(b.SessionBlob) == 0:
		return fmt.Errorf("bundle is missing session blob")
	}
	return nil
}
