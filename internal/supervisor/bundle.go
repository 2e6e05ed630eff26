package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WorkerConfig is the config.json a worker container reads from its bundle
// at startup. The api_hash deliberately lives in a sibling file so the
// JSON can be logged by operators without leaking it.
type WorkerConfig struct {
	Type        string              `json:"type"` // logger, listener, forwarder
	UserID      int64               `json:"user_id"`
	SessionID   int64               `json:"session_id"`
	Phone       string              `json:"phone"`
	APIID       int                 `json:"api_id"`
	ChatID      int64               `json:"chat_id"`
	TargetChat  int64               `json:"target_chat_id,omitempty"`
	DatabaseDSN string              `json:"database_dsn"`
	Rules       []ElaborationConfig `json:"elaborations,omitempty"`
}

// ElaborationConfig is the ordered processing rule list shipped to
// listener workers.
type ElaborationConfig struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Priority int             `json:"priority"`
	Config   json.RawMessage `json:"config"`
}

// Bundle is the set of secrets materialized for one worker.
type Bundle struct {
	Config      WorkerConfig
	APIHash     string
	SessionBlob []byte
}

// Bundle file names, shared with the worker runtime.
const (
	BundleConfigFile  = "config.json"
	BundleSessionFile = "session.session"
	BundleAPIHashFile = "api_hash"
)

// materializeBundle writes the worker bundle under baseDir/name with
// owner-only permissions and returns the bundle directory. Any failure
// wipes what was written.
func materializeBundle(baseDir, name string, b *Bundle) (string, error) {
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}

	write := func(file string, data []byte) error {
		return os.WriteFile(filepath.Join(dir, file), data, 0o600)
	}

	configJSON, err := json.MarshalIndent(b.Config, "", "  ")
	if err != nil {
		wipeBundle(dir)
		return "", fmt.Errorf("failed to encode worker config: %w", err)
	}
	if err := write(BundleConfigFile, configJSON); err != nil {
		wipeBundle(dir)
		return "", fmt.Errorf("failed to write worker config: %w", err)
	}
	if err := write(BundleSessionFile, b.SessionBlob); err != nil {
		wipeBundle(dir)
		return "", fmt.Errorf("failed to write session blob: %w", err)
	}
	if err := write(BundleAPIHashFile, []byte(b.APIHash)); err != nil {
		wipeBundle(dir)
		return "", fmt.Errorf("failed to write api hash: %w", err)
	}

	return dir, nil
}

// wipeBundle removes a bundle directory and everything in it. Idempotent.
func wipeBundle(dir string) {
	_ = os.RemoveAll(dir)
}
