package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bdpower/internal/dataset"
	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
)

const manifestSchemaVersion = 1

// Manifest records what a run asked for and what it produced. It is written
// next to the combined CSV.
type Manifest struct {
	RunID          string            `toml:"run_id"`
	Command        string            `toml:"command"`
	CreatedAt      time.Time         `toml:"created_at"`
	Start          string            `toml:"start"` // YYYY-MM-DD
	End            string            `toml:"end"`
	Hourly         bool              `toml:"hourly"`
	Community      string            `toml:"community"`
	Parameters     []string          `toml:"parameters"`
	Attempted      int               `toml:"attempted"`
	Rows           int               `toml:"rows"`
	ElapsedSeconds float64           `toml:"elapsed_seconds"`
	Succeeded      []string          `toml:"succeeded"`
	Outputs        []string          `toml:"outputs"`
	Failed         []ManifestFailure `toml:"failed"`

	SchemaVersion int `toml:"schema_version"`
}

// ManifestFailure is one failed location with its error text.
type ManifestFailure struct {
	Location string `toml:"location"`
	Error    string `toml:"error"`
}

// NewManifest summarizes res for the named command.
func NewManifest(command string, res *Result, outputs ...string) *Manifest {
	m := &Manifest{
		RunID:          res.RunID,
		Command:        command,
		CreatedAt:      res.StartedAt.UTC().Truncate(time.Second),
		Start:          res.Request.Start.Format(dataset.DateLayout),
		End:            res.Request.End.Format(dataset.DateLayout),
		Hourly:         res.Request.Hourly,
		Community:      res.Request.Community,
		Parameters:     res.Request.Parameters,
		Attempted:      res.Attempted,
		Rows:           res.Combined.Len(),
		ElapsedSeconds: res.Elapsed.Seconds(),
		Succeeded:      res.Succeeded,
		Outputs:        outputs,
		SchemaVersion:  manifestSchemaVersion,
	}
	for _, f := range res.Failures {
		m.Failed = append(m.Failed, ManifestFailure{Location: f.Location.Name, Error: f.Err.Error()})
	}
	return m
}

// ManifestPath derives the manifest path from a data file path.
func ManifestPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".manifest.toml"
}

// WriteManifest saves m atomically.
func WriteManifest(path string, m *Manifest) error {
	complete := logger.LogOperationStart("manifest_write", map[string]any{
		"file_path": path,
		"run_id":    m.RunID,
	})

	data, err := toml.Marshal(m)
	if err != nil {
		complete(err)
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := errorutil.SafeFileWrite(logger.Slog(), path, data, 0644); err != nil {
		complete(err)
		return err
	}

	complete(nil)
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorutil.NewFileError("read", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest TOML: %w", err)
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema version: %d", m.SchemaVersion)
	}

	logger.Debug("Manifest loaded: run=%s, rows=%d", m.RunID, m.Rows)
	return &m, nil
}
