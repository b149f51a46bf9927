// Package config loads startup configuration documents written in the
// jsonmc dialect, validates them against a JSON schema, and applies
// them to a manager.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/instance"
	"github.com/mockhive/mockhive/pkg/jsonmc"
	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/manager"
	"github.com/mockhive/mockhive/pkg/mockerr"
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("config/schema.json", schemaJSON)

// Document is a parsed startup configuration.
type Document struct {
	Servers []ServerEntry `json:"servers"`
}

// ServerEntry declares one instance and its initial expectations.
type ServerEntry struct {
	Server       instance.Spec              `json:"server"`
	Expectations []*expectation.Expectation `json:"expectations,omitempty"`
}

// Parse runs the jsonmc preprocessor, validates the document against
// the configuration schema, and unmarshals it.
func Parse(data []byte) (*Document, error) {
	plain, err := jsonmc.Preprocess(data)
	if err != nil {
		return nil, mockerr.Wrap(mockerr.CodeValidation, err, "parsing configuration")
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, mockerr.Wrap(mockerr.CodeValidation, err, "parsing configuration")
	}
	if err := schema.Validate(generic); err != nil {
		return nil, mockerr.Wrap(mockerr.CodeValidation, err, "configuration does not match schema")
	}

	var doc Document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, mockerr.Wrap(mockerr.CodeValidation, err, "decoding configuration")
	}
	return &doc, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mockerr.Wrap(mockerr.CodeValidation, err, "reading configuration file")
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Apply creates every declared server and installs its expectations.
// One server's failure does not block the others; all failures are
// aggregated into a single error.
func Apply(doc *Document, m *manager.Manager, log *slog.Logger) error {
	if log == nil {
		log = logging.Nop()
	}

	var errs []error
	for _, entry := range doc.Servers {
		id := entry.Server.ID
		if _, err := m.Create(entry.Server); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", id, err))
			continue
		}
		if len(entry.Expectations) > 0 {
			if err := m.SetExpectations(id, entry.Expectations); err != nil {
				errs = append(errs, fmt.Errorf("server %q expectations: %w", id, err))
				continue
			}
		}
		log.Info("configured server started", "instance", id, "port", entry.Server.Port,
			"expectations", len(entry.Expectations))
	}
	return errors.Join(errs...)
}
