package fleet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// File is the YAML fleet description:
//
//	vehicles:
//	  - id: B-1
//	    route_id: R1
//	    location: {lat: 41.3851, lng: 2.1734}
//	    capacity: 60
type File struct {
	Vehicles []models.Vehicle `yaml:"vehicles" validate:"dive"`
}

// LoadYAML reads and validates a fleet file from disk
func LoadYAML(path string) ([]models.Vehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return ParseYAML(bytes.NewReader(data))
}

// ParseYAML decodes a fleet file. Missing statuses default to active;
// unknown keys and duplicate ids are rejected.
func ParseYAML(r io.Reader) ([]models.Vehicle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("fleet file is empty")
		}
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	seen := make(map[string]bool, len(f.Vehicles))
	for i := range f.Vehicles {
		v := &f.Vehicles[i]
		if v.Status == "" {
			v.Status = models.StatusActive
		}
		if v.ID != "" && seen[v.ID] {
			return nil, fmt.Errorf("duplicate vehicle id %q", v.ID)
		}
		seen[v.ID] = true
	}

	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid fleet file: %w", err)
	}
	for i := range f.Vehicles {
		if err := f.Vehicles[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid vehicle %q: %w", f.Vehicles[i].ID, err)
		}
	}

	return f.Vehicles, nil
}
