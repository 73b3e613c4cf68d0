package scene

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlCatalogFile is the top-level YAML structure for the scene catalog.
type yamlCatalogFile struct {
	Scenes []yamlScene `yaml:"scenes"`
}

// yamlScene is the YAML representation of a scene.
type yamlScene struct {
	Name       string          `yaml:"name"`
	Room       *yamlRoomPolicy `yaml:"room"`
	Broadcasts []yamlBroadcast `yaml:"broadcasts"`
}

type yamlRoomPolicy struct {
	MinimumPlayers int `yaml:"minimum_players"`
	MaximumPlayers int `yaml:"maximum_players"`
}

type yamlBroadcast struct {
	Name     string `yaml:"name"`
	Code     int    `yaml:"code"`
	Payload  string `yaml:"payload"`
	Receiver string `yaml:"receiver"`
}

// LoadCatalogFromFile reads and validates a scene catalog YAML file.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadCatalogFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene catalog %s: %w", path, err)
	}
	return LoadCatalogFromBytes(data)
}

// LoadCatalogFromBytes parses and validates a scene catalog from YAML bytes.
//
// Postcondition: Returns a validated Catalog with at least one scene, or a non-nil error.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing scene catalog YAML: %w", err)
	}
	if len(file.Scenes) == 0 {
		return nil, fmt.Errorf("scene catalog defines no scenes")
	}

	scenes := make([]*Scene, 0, len(file.Scenes))
	for _, ys := range file.Scenes {
		scenes = append(scenes, convertYAMLScene(ys))
	}

	catalog, err := NewCatalog(scenes)
	if err != nil {
		return nil, fmt.Errorf("validating scene catalog: %w", err)
	}
	return catalog, nil
}

// convertYAMLScene converts the parsed YAML structures into domain types.
func convertYAMLScene(ys yamlScene) *Scene {
	s := &Scene{Name: ys.Name}
	if ys.Room != nil {
		s.Room = &RoomPolicy{
			MinimumPlayers: ys.Room.MinimumPlayers,
			MaximumPlayers: ys.Room.MaximumPlayers,
		}
	}
	for _, yb := range ys.Broadcasts {
		receiver := yb.Receiver
		if receiver == "" {
			receiver = ReceiverAll
		}
		s.Broadcasts = append(s.Broadcasts, Broadcast{
			Name:     yb.Name,
			Code:     yb.Code,
			Payload:  yb.Payload,
			Receiver: receiver,
		})
	}
	return s
}
