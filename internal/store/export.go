package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// exportFile is the on-disk YAML shape for profile import/export.
// Passwords are never exported; only the key path travels with a profile.
type exportFile struct {
	Profiles []exportProfile `yaml:"profiles"`
}

type exportProfile struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	AuthType       string `yaml:"authType"`
	PrivateKeyPath string `yaml:"privateKeyPath,omitempty"`
}

// ExportProfiles writes all profiles to a YAML file at path.
func (s *Store) ExportProfiles(path string) error {
	profiles, err := s.ListProfiles()
	if err != nil {
		return err
	}
	out := exportFile{Profiles: make([]exportProfile, 0, len(profiles))}
	for _, p := range profiles {
		out.Profiles = append(out.Profiles, exportProfile{
			Name:           p.Name,
			Host:           p.Host,
			Port:           p.Port,
			Username:       p.Username,
			AuthType:       p.AuthType,
			PrivateKeyPath: p.PrivateKeyPath,
		})
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// ImportProfiles reads a YAML export file and upserts its profiles by name.
// Returns the number of profiles imported.
func (s *Store) ImportProfiles(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import file: %w", err)
	}
	var in exportFile
	if err := yaml.Unmarshal(data, &in); err != nil {
		return 0, fmt.Errorf("parse import file: %w", err)
	}

	count := 0
	for _, ep := range in.Profiles {
		if ep.Name == "" || ep.Host == "" {
			continue
		}
		if ep.Port == 0 {
			ep.Port = 22
		}
		p := Profile{
			Name:           ep.Name,
			Host:           ep.Host,
			Port:           ep.Port,
			Username:       ep.Username,
			AuthType:       ep.AuthType,
			PrivateKeyPath: ep.PrivateKeyPath,
		}
		// Upsert by unique name.
		var existing Profile
		if err := s.db.First(&existing, "name = ?", ep.Name).Error; err == nil {
			p.ID = existing.ID
			p.EncryptedPassword = existing.EncryptedPassword
		}
		if err := s.db.Save(&p).Error; err != nil {
			return count, fmt.Errorf("import profile %q: %w", ep.Name, err)
		}
		count++
	}
	return count, nil
}
