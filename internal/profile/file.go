package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileProvider reads a profile from a YAML, JSON or TOML document.
type FileProvider struct {
	path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: strings.TrimSpace(path)}
}

func (f *FileProvider) BuildProfile(_ context.Context) (*Profile, error) {
	if f.path == "" {
		return nil, fmt.Errorf("profile file is not configured")
	}

	v := viper.New()
	v.SetConfigFile(f.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile %q: %w", f.path, err)
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode profile %q: %w", f.path, err)
	}

	p.Normalize()

	return &p, nil
}

// Static serves a prebuilt profile.
type Static struct {
	Profile *Profile
}

func (s Static) BuildProfile(context.Context) (*Profile, error) {
	if s.Profile == nil {
		return nil, fmt.Errorf("profile is not configured")
	}
	return s.Profile.Clone(), nil
}
