package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Config
	Stages map[string]toml.Primitive `toml:"stages"`
}

// Load decodes the deploy file at path and resolves it for stage. An empty
// stage selects the file's own `stage` key; when that is empty too no stage
// overlay is applied.
//
// Every [stages.<name>] table is decoded, not only the selected one, so a typo
// in an unused stage still fails the load.
func Load(path, stage string) (Config, error) {
	raw := fileConfig{Config: Default()}
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	selected := strings.TrimSpace(stage)
	if selected == "" {
		selected = strings.TrimSpace(raw.Stage)
	}

	base := raw.Config
	cfg := base
	names := make([]string, 0, len(raw.Stages))
	for name := range raw.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	found := false
	for _, name := range names {
		resolved := clone(base)
		if err := applyStage(meta, name, raw.Stages[name], &resolved); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): stage %q: %w", path, name, err)
		}
		if name == selected {
			cfg = resolved
			found = true
		}
	}
	if selected != "" && !found && selected != strings.TrimSpace(raw.Stage) {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownStage, selected)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, invalidf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.Stage = selected
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyStage decodes one stage table on top of dst. Lists named by the stage
// replace the base list instead of merging element by element.
func applyStage(meta toml.MetaData, name string, prim toml.Primitive, dst *Config) error {
	if meta.IsDefined("stages", name, "servers") {
		dst.Servers = nil
	}
	if meta.IsDefined("stages", name, "celery_names") {
		dst.CeleryNames = nil
	}
	if meta.IsDefined("stages", name, "cors_origins") {
		dst.CorsOrigins = nil
	}
	return meta.PrimitiveDecode(prim, dst)
}

func clone(cfg Config) Config {
	out := cfg
	out.CorsOrigins = slices.Clone(cfg.CorsOrigins)
	out.CeleryNames = slices.Clone(cfg.CeleryNames)
	out.Servers = make([]ServerConfig, len(cfg.Servers))
	for i, srv := range cfg.Servers {
		srv.Roles = slices.Clone(srv.Roles)
		out.Servers[i] = srv
	}
	return out
}

func normalize(cfg *Config) {
	cfg.Application = strings.TrimSpace(cfg.Application)
	cfg.DeployTo = strings.TrimSpace(cfg.DeployTo)
	if len(cfg.DeployTo) > 1 {
		cfg.DeployTo = strings.TrimRight(cfg.DeployTo, "/")
	}
	cfg.DjangoProjectDir = strings.Trim(strings.TrimSpace(cfg.DjangoProjectDir), "/")
	cfg.DjangoSettingsDir = strings.Trim(strings.TrimSpace(cfg.DjangoSettingsDir), "/")
	cfg.WSGIPath = strings.Trim(strings.TrimSpace(cfg.WSGIPath), "/")
	cfg.DjangoSettings = strings.TrimSuffix(strings.TrimSpace(cfg.DjangoSettings), ".py")
	cfg.CeleryName = strings.TrimSpace(cfg.CeleryName)
	for i := range cfg.Servers {
		cfg.Servers[i].Address = strings.TrimSpace(cfg.Servers[i].Address)
		cfg.Servers[i].User = strings.TrimSpace(cfg.Servers[i].User)
		for j, role := range cfg.Servers[i].Roles {
			cfg.Servers[i].Roles[j] = strings.TrimSpace(role)
		}
	}
	for i := range cfg.CeleryNames {
		cfg.CeleryNames[i].Name = strings.TrimSpace(cfg.CeleryNames[i].Name)
	}
}
