package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

const (
	DefaultConfigPathSystem = "/etc/slurm-config.ini"
	DefaultConfigPathHome   = "~/slurm-config.ini"
	xdgConfigFile           = "slurmbridge/slurm-config.ini"
)

// SlurmConfigPaths lists the files LoadSlurmConfig reads, in order of increasing precedence.
func SlurmConfigPaths(configFile string) []string {
	paths := []string{DefaultConfigPathSystem, expandHome(DefaultConfigPathHome)}
	if p, err := xdg.SearchConfigFile(xdgConfigFile); err == nil {
		paths = append(paths, p)
	}
	if configFile != "" {
		paths = append(paths, expandHome(configFile))
	}
	return paths
}

// LoadSlurmConfig reads the default locations and the given file.
// Missing files are ok, unset values fall back to defaults.
func LoadSlurmConfig(configFile string) (domain.SlurmConfig, error) {
	return LoadSlurmConfigFrom(SlurmConfigPaths(configFile)...)
}

func LoadSlurmConfigFrom(paths ...string) (cfg domain.SlurmConfig, err error) {
	cfg = domain.NewSlurmConfig()
	if len(paths) == 0 {
		return
	}

	sources := make([]interface{}, len(paths))
	for i, p := range paths {
		sources[i] = p
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		Loose:            true,
		InsensitiveKeys:  true,
		AllowBooleanKeys: true,
	}, sources[0], sources[1:]...)
	if err != nil {
		err = errors.WithMessagef(err, "Could not read Slurm config from %v", paths)
		return
	}

	ssh := file.Section("SSH")
	cfg.Host = ssh.Key("host").MustString(domain.DefaultHost)
	cfg.InlineSSHEnv = ssh.Key("inline_ssh_env").MustBool(domain.DefaultInlineSSHEnv)

	slurm := file.Section("SLURM")
	cfg.DataPath = slurm.Key("slurm_data_path").MustString(domain.DefaultSlurmDataPath)
	cfg.ImagesPath = slurm.Key("slurm_images_path").MustString(domain.DefaultSlurmImagesPath)
	cfg.ScriptPath = slurm.Key("slurm_script_path").MustString(domain.DefaultSlurmScriptPath)

	if models, err := file.GetSection("MODELS"); err == nil {
		splitModels(&cfg, models.KeysHash())
	}

	if _, ok := cfg.ModelPaths[domain.DataFilesKey]; ok {
		err = errors.Errorf("Workflow name %q is reserved for the list of data files, rename it in %v", domain.DataFilesKey, paths)
	}

	return
}

// splitModels sorts the MODELS section into paths, repos, images and jobs by key suffix.
func splitModels(cfg *domain.SlurmConfig, models map[string]string) {
	for k, v := range models {
		switch {
		case strings.HasSuffix(k, "_repo"):
			cfg.ModelRepos[strings.TrimSuffix(k, "_repo")] = v
		case strings.HasSuffix(k, "_image"):
			cfg.ModelImages[strings.TrimSuffix(k, "_image")] = v
		case strings.HasSuffix(k, "_job"):
			cfg.ModelJobs[strings.TrimSuffix(k, "_job")] = v
		default:
			cfg.ModelPaths[k] = v
		}
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
