package config

import (
	"net"
	"os"
	"os/user"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const DefaultSSHTimeout = 10 * time.Second

var defaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

type SSHConfig struct {
	// Alias is the host as given in the Slurm config, it may be a Host entry of ~/.ssh/config.
	Alias           string
	HostName        string
	Port            string
	User            string
	IdentityFiles   []string
	KnownHostsFile  string
	InsecureHostKey bool
	Timeout         time.Duration
}

func (self SSHConfig) Addr() string {
	return net.JoinHostPort(self.HostName, self.Port)
}

// SSHConfigSource answers lookups in ssh config files, *ssh_config.Config is one.
type SSHConfigSource interface {
	Get(alias, key string) (string, error)
	GetAll(alias, key string) ([]string, error)
}

// userSSHConfig reads ~/.ssh/config and /etc/ssh/ssh_config, ignoring files that do not parse.
type userSSHConfig struct{}

func (userSSHConfig) Get(alias, key string) (string, error) {
	return ssh_config.Get(alias, key), nil
}

func (userSSHConfig) GetAll(alias, key string) ([]string, error) {
	return ssh_config.GetAll(alias, key), nil
}

// ResolveSSHConfig looks the alias up in the user's ssh config
// and applies the SLURMBRIDGE_* environment overrides.
func ResolveSSHConfig(alias string) (SSHConfig, error) {
	return ResolveSSHConfigFrom(userSSHConfig{}, alias)
}

func ResolveSSHConfigFrom(source SSHConfigSource, alias string) (cfg SSHConfig, err error) {
	cfg = SSHConfig{Alias: alias, Timeout: DefaultSSHTimeout}

	if cfg.HostName, err = source.Get(alias, "HostName"); err != nil {
		return cfg, errors.WithMessagef(err, "Could not look up %q in ssh config", alias)
	}
	if cfg.Port, err = source.Get(alias, "Port"); err != nil {
		return cfg, errors.WithMessagef(err, "Could not look up %q in ssh config", alias)
	}
	if cfg.User, err = source.Get(alias, "User"); err != nil {
		return cfg, errors.WithMessagef(err, "Could not look up %q in ssh config", alias)
	}

	if cfg.HostName == "" {
		cfg.HostName = alias
	}
	if cfg.Port == "" {
		cfg.Port = "22"
	}
	if cfg.User == "" {
		if u, err := user.Current(); err != nil {
			return cfg, errors.WithMessage(err, "Could not determine the local user name")
		} else {
			cfg.User = u.Username
		}
	}

	identityFiles, err := source.GetAll(alias, "IdentityFile")
	if err != nil {
		return cfg, errors.WithMessagef(err, "Could not look up %q in ssh config", alias)
	}
	for _, file := range identityFiles {
		cfg.IdentityFiles = append(cfg.IdentityFiles, expandHome(file))
	}
	for _, file := range defaultIdentityFiles {
		cfg.IdentityFiles = append(cfg.IdentityFiles, expandHome(file))
	}

	cfg.KnownHostsFile = expandHome("~/.ssh/known_hosts")
	if v := GetenvStr("SLURMBRIDGE_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsFile = expandHome(v)
	}

	if v, err := GetenvBool("SLURMBRIDGE_INSECURE_HOST_KEY"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.InsecureHostKey = *v
	}

	if v, err := GetenvSeconds("SLURMBRIDGE_SSH_TIMEOUT"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.Timeout = *v
	}

	return cfg, nil
}

// ClientConfig collects the auth methods: the ssh agent if one is running,
// then every identity file that can be read without a passphrase.
func (self SSHConfig) ClientConfig() (*ssh.ClientConfig, error) {
	var signers []ssh.Signer

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	for _, file := range self.IdentityFiles {
		key, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, errors.Errorf("No usable SSH keys for %s@%s", self.User, self.Alias)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !self.InsecureHostKey {
		cb, err := knownhosts.New(self.KnownHostsFile)
		if err != nil {
			return nil, errors.WithMessagef(err, "Could not read known hosts from %q", self.KnownHostsFile)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            self.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         self.Timeout,
	}, nil
}
