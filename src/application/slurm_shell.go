package application

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
)

// SlurmShell runs commands on and moves files to and from the Slurm login node.
type SlurmShell interface {
	Run(ctx context.Context, cmd string, env map[string]string) (domain.CommandResult, error)
	// Put uploads a local file into a remote directory and returns the remote path.
	Put(ctx context.Context, local, remoteDir string) (string, error)
	// Get downloads a remote file into a local directory and returns the local path.
	Get(ctx context.Context, remote, localDir string) (string, error)
	Close() error
}

type sshShell struct {
	logger    zerolog.Logger
	config    config.SSHConfig
	inlineEnv bool
	metrics   *Metrics

	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

	mutex  sync.Mutex
	client *ssh.Client
}

func NewSSHShell(cfg config.SSHConfig, inlineEnv bool, metrics *Metrics, logger *zerolog.Logger) SlurmShell {
	return &sshShell{
		logger:    logger.With().Str("component", "SlurmShell").Str("host", cfg.Alias).Logger(),
		config:    cfg,
		inlineEnv: inlineEnv,
		metrics:   metrics,
		dial:      ssh.Dial,
	}
}

// connection returns the shared client, dialing on first use.
func (self *sshShell) connection() (*ssh.Client, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.client != nil {
		return self.client, nil
	}

	clientConfig, err := self.config.ClientConfig()
	if err != nil {
		return nil, err
	}

	self.logger.Debug().Str("addr", self.config.Addr()).Str("user", self.config.User).Msg("Connecting")
	client, err := self.dial("tcp", self.config.Addr(), clientConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "Could not connect to %s", self.config.Addr())
	}
	self.client = client

	return client, nil
}

func (self *sshShell) reset(client *ssh.Client) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.client == client {
		_ = self.client.Close()
		self.client = nil
	}
}

func (self *sshShell) session() (*ssh.Session, error) {
	client, err := self.connection()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	// The connection may have been dropped by the server, try once more with a new one.
	self.logger.Debug().Err(err).Msg("Reconnecting")
	self.reset(client)

	if client, err = self.connection(); err != nil {
		return nil, err
	}
	session, err = client.NewSession()
	return session, errors.WithMessage(err, "Could not open SSH session")
}

func (self *sshShell) Run(ctx context.Context, cmd string, env map[string]string) (result domain.CommandResult, err error) {
	start := time.Now()
	defer func() { self.metrics.ObserveCommand(start, err) }()

	for k := range env {
		if !domain.ValidParamKey(k) {
			err = domain.InvalidParamError{Key: k}
			return
		}
	}

	session, err := self.session()
	if err != nil {
		return
	}
	defer session.Close()

	if self.inlineEnv {
		cmd = InlineEnv(cmd, env)
	} else {
		for _, k := range domain.SortedKeys(env) {
			if err = session.Setenv(k, env[k]); err != nil {
				err = errors.WithMessagef(err, "Could not set environment variable %q, the server may need AcceptEnv or inline_ssh_env", k)
				return
			}
		}
	}
	result.Command = cmd

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	self.logger.Debug().Str("command", cmd).Msg("Running command")

	if err = session.Start(cmd); err != nil {
		err = errors.WithMessagef(err, "Could not start command %q", cmd)
		return
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		err = ctx.Err()
		return
	case err = <-done:
	}

	result.Stdout = strings.ToValidUTF8(stdout.String(), "")
	result.Stderr = strings.ToValidUTF8(stderr.String(), "")

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitStatus = exitErr.ExitStatus()
		err = &domain.CommandError{
			Command:    cmd,
			ExitStatus: result.ExitStatus,
			Stdout:     result.Stdout,
			Stderr:     result.Stderr,
		}
		return
	} else if err != nil {
		err = errors.WithMessagef(err, "While running command %q", cmd)
		return
	}

	self.logger.Trace().Str("command", cmd).Str("stdout", result.Stdout).Msg("Command finished")
	return
}

// InlineEnv prefixes the command with an export of the given environment,
// for servers that do not accept environment variables from clients.
func InlineEnv(cmd string, env map[string]string) string {
	if len(env) == 0 {
		return cmd
	}

	assignments := make([]string, 0, len(env))
	for _, k := range domain.SortedKeys(env) {
		assignments = append(assignments, k+"="+shellescape.Quote(env[k]))
	}

	return "export " + strings.Join(assignments, " ") + " && " + cmd
}

func (self *sshShell) sftp() (*sftp.Client, error) {
	client, err := self.connection()
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	return sftpClient, errors.WithMessage(err, "Could not start SFTP subsystem")
}

func (self *sshShell) Put(ctx context.Context, local, remoteDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sftpClient, err := self.sftp()
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	src, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer src.Close()

	remote := path.Join(remoteDir, filepath.Base(local))
	self.logger.Debug().Str("local", local).Str("remote", remote).Msg("Uploading")

	dst, err := sftpClient.Create(remote)
	if err != nil {
		return "", errors.WithMessagef(err, "Could not create remote file %q", remote)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, contextReader{ctx, src}); err != nil {
		return "", errors.WithMessagef(err, "Could not upload %q to %q", local, remote)
	}

	return remote, nil
}

func (self *sshShell) Get(ctx context.Context, remote, localDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sftpClient, err := self.sftp()
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	src, err := sftpClient.Open(remote)
	if err != nil {
		return "", errors.WithMessagef(err, "Could not open remote file %q", remote)
	}
	defer src.Close()

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", err
	}

	local := filepath.Join(localDir, path.Base(remote))
	self.logger.Debug().Str("remote", remote).Str("local", local).Msg("Downloading")

	dst, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, contextReader{ctx, src}); err != nil {
		return "", errors.WithMessagef(err, "Could not download %q to %q", remote, local)
	}

	return local, nil
}

func (self *sshShell) Close() error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.client == nil {
		return nil
	}
	err := self.client.Close()
	self.client = nil
	return err
}

// contextReader stops a copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (self contextReader) Read(p []byte) (int, error) {
	if err := self.ctx.Err(); err != nil {
		return 0, err
	}
	return self.r.Read(p)
}
