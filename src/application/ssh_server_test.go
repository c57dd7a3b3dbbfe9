package application

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nl-bioimaging/slurmbridge/src/config"
)

type execRequest struct {
	Command string
	Env     map[string]string
	Signals <-chan string
}

type execResponse struct {
	Stdout string
	Stderr string
	Status uint32
}

type execHandler func(execRequest) execResponse

// startSSHServer serves exec requests with handler and the sftp subsystem on
// the local file system. It returns a config that trusts the server's host key.
func startSSHServer(t *testing.T, handler execHandler) config.SSHConfig {
	t.Helper()
	dir := t.TempDir()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorizedKey, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	identityFile := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(identityFile, pem.EncodeToMemory(block), 0o600))

	serverConfig := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	serverConfig.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, serverConfig, handler)
		}
	}()

	addr := listener.Addr().String()
	knownHostsFile := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, hostSigner.PublicKey())
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600))

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	return config.SSHConfig{
		Alias:          "test",
		HostName:       host,
		Port:           port,
		User:           "slurm",
		IdentityFiles:  []string{identityFile},
		KnownHostsFile: knownHostsFile,
		Timeout:        5 * time.Second,
	}
}

func serveSSHConn(conn net.Conn, serverConfig *ssh.ServerConfig, handler execHandler) {
	serverConn, channels, requests, err := ssh.NewServerConn(conn, serverConfig)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		channel, channelRequests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveSession(channel, channelRequests, handler)
	}
}

func serveSession(channel ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	env := map[string]string{}
	signals := make(chan string, 1)

	for req := range requests {
		switch req.Type {
		case "env":
			var kv struct{ Name, Value string }
			if err := ssh.Unmarshal(req.Payload, &kv); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			env[kv.Name] = kv.Value
			_ = req.Reply(true, nil)

		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			execEnv := make(map[string]string, len(env))
			for k, v := range env {
				execEnv[k] = v
			}
			go func() {
				res := handler(execRequest{Command: payload.Command, Env: execEnv, Signals: signals})
				_, _ = io.WriteString(channel, res.Stdout)
				_, _ = io.WriteString(channel.Stderr(), res.Stderr)
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{res.Status}))
				_ = channel.Close()
			}()

		case "signal":
			var sig struct{ Signal string }
			if err := ssh.Unmarshal(req.Payload, &sig); err == nil {
				select {
				case signals <- sig.Signal:
				default:
				}
			}

		case "subsystem":
			var subsystem struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &subsystem); err != nil || subsystem.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			server, err := sftp.NewServer(channel)
			if err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				_ = server.Serve()
				_ = channel.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func newTestShell(t *testing.T, inlineEnv bool, handler execHandler) *sshShell {
	t.Helper()
	logger := zerolog.Nop()
	shell := NewSSHShell(startSSHServer(t, handler), inlineEnv, nil, &logger).(*sshShell)
	t.Cleanup(func() { _ = shell.Close() })
	return shell
}
