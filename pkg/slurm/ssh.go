package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds the connection settings for a remote head node.
type SSHConfig struct {
	// Host is the head node's hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// Password enables password authentication when set.
	Password string

	// PrivateKeyPath is the path to the private key file. When neither a
	// password nor a key is given, the default key locations are tried.
	PrivateKeyPath string

	// PrivateKeyPassphrase decrypts an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file. If empty, host
	// key verification is disabled.
	KnownHostsPath string

	// ConnectionTimeout bounds the connection attempt.
	ConnectionTimeout time.Duration
}

// DefaultSSHConfig returns a config with key authentication against the
// user's known_hosts file.
func DefaultSSHConfig(host, user string) *SSHConfig {
	home, _ := os.UserHomeDir()
	return &SSHConfig{
		Host:              host,
		Port:              22,
		User:              user,
		KnownHostsPath:    filepath.Join(home, ".ssh", "known_hosts"),
		ConnectionTimeout: 30 * time.Second,
	}
}

// Address returns the host:port pair for dialing.
func (c *SSHConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Validate checks the configuration and fills in a default private key
// when no explicit authentication is configured.
func (c *SSHConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.Password == "" && c.PrivateKeyPath == "" {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			keyPath := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(keyPath); err == nil {
				c.PrivateKeyPath = keyPath
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("no password given and no default private key found")
		}
	}
	if c.PrivateKeyPath != "" {
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	}
	return nil
}

func (c *SSHConfig) buildClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))
	}
	if c.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("could not read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("could not parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("could not load known_hosts: %w", err)
		}
	}

	timeout := c.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// SSHRunner submits on a remote head node. Job scripts are written over
// SFTP; the engine's working directory must be on a filesystem shared
// with the cluster so status files are visible to the engine.
type SSHRunner struct {
	client *ssh.Client
	files  *sftp.Client
}

// DialSSH connects to the head node described by the config.
func DialSSH(config *SSHConfig) (*SSHRunner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SSH config: %w", err)
	}
	clientConfig, err := config.buildClientConfig()
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", config.Address(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", config.Address(), err)
	}

	files, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not open SFTP session: %w", err)
	}

	return &SSHRunner{client: client, files: files}, nil
}

// Run executes the argv on the head node and returns its standard output.
// The parts are joined as given; values with shell metacharacters must be
// escaped by the caller.
func (r *SSHRunner) Run(ctx context.Context, argv []string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("could not open SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(strings.Join(argv, " "))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("remote command failed: %w\n%s", err, stderr.String())
		}
		return stdout.String(), nil
	}
}

// WriteFile writes the script to the head node over SFTP.
func (r *SSHRunner) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := r.files.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not create remote directory: %w", err)
	}

	file, err := r.files.Create(path)
	if err != nil {
		return fmt.Errorf("could not create remote file %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("could not write remote file %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("could not close remote file %s: %w", path, err)
	}

	return r.files.Chmod(path, perm)
}

// Close ends the SFTP session and the SSH connection.
func (r *SSHRunner) Close() error {
	fileErr := r.files.Close()
	connErr := r.client.Close()
	if fileErr != nil {
		return fileErr
	}
	return connErr
}
