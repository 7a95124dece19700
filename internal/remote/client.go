// Package remote mounts an SSH host as a workspace: file access over
// SFTP, command execution and interactive terminals over SSH channels.
package remote

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/haasonsaas/forge/internal/config"
)

const dialTimeout = 15 * time.Second

// Client is an authenticated connection to a remote workspace host.
type Client struct {
	target config.SSHTarget
	conn   *ssh.Client
	sftp   *sftp.Client
}

// Dial connects to the target. Authentication tries, in order, the
// explicit key file, the running ssh-agent, and the default key paths.
func Dial(target config.SSHTarget, keyPath string) (*Client, error) {
	auth, err := authMethods(keyPath)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(),
		Timeout:         dialTimeout,
	}
	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	return &Client{target: target, conn: conn, sftp: sftpClient}, nil
}

// Close tears down the SFTP session and the underlying connection.
func (c *Client) Close() error {
	if c.sftp != nil {
		c.sftp.Close()
	}
	return c.conn.Close()
}

// Target returns the parsed workspace locator.
func (c *Client) Target() config.SSHTarget { return c.target }

// ListDir reads a remote directory over SFTP. Used by the facade's
// directory browser before a workspace is opened.
func (c *Client) ListDir(path string) ([]fs.DirEntry, error) {
	infos, err := c.sftp.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

func authMethods(keyPath string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if keyPath != "" {
		signer, err := loadKey(keyPath)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if keyPath == "" {
		home, _ := os.UserHomeDir()
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			signer, err := loadKey(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable ssh credentials: pass --key or start an ssh-agent")
	}
	return methods, nil
}

func loadKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return signer, nil
}

// hostKeyCallback verifies against ~/.ssh/known_hosts when present and
// otherwise accepts the host key, matching the trust model of a
// developer pointing the backend at their own machine.
func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, statErr := os.Stat(path); statErr == nil {
			if cb, khErr := knownhosts.New(path); khErr == nil {
				return cb
			}
		}
	}
	return ssh.InsecureIgnoreHostKey()
}
