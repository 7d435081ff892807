package filegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPClient is the delivery transport collaborator (§4.7): write fileBytes
// to <sftpPath>/<fileName> on the payer's configured server. A concrete
// adapter over github.com/pkg/sftp + golang.org/x/crypto/ssh satisfies it;
// tests substitute a fake.
type SFTPClient interface {
	Upload(ctx context.Context, remotePath string, content []byte) error
	Close() error
}

// sshSFTPClient adapts an *sftp.Client (itself wrapping an *ssh.Client) to
// SFTPClient.
type sshSFTPClient struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

// DialSFTP opens an SSH connection to host:port and negotiates an SFTP
// subsystem session, authenticating with username/password. connTimeout
// bounds the TCP+handshake step (sftp.connectionTimeoutMs, §6).
func DialSFTP(addr, username, password string, connTimeout time.Duration) (*sshSFTPClient, error) {
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connTimeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dialing sftp host %s: %w", addr, err)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("negotiating sftp session with %s: %w", addr, err)
	}
	return &sshSFTPClient{ssh: client, sftp: sc}, nil
}

func (c *sshSFTPClient) Upload(ctx context.Context, remotePath string, content []byte) error {
	f, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("writing remote file %s: %w", remotePath, err)
	}
	return nil
}

// Alive is the test-on-acquire probe: a cheap stat of the SFTP root that
// fails fast if the underlying connection has gone away while idle.
func (c *sshSFTPClient) Alive() bool {
	_, err := c.sftp.Getwd()
	return err == nil
}

func (c *sshSFTPClient) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

// NewProductionDialer builds a Dialer bound to connTimeout, for passing to
// NewCachingSessionFactory.
func NewProductionDialer(connTimeout time.Duration) Dialer {
	return func(ctx context.Context, addr, username, password string) (SFTPClient, error) {
		return DialSFTP(addr, username, password, connTimeout)
	}
}
