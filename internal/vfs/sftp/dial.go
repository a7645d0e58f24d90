package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const dialTimeout = 15 * time.Second

// DialSSH connects over SSH with password and/or key authentication.
func DialSSH(ctx context.Context, h Host) (*sftp.Client, io.Closer, error) {
	config, err := clientConfig(h)
	if err != nil {
		return nil, nil, err
	}
	addr := h.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	// The handshake has no context; a deadline bounds it instead
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("start sftp on %s: %w", addr, err)
	}
	return client, sshClient, nil
}

func clientConfig(h Host) (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    h.User,
		Timeout: dialTimeout,
	}
	if h.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(h.Password))
	}
	if h.KeyFile != "" {
		key, err := os.ReadFile(h.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", h.KeyFile, err)
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}
	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("host %s has no password or key", h.Address)
	}

	if h.KnownHosts != "" {
		callback, err := knownhosts.New(h.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return config, nil
}
