package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpDialTimeout bounds the TCP connect and SSH handshake.
const sftpDialTimeout = 30 * time.Second

// defaultIdentityNames are tried under ~/.ssh when no identity file is set.
var defaultIdentityNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// SFTPTransfer copies files over an SSH connection using the SFTP subsystem,
// without an external binary. Each transfer opens its own connection.
type SFTPTransfer struct {
	hostKeys    ssh.HostKeyCallback
	signers     []ssh.Signer
	agentSocket string
	dialer      net.Dialer
}

// NewSFTPTransfer loads host keys from knownHostsPath (default
// ~/.ssh/known_hosts) and private keys from identityFiles. With no identity
// files the usual ~/.ssh keys are used when present. A running ssh-agent
// (SSH_AUTH_SOCK) is consulted in addition to the loaded keys.
func NewSFTPTransfer(knownHostsPath string, identityFiles []string) (*SFTPTransfer, error) {
	home, _ := os.UserHomeDir()

	if knownHostsPath == "" {
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	hostKeys, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("sync: loading known hosts %s: %w", knownHostsPath, err)
	}

	s := &SFTPTransfer{
		hostKeys:    hostKeys,
		agentSocket: os.Getenv("SSH_AUTH_SOCK"),
		dialer:      net.Dialer{Timeout: sftpDialTimeout},
	}

	explicit := len(identityFiles) > 0
	if !explicit {
		for _, name := range defaultIdentityNames {
			identityFiles = append(identityFiles, filepath.Join(home, ".ssh", name))
		}
	}

	for _, path := range identityFiles {
		signer, err := loadSigner(path)
		if err != nil {
			if !explicit {
				continue
			}

			return nil, err
		}

		s.signers = append(s.signers, signer)
	}

	if len(s.signers) == 0 && s.agentSocket == "" {
		return nil, errors.New("sync: sftp transport has no identity files and no ssh-agent")
	}

	return s, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sync: reading identity %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("sync: identity %s is passphrase-protected, add it to ssh-agent instead", path)
		}

		return nil, fmt.Errorf("sync: parsing identity %s: %w", path, err)
	}

	return signer, nil
}

// Transfer uploads localPath to dst.Path, truncating any existing remote file.
// Failures are reported with exit code 1 and the error.
func (s *SFTPTransfer) Transfer(ctx context.Context, localPath string, dst Destination) (TransferResult, error) {
	n, err := s.upload(ctx, localPath, dst)
	if err != nil {
		return TransferResult{ExitCode: 1}, err
	}

	return TransferResult{Output: fmt.Sprintf("%d bytes written to %s", n, dst)}, nil
}

func (s *SFTPTransfer) upload(ctx context.Context, localPath string, dst Destination) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("sync: opening %s: %w", localPath, err)
	}
	defer src.Close()

	auth, closeAgent := s.authMethods()
	defer closeAgent()

	addr := net.JoinHostPort(dst.Host, strconv.Itoa(dst.Port))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("sync: dialing %s: %w", addr, err)
	}

	// Closing the socket is the only way to interrupt a blocked SSH read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            dst.User,
		Auth:            auth,
		HostKeyCallback: s.hostKeys,
		Timeout:         sftpDialTimeout,
	})
	if err != nil {
		conn.Close()
		return 0, fmt.Errorf("sync: ssh handshake with %s: %w", addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return 0, fmt.Errorf("sync: starting sftp session on %s: %w", addr, err)
	}
	defer sc.Close()

	f, err := sc.Create(dst.Path)
	if err != nil {
		return 0, fmt.Errorf("sync: creating remote %s: %w", dst.Path, err)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("sync: writing remote %s: %w", dst.Path, err)
	}

	if err := f.Close(); err != nil {
		return n, fmt.Errorf("sync: closing remote %s: %w", dst.Path, err)
	}

	return n, nil
}

// authMethods returns the loaded keys plus the ssh-agent, if reachable. The
// returned func releases the agent connection.
func (s *SFTPTransfer) authMethods() ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod

	if len(s.signers) > 0 {
		methods = append(methods, ssh.PublicKeys(s.signers...))
	}

	if s.agentSocket == "" {
		return methods, func() {}
	}

	agentConn, err := net.Dial("unix", s.agentSocket)
	if err != nil {
		return methods, func() {}
	}

	methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))

	return methods, func() { agentConn.Close() }
}
