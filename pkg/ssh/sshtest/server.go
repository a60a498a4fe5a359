// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

// Package sshtest provides an in-process SSH and SFTP server for tests. Exec
// requests are recorded and answered by a pluggable handler; SFTP requests are
// served from a local root directory.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// DefaultOutput is what the default handler prints for commands it does not
// simulate.
const DefaultOutput = "HI, i am handled\n"

// Exec is one command received by the server together with everything the
// client wrote to its stdin.
type Exec struct {
	Command string
	Stdin   []byte
}

// Handler answers an exec request.
type Handler func(cmd string, stdin []byte) (stdout, stderr string, status int)

// Server represents a local server instance
type Server struct {
	Logger *zap.Logger

	user     string
	password string
	rootDir  string
	signer   ssh.Signer
	listener net.Listener
	config   *ssh.ServerConfig

	mu              sync.Mutex
	running         bool
	execs           []Exec
	restrictedPaths map[string]bool
	handler         Handler
}

// NewServer creates a server for user that serves SFTP from rootDir. An empty
// password disables password authentication; public keys are accepted for
// user unconditionally.
func NewServer(user, password, rootDir string) (*Server, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Logger:          zap.NewNop(),
		user:            user,
		password:        password,
		rootDir:         rootDir,
		signer:          signer,
		restrictedPaths: make(map[string]bool),
	}
	s.handler = s.simulate

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if s.password != "" && c.User() == s.user && string(pass) == s.password {
				return nil, nil
			}
			return nil, fmt.Errorf("authentication failed")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, _ ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.user {
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	return s, nil
}

// Start listens on a random loopback port and serves connections until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running = true

	go s.acceptConnections()
	return nil
}

// Stop closes the listener. Established sessions are left to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("server is not running")
	}
	s.running = false
	return s.listener.Close()
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// PublicKey returns the server host key.
func (s *Server) PublicKey() ssh.PublicKey {
	return s.signer.PublicKey()
}

// RootDir returns the directory SFTP paths are resolved against.
func (s *Server) RootDir() string {
	return s.rootDir
}

// SetRestrictedPath makes SFTP reads and writes of path fail with permission
// denied, so clients have to go through sudo.
func (s *Server) SetRestrictedPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrictedPaths[strings.TrimPrefix(path, "/")] = true
}

// SetHandler replaces the exec handler.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Execs returns the exec requests received so far.
func (s *Server) Execs() []Exec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exec(nil), s.execs...)
}

// Commands returns the command lines received so far.
func (s *Server) Commands() []string {
	execs := s.Execs()
	cmds := make([]string, len(execs))
	for i, e := range execs {
		cmds[i] = e.Command
	}
	return cmds
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.isRunning() {
				return
			}
			s.Logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		s.Logger.Debug("handshake failed", zap.Error(err))
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.Logger.Warn("failed to accept channel", zap.Error(err))
			continue
		}

		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			// the client closes its side of stdin right after writing it
			stdin, _ := io.ReadAll(channel)

			s.mu.Lock()
			s.execs = append(s.execs, Exec{Command: payload.Command, Stdin: stdin})
			handler := s.handler
			s.mu.Unlock()

			stdout, stderr, status := handler(payload.Command, stdin)
			_, _ = io.WriteString(channel, stdout)
			_, _ = io.WriteString(channel.Stderr(), stderr)
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
			return

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			restricted := make(map[string]bool, len(s.restrictedPaths))
			for k, v := range s.restrictedPaths {
				restricted[k] = v
			}
			s.mu.Unlock()

			handlers := &fileHandlers{rootDir: s.rootDir, restrictedPaths: restricted}
			server := sftp.NewRequestServer(channel, sftp.Handlers{
				FileGet:  handlers,
				FilePut:  handlers,
				FileList: handlers,
				FileCmd:  handlers,
			})
			if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
				s.Logger.Warn("sftp server error", zap.Error(err))
			}
			return

		default:
			_ = req.Reply(false, nil)
		}
	}
}

// StripEnvPrefix removes the environment sourcing prefix from a command line.
func StripEnvPrefix(cmd string) string {
	const marker = "set +a; "
	if i := strings.Index(cmd, marker); i >= 0 {
		return cmd[i+len(marker):]
	}
	return cmd
}

// StripSudo removes a leading sudo and the flags used to feed it a password.
func StripSudo(cmd string) string {
	return strings.Join(withoutSudo(splitWords(cmd)), " ")
}

func withoutSudo(words []string) []string {
	if len(words) == 0 || words[0] != "sudo" {
		return words
	}
	words = words[1:]
	for len(words) > 0 && strings.HasPrefix(words[0], "-") {
		switch {
		case words[0] == "-p" && len(words) > 1:
			words = words[2:]
		case words[0] == "-S" || words[0] == "-n":
			words = words[1:]
		default:
			return words
		}
	}
	return words
}

// splitWords splits a command line the way a POSIX shell splits simple
// words: single quotes group, a backslash outside quotes escapes the next
// character.
func splitWords(cmd string) []string {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
	)
	for _, r := range cmd {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted:
			if r == '\'' {
				quoted = false
			} else {
				cur.WriteRune(r)
			}
		case r == '\'':
			quoted, inWord = true, true
		case r == '\\':
			escaped, inWord = true, true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

// simulate is the default handler. It writes the environment file, and
// performs mv, cp and rm inside the root directory.
func (s *Server) simulate(cmd string, stdin []byte) (string, string, int) {
	cmd = StripEnvPrefix(cmd)

	if strings.HasPrefix(cmd, "umask 077 && cat > ") {
		if err := os.WriteFile(filepath.Join(s.rootDir, ".parallelrun_env"), stdin, 0o600); err != nil {
			return "", err.Error(), 1
		}
		return "", "", 0
	}

	parts := withoutSudo(splitWords(cmd))
	switch {
	case len(parts) >= 3 && parts[0] == "mv":
		src := filepath.Join(s.rootDir, parts[1])
		dst := filepath.Join(s.rootDir, parts[2])
		_ = os.MkdirAll(filepath.Dir(dst), 0o755)
		if err := os.Rename(src, dst); err != nil {
			return "", err.Error(), 1
		}
	case len(parts) >= 3 && parts[0] == "cp":
		srcIdx, dstIdx := 1, 2
		if parts[1] == "-p" {
			srcIdx, dstIdx = 2, 3
		}
		if len(parts) <= dstIdx {
			return "", "cp: missing operand", 1
		}
		src := filepath.Join(s.rootDir, parts[srcIdx])
		dst := filepath.Join(s.rootDir, parts[dstIdx])
		_ = os.MkdirAll(filepath.Dir(dst), 0o755)
		data, err := os.ReadFile(src)
		if err != nil {
			return "", err.Error(), 1
		}
		perm := os.FileMode(0o644)
		if info, err := os.Stat(src); err == nil {
			perm = info.Mode().Perm()
		}
		if err := os.WriteFile(dst, data, perm); err != nil {
			return "", err.Error(), 1
		}
	case len(parts) >= 2 && parts[0] == "rm":
		_ = os.Remove(filepath.Join(s.rootDir, parts[len(parts)-1]))
	}
	return DefaultOutput, "", 0
}

// GenerateKeyFile writes a new unencrypted ed25519 private key in OpenSSH
// format to dir and returns its path.
func GenerateKeyFile(dir string) (string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "id_test")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// fileHandlers implements sftp.Handlers with a custom root directory
type fileHandlers struct {
	rootDir         string
	restrictedPaths map[string]bool
}

func (h *fileHandlers) restricted(p string) bool {
	return h.restrictedPaths[strings.TrimPrefix(p, "/")]
}

func (h *fileHandlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	if h.restricted(r.Filepath) {
		return nil, &sftp.StatusError{Code: uint32(sftp.ErrSshFxPermissionDenied)}
	}
	return os.Open(filepath.Join(h.rootDir, r.Filepath))
}

func (h *fileHandlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	if h.restricted(r.Filepath) {
		return nil, &sftp.StatusError{Code: uint32(sftp.ErrSshFxPermissionDenied)}
	}

	path := filepath.Join(h.rootDir, r.Filepath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func (h *fileHandlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	path := filepath.Join(h.rootDir, r.Filepath)

	switch r.Method {
	case "List":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		var infos []os.FileInfo
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		return listerat(infos), nil

	case "Stat":
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return listerat([]os.FileInfo{info}), nil

	case "Lstat":
		info, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}
		return listerat([]os.FileInfo{info}), nil

	default:
		return nil, fmt.Errorf("unsupported list command: %s", r.Method)
	}
}

func (h *fileHandlers) Filecmd(r *sftp.Request) error {
	path := filepath.Join(h.rootDir, r.Filepath)

	switch r.Method {
	case "Remove":
		return os.Remove(path)
	case "Rename":
		return os.Rename(path, filepath.Join(h.rootDir, r.Target))
	case "Mkdir":
		return os.Mkdir(path, 0o755)
	case "Rmdir":
		return os.Remove(path)
	case "Setstat":
		return nil
	default:
		return fmt.Errorf("unsupported file command: %s", r.Method)
	}
}

// listerat implements sftp.ListerAt for a slice of os.FileInfo
type listerat []os.FileInfo

func (l listerat) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}

	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}
