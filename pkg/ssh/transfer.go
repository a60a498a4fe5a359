// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
)

// makeTempPath generates temporary file location
func makeTempPath(basePath string) string {
	return path.Join("/tmp", fmt.Sprintf("parallelrun_%s_%s", uuid.NewString(), path.Base(filepath.ToSlash(basePath))))
}

// IsRecursive reports whether a transfer of a source with this mode walks a
// tree rather than copying a single file.
func IsRecursive(mode fs.FileMode) bool {
	return !mode.IsRegular()
}

// Upload copies localPath to remotePath. A regular file is copied as is; a
// directory is copied recursively. If remotePath is an existing directory
// the source is placed inside it under its own base name.
func (c *Client) Upload(ctx context.Context, localPath string, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	ftp, err := c.newSftp()
	if err != nil {
		return err
	}
	defer ftp.Close()

	dst := remotePath
	if st, err := ftp.Stat(remotePath); err == nil && st.IsDir() {
		dst = path.Join(remotePath, filepath.Base(localPath))
	}

	if !IsRecursive(info.Mode()) {
		return c.uploadFile(ctx, ftp, localPath, dst, info.Mode())
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is neither a regular file nor a directory", localPath)
	}
	return c.uploadTree(ctx, ftp, localPath, dst)
}

// uploadTree copies localDir below remoteDir. Symlinks to regular files are
// followed. Entries that cannot be copied as a file do not stop the walk;
// they are reported together once the rest of the tree is copied.
func (c *Client) uploadTree(ctx context.Context, ftp *sftp.Client, localDir, remoteDir string) error {
	var skipped []error
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		if d.IsDir() {
			return ftp.MkdirAll(target)
		}
		// os.Stat follows symlinks, d.Info does not
		info, err := os.Stat(p)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("skipped %s: %w", p, err))
			return nil
		}
		if !info.Mode().IsRegular() {
			skipped = append(skipped, fmt.Errorf("skipped %s: not a regular file (%s)", p, info.Mode().Type()))
			return nil
		}
		return c.uploadFile(ctx, ftp, p, target, info.Mode())
	})
	if err != nil {
		return err
	}
	return errors.Join(skipped...)
}

func (c *Client) uploadFile(ctx context.Context, ftp *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	if err := c.sftpUpload(ftp, localPath, remotePath, mode); err != nil {
		if isPermissionDenied(err) {
			return c.sudoUpload(ctx, ftp, localPath, remotePath, mode)
		}
		return err
	}
	return nil
}

func (c *Client) sftpUpload(ftp *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, err := ftp.Create(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	if _, err = io.Copy(remote, local); err != nil {
		return err
	}

	// Set remote file mode to match local file permissions
	return remote.Chmod(mode)
}

func (c *Client) sudoUpload(ctx context.Context, ftp *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	// To handle permission denied errors, we first upload the file to a temporary location
	// on the remote server, and then use sudo to move it to the final destination and set permissions.
	tempPath := makeTempPath(localPath)

	if err := c.sftpUpload(ftp, localPath, tempPath, mode); err != nil {
		return fmt.Errorf("failed to upload to temp path %s: %w", tempPath, err)
	}
	// ensure temporary file is cleaned up
	defer c.privileged(context.WithoutCancel(ctx), "sudo rm -f "+shellQuote(tempPath))

	if err := c.privileged(ctx, fmt.Sprintf("sudo mv %s %s", shellQuote(tempPath), shellQuote(remotePath))); err != nil {
		return fmt.Errorf("failed to sudo mv from %s to %s: %w", tempPath, remotePath, err)
	}

	if err := c.privileged(ctx, fmt.Sprintf("sudo chmod %o %s", mode.Perm(), shellQuote(remotePath))); err != nil {
		return fmt.Errorf("failed to sudo chmod on %s: %w", remotePath, err)
	}

	return nil
}

// Download copies remotePath to localPath, recursively when remotePath is a
// directory. If localPath is an existing directory the source is placed
// inside it under its own base name.
func (c *Client) Download(ctx context.Context, remotePath string, localPath string) error {
	ftp, err := c.newSftp()
	if err != nil {
		return err
	}
	defer ftp.Close()

	info, err := ftp.Stat(remotePath)
	if err != nil {
		return err
	}

	dst := localPath
	if st, err := os.Stat(localPath); err == nil && st.IsDir() {
		dst = filepath.Join(localPath, path.Base(remotePath))
	}

	if !IsRecursive(info.Mode()) {
		return c.downloadFile(ctx, ftp, remotePath, dst)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is neither a regular file nor a directory", remotePath)
	}
	return c.downloadTree(ctx, ftp, remotePath, dst)
}

// downloadTree copies remoteDir below localDir with the same rules as
// uploadTree.
func (c *Client) downloadTree(ctx context.Context, ftp *sftp.Client, remoteDir, localDir string) error {
	var skipped []error
	root := path.Clean(remoteDir)
	walker := ftp.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(path.Clean(walker.Path()), root), "/")
		target := filepath.Join(localDir, filepath.FromSlash(rel))

		info := walker.Stat()
		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			resolved, err := ftp.Stat(walker.Path())
			if err != nil {
				skipped = append(skipped, fmt.Errorf("skipped %s: %w", walker.Path(), err))
				continue
			}
			info = resolved
		}
		if !info.Mode().IsRegular() {
			skipped = append(skipped, fmt.Errorf("skipped %s: not a regular file (%s)", walker.Path(), info.Mode().Type()))
			continue
		}
		if err := c.downloadFile(ctx, ftp, walker.Path(), target); err != nil {
			return err
		}
	}
	return errors.Join(skipped...)
}

func (c *Client) downloadFile(ctx context.Context, ftp *sftp.Client, remotePath, localPath string) error {
	if err := c.sftpDownload(ftp, remotePath, localPath); err != nil {
		if isPermissionDenied(err) {
			return c.sudoDownload(ctx, ftp, remotePath, localPath)
		}
		return err
	}
	return nil
}

func (c *Client) sftpDownload(ftp *sftp.Client, remotePath string, localPath string) error {
	remote, err := ftp.Open(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	// Stat to retrieve remote file permissions
	remoteFileInfo, err := remote.Stat()
	if err != nil {
		return err
	}

	local, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	if _, err = io.Copy(local, remote); err != nil {
		return err
	}

	// set local file permissions to match remote file
	if err = local.Chmod(remoteFileInfo.Mode()); err != nil {
		return err
	}

	return local.Sync()
}

func (c *Client) sudoDownload(ctx context.Context, ftp *sftp.Client, remotePath string, localPath string) error {
	// To handle permission denied errors, we first copy the file to a temporary location
	// on the remote server using sudo, change its ownership to the current user,
	// then download it, and finally clean up the temporary file.
	tempPath := makeTempPath(remotePath)

	// Copy to temp path with sudo, preserving permissions
	if err := c.privileged(ctx, fmt.Sprintf("sudo cp -p %s %s", shellQuote(remotePath), shellQuote(tempPath))); err != nil {
		return fmt.Errorf("failed to sudo cp to %s: %w", tempPath, err)
	}
	defer c.privileged(context.WithoutCancel(ctx), "sudo rm -f "+shellQuote(tempPath))

	// Change ownership to the current user so we can download it
	if err := c.privileged(ctx, fmt.Sprintf("sudo chown %s %s", shellQuote(c.Client.User()), shellQuote(tempPath))); err != nil {
		return fmt.Errorf("failed to sudo chown on %s: %w", tempPath, err)
	}

	// Download from temp path (sftpDownload will preserve permissions from temp file)
	return c.sftpDownload(ftp, tempPath, localPath)
}

// privileged runs a sudo command line without the environment prefix and
// turns a nonzero exit status into an error.
func (c *Client) privileged(ctx context.Context, cmd string) error {
	line, stdin := c.prepare(cmd)
	res, err := c.Exec(ctx, line, stdin)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("exit status %d: %s", res.ExitStatus, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func isPermissionDenied(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == uint32(sftp.ErrSshFxPermissionDenied) {
			return true
		}
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "ssh_fx_permission_denied")
}
