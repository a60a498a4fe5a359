// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// Auth represents ssh auth methods.
type Auth []ssh.AuthMethod

// configureAuth offers the private key first when one is configured and
// falls back to the password. The password is also kept for sudo, so hosts
// often carry both.
func configureAuth(password, privateKeyFile, passphrase string) (Auth, error) {
	var auth Auth
	if privateKeyFile != "" {
		keyAuth, err := PrivateKey(privateKeyFile, passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, keyAuth...)
	}
	if password != "" {
		auth = append(auth, Password(password)...)
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no private key/password found to configure SSH auth")
	}
	return auth, nil
}

// Password returns password auth method. Servers that only enable
// keyboard-interactive authentication get the same password for every
// question.
func Password(pass string) Auth {
	return Auth{
		ssh.Password(pass),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = pass
			}
			return answers, nil
		}),
	}
}

// PrivateKey returns auth method from private key with or without passphrase.
func PrivateKey(prvFile string, passphrase string) (Auth, error) {
	signer, err := getSigner(prvFile, passphrase)
	if err != nil {
		return nil, err
	}
	return Auth{
		ssh.PublicKeys(signer),
	}, nil
}

// getSigner returns ssh signer from private key file.
func getSigner(prvFile string, passphrase string) (ssh.Signer, error) {
	var (
		err    error
		signer ssh.Signer
	)
	privateKey, err := os.ReadFile(prvFile)
	if err != nil {
		return nil, fmt.Errorf("could not read private key: %w", err)
	}
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	return signer, err
}
