// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package config

// FormatHelp describes the configuration document.
const FormatHelp = `config.yml format:

hosts:
  - name: web-1            # optional label used in logs
    ip: 10.0.0.11
    port: 22               # optional, defaults to 22
    username: deploy
    password: secret       # or private_key (+ passphrase)
    private_key: ~/.ssh/id_ed25519
    env:                   # exported before every RemoteCmd
      APP_ENV: production
tasks:
  - ScpTo:
      source: ./dist
      target: /opt/app
  - ScpFrom:
      source: /var/log/app.log
      target: ./logs
  - LocalCmd: echo "$config_file on $remote_host_num hosts"
  - RemoteCmd: sudo systemctl restart app

Tasks run in order. ScpTo, ScpFrom and RemoteCmd run on every host in
parallel and all hosts finish before the next task starts. LocalCmd runs
once on this machine with config_file and remote_host_num in its
environment.
`
