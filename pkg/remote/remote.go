// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package remote executes test scripts on provisioned endpoints over SSH.
package remote

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/sshkeys"
)

// Executor runs a script on one or all workers of an endpoint. Backends
// depend on this interface so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, keys *sshkeys.KeyPair, addrs []string, script string, allWorkers bool, env map[string]string) error
}

// Client is the SSH-backed Executor.
type Client struct {
	User        string
	DialTimeout time.Duration
}

// NewClient returns a Client with the default login user.
func NewClient() *Client {
	return &Client{User: sshkeys.DefaultUser, DialTimeout: 30 * time.Second}
}

// Execute runs script on worker 0, or on every worker when allWorkers is
// set. Env entries are exported ahead of the script body.
func (c *Client) Execute(ctx context.Context, keys *sshkeys.KeyPair, addrs []string, script string, allWorkers bool, env map[string]string) error {
	if len(addrs) == 0 {
		return errors.New("no worker addresses to execute on")
	}
	workers := addrs[:1]
	if allWorkers {
		workers = addrs
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, addr := range workers {
		addr := addr
		g.Go(func() error {
			return c.executeOn(ctx, keys, addr, script, env)
		})
	}
	return g.Wait()
}

func (c *Client) executeOn(ctx context.Context, keys *sshkeys.KeyPair, addr, script string, env map[string]string) error {
	signer, err := keys.Signer()
	if err != nil {
		return err
	}

	cfg := &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.DialTimeout,
	}

	hostPort := addr
	if !strings.Contains(addr, ":") {
		hostPort = net.JoinHostPort(addr, "22")
	}

	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", hostPort)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "ssh handshake with %s", hostPort)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrapf(err, "opening ssh session on %s", hostPort)
	}
	defer session.Close()

	logging.Debug("Executing script on %s", hostPort)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(WrapScript(script, env))
	}()
	select {
	case <-ctx.Done():
		// Best effort: the session is torn down with the client.
		return ctx.Err()
	case err := <-done:
		return errors.Wrapf(err, "script execution on %s", hostPort)
	}
}

// WrapScript prefixes env exports onto a script body so remote shells see
// the runner's environment contract. Exports are emitted in sorted order so
// the wrapped command is deterministic.
func WrapScript(script string, env map[string]string) string {
	if len(env) == 0 {
		return script
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, env[k])
	}
	b.WriteString(script)
	return b.String()
}
