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

// Package sshkeys generates the one-time SSH key pairs a pipeline instance
// uses to reach its provisioned compute. Keys are generated fresh per
// instance and removed during cleanup.
package sshkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

const (
	keyBitSize     = 2048
	privateKeyType = "RSA PRIVATE KEY"

	// DefaultUser is the login user baked into instance metadata.
	DefaultUser = "ml-auto-solutions"
)

// KeyPair is a freshly generated SSH key pair. The private half never leaves
// the pipeline instance that generated it.
type KeyPair struct {
	PrivatePEM    []byte
	AuthorizedKey string
}

// Generate returns a new one-time RSA key pair.
func Generate() (*KeyPair, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, keyBitSize)
	if err != nil {
		return nil, errors.Wrap(err, "generating ssh key pair")
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyType,
		Bytes: x509.MarshalPKCS1PrivateKey(privKey),
	})

	pubKey, err := ssh.NewPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling ssh public key")
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pubKey)))

	return &KeyPair{
		PrivatePEM:    privPEM,
		AuthorizedKey: authorized,
	}, nil
}

// MetadataValue renders the public key in the "ssh-keys" instance metadata
// format expected by Compute Engine.
func (k *KeyPair) MetadataValue(user string) string {
	return fmt.Sprintf("%s:%s %s", user, k.AuthorizedKey, user)
}

// Signer parses the private key for use by an SSH client.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(k.PrivatePEM)
	if err != nil {
		return nil, errors.Wrap(err, "parsing generated private key")
	}
	return signer, nil
}
