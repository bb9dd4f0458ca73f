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

package sshkeys

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	keys, err := Generate()
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if !strings.HasPrefix(keys.AuthorizedKey, "ssh-rsa ") {
		t.Errorf("authorized key %q is not an ssh-rsa entry", keys.AuthorizedKey)
	}
	if strings.ContainsRune(keys.AuthorizedKey, '\n') {
		t.Error("authorized key contains a newline")
	}
	if _, err := keys.Signer(); err != nil {
		t.Errorf("Signer() failed on generated key: %v", err)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if a.AuthorizedKey == b.AuthorizedKey {
		t.Error("two generated key pairs are identical")
	}
}

func TestMetadataValue(t *testing.T) {
	keys, err := Generate()
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	val := keys.MetadataValue("ml-auto-solutions")
	if !strings.HasPrefix(val, "ml-auto-solutions:ssh-rsa ") {
		t.Errorf("metadata value %q has unexpected shape", val)
	}
	if !strings.HasSuffix(val, " ml-auto-solutions") {
		t.Errorf("metadata value %q missing trailing user comment", val)
	}
}
