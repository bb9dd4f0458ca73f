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

package shell

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{
			name: "plain words",
			line: "python3 gpt1-like.py",
			want: []string{"python3", "gpt1-like.py"},
		},
		{
			name: "double quoted argument",
			line: `bash -c "echo hello world"`,
			want: []string{"bash", "-c", "echo hello world"},
		},
		{
			name: "single quotes preserve backslash",
			line: `printf '%s\n' done`,
			want: []string{"printf", `%s\n`, "done"},
		},
		{
			name: "escaped space outside quotes",
			line: `cat /tmp/my\ file`,
			want: []string{"cat", "/tmp/my file"},
		},
		{
			name: "collapses repeated whitespace",
			line: "  nvidia-smi   --query  ",
			want: []string{"nvidia-smi", "--query"},
		},
		{
			name: "empty line",
			line: "",
			want: nil,
		},
		{
			name:    "unterminated quote",
			line:    `echo "oops`,
			wantErr: true,
		},
		{
			name:    "trailing backslash",
			line:    `echo oops\`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Split(%q) expected error, got %v", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Split(%q) failed: %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Split(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestRandomString(t *testing.T) {
	got := RandomString(8)
	if len(got) != 8 {
		t.Errorf("RandomString(8) returned %q with length %d", got, len(got))
	}
	for _, r := range got {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			t.Errorf("RandomString(8) returned %q with invalid rune %q", got, r)
		}
	}
}
