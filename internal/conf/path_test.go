// Copyright 2025 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAbsolutePath(t *testing.T) {
	tests := []struct {
		r string
		a string
	}{
		{
			r: "etc/oort.yaml",
			a: "/etc/oort/oort.yaml",
		}, {
			r: "data/",
			a: "/var/lib/oort/data/",
		}, {
			r: logDir,
			a: "/var/log/oort",
		},
	}
	for i, tt := range tests {
		aa, err := absolutePath(tt.r)
		if err != nil {
			t.Errorf("error: %v", err)
		} else {
			if !(tt.a == aa) {
				t.Errorf("%d result mismatch:\n\nexp=%#v\n\ngot=%#v\n\n", i, tt.a, aa)
			}
		}
	}

	_, err := absolutePath("nosuch/dir")
	require.Error(t, err)
}

func TestGetDataLoc_Funcs(t *testing.T) {
	IsTesting = true
	defer func() {
		IsTesting = false
	}()
	wd, err := os.Getwd()
	require.NoError(t, err)
	root := filepath.Join(wd, "..", "..")
	d, err := GetDataLoc()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "data", "test"), d)
}

func TestGetLocUnknownMode(t *testing.T) {
	old := LoadFileType
	defer func() {
		LoadFileType = old
	}()
	LoadFileType = "bogus"
	_, err := GetLoc(etcDir)
	require.Error(t, err)
}
