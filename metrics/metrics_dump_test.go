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

package metrics

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractFileTime(t *testing.T) {
	m := &MetricsDumpManager{
		regex: regexp.MustCompile(`^metrics\.(\d{4})(\d{2})(\d{2})-(\d{2})\.log$`),
	}

	ft, err := m.extractFileTime("metrics.20250107-13.log")
	require.NoError(t, err)
	expected := time.Date(2025, 1, 7, 13, 0, 0, 0, time.Local)
	require.Equal(t, expected, ft)

	_, err = m.extractFileTime("metrics.log")
	require.Error(t, err)
	_, err = m.extractFileTime("other.20250107-13.log")
	require.Error(t, err)
}

func TestNeedGCFile(t *testing.T) {
	m := &MetricsDumpManager{
		regex: regexp.MustCompile(`^metrics\.(\d{4})(\d{2})(\d{2})-(\d{2})\.log$`),
	}

	gcTime := time.Date(2025, 1, 7, 13, 0, 0, 0, time.Local)
	needGC, err := m.needGCFile("metrics.20250107-12.log", gcTime)
	require.NoError(t, err)
	require.True(t, needGC)

	needGC, err = m.needGCFile("metrics.20250107-14.log", gcTime)
	require.NoError(t, err)
	require.False(t, needGC)

	_, err = m.needGCFile("garbage.log", gcTime)
	require.Error(t, err)
}

func TestIsFileIncludeMetricsTime(t *testing.T) {
	fileTime := time.Date(2025, 1, 7, 13, 0, 0, 0, time.Local)
	require.True(t, isFileIncludeMetricsTime(fileTime, fileTime.Add(30*time.Minute)))
	require.False(t, isFileIncludeMetricsTime(fileTime, fileTime.Add(2*time.Hour)))
	require.False(t, isFileIncludeMetricsTime(fileTime, fileTime.Add(-time.Minute)))
}
