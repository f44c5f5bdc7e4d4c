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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/cluster"
	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/coordinator"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/internal/pkg/store/definition"
	"github.com/lf-edge/oort/internal/runtime"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/pkg/protocol"
)

type RestTestSuite struct {
	suite.Suite
	r      *mux.Router
	cancel context.CancelFunc
}

func (suite *RestTestSuite) SetupTest() {
	conf.Config = &conf.OortConf{
		Barrier: &conf.BarrierConf{
			IntervalMs:          20,
			CheckpointFrequency: 1,
			InFlightNums:        10,
			EnableRecovery:      true,
		},
		Recovery: &conf.RecoveryConf{
			RetryInitialMs: 5,
			RetryMaxMs:     50,
		},
	}
	err := store.Setup(definition.Config{
		Type: "sqlite",
		Sqlite: definition.SqliteConfig{
			Path: suite.T().TempDir(),
			Name: "rest.db",
		},
	})
	require.NoError(suite.T(), err)

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	workerCtx = ctx
	registry = cluster.NewRegistry()
	pool = coordinator.NewClientPool()
	localWorkers = make(map[protocol.WorkerID]*runtime.Worker)
	workerEngines = make(map[protocol.WorkerID]storage.Engine)
	for i := 0; i < 2; i++ {
		_, err := addLocalWorker(2)
		require.NoError(suite.T(), err)
	}
	cat, err = catalog.New()
	require.NoError(suite.T(), err)
	coord = coordinator.New(cat, registry, storage.NewMemoryEngine(), pool, coordinator.SystemParams{
		BarrierIntervalMs:   20,
		CheckpointFrequency: 1,
		InFlightBarrierNums: 10,
		EnableRecovery:      true,
	})
	go coord.Run()
	require.Eventually(suite.T(), func() bool {
		return coord.Status() == coordinator.StatusRunning
	}, 10*time.Second, 10*time.Millisecond)

	version = "test"
	startTimeStamp = time.Now().Unix()
	stopSignal = make(chan struct{}, 1)
	suite.r = createRouter()
}

func (suite *RestTestSuite) TearDownTest() {
	coord.Stop()
	suite.cancel()
	stopLocalWorkers()
}

func (suite *RestTestSuite) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	w := httptest.NewRecorder()
	suite.r.ServeHTTP(w, req)
	return w
}

func (suite *RestTestSuite) Test_rootHandler() {
	w := suite.do(http.MethodGet, "/", nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	info := information{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(suite.T(), "test", info.Version)
}

func (suite *RestTestSuite) Test_pingHandler() {
	w := suite.do(http.MethodGet, "/ping", nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *RestTestSuite) Test_statusHandler() {
	w := suite.do(http.MethodGet, "/status", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	st := serverStatus{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(suite.T(), "running", st.Status)
	assert.Equal(suite.T(), "not_paused", st.PausedReason)
}

func (suite *RestTestSuite) Test_flushHandler() {
	w := suite.do(http.MethodPost, "/flush", []byte(`{"checkpoint":true}`))
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	result := struct {
		CommittedEpoch uint64 `json:"committedEpoch"`
	}{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &result))
	assert.Greater(suite.T(), result.CommittedEpoch, uint64(0))
}

func (suite *RestTestSuite) Test_pauseResumeHandler() {
	w := suite.do(http.MethodPost, "/pause", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodGet, "/status", nil)
	st := serverStatus{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(suite.T(), "manual", st.PausedReason)

	w = suite.do(http.MethodPost, "/resume", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodGet, "/status", nil)
	st = serverStatus{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(suite.T(), "not_paused", st.PausedReason)
}

func (suite *RestTestSuite) Test_paramsHandler() {
	w := suite.do(http.MethodGet, "/params", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	p := coordinator.SystemParams{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(suite.T(), 1, p.CheckpointFrequency)

	w = suite.do(http.MethodPatch, "/params", []byte(`{"checkpointFrequency":5}`))
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(suite.T(), 5, p.CheckpointFrequency)

	// Bad values are rejected with the config error code.
	w = suite.do(http.MethodPatch, "/params", []byte(`{"checkpointFrequency":-1}`))
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *RestTestSuite) Test_jobLifecycle() {
	w := suite.do(http.MethodPost, "/jobs", []byte(`{"name":"mv_orders","parallelism":2}`))
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	created := jobInfo{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(suite.T(), "mv_orders", created.Name)
	assert.Equal(suite.T(), 2, created.Actors)
	assert.Equal(suite.T(), "created", created.State)

	w = suite.do(http.MethodGet, "/jobs", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var jobs []jobInfo
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(suite.T(), jobs, 1)

	w = suite.do(http.MethodGet, fmt.Sprintf("/jobs/%d", created.ID), nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	w = suite.do(http.MethodDelete, fmt.Sprintf("/jobs/%d", created.ID), nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodGet, fmt.Sprintf("/jobs/%d", created.ID), nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *RestTestSuite) Test_jobValidation() {
	w := suite.do(http.MethodPost, "/jobs", []byte(`{"parallelism":2}`))
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/jobs", []byte(`{"name":"mv","parallelism":0}`))
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodGet, "/jobs/notanumber", nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodDelete, "/jobs/404", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *RestTestSuite) Test_workersHandler() {
	w := suite.do(http.MethodGet, "/workers", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var ws []workerInfo
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &ws))
	require.Len(suite.T(), ws, 2)

	w = suite.do(http.MethodPost, "/workers", []byte(`{"slots":4}`))
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())

	w = suite.do(http.MethodGet, "/workers", nil)
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &ws))
	assert.Len(suite.T(), ws, 3)
}

func (suite *RestTestSuite) Test_ddlProgressHandler() {
	w := suite.do(http.MethodGet, "/ddl/progress", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var progress []coordinator.DDLProgress
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Empty(suite.T(), progress)
}

func (suite *RestTestSuite) Test_dumpMetricsHandler() {
	// dump job not enabled in tests
	w := suite.do(http.MethodGet, "/metrics/dump", nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *RestTestSuite) Test_stopHandler() {
	w := suite.do(http.MethodPost, "/stop", nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	select {
	case <-stopSignal:
	case <-time.After(time.Second):
		suite.T().Fatal("stop signal not delivered")
	}
}

func TestRestTestSuite(t *testing.T) {
	suite.Run(t, new(RestTestSuite))
}
