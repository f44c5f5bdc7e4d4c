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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lf-edge/oort/internal/coordinator"
	"github.com/lf-edge/oort/pkg/cast"
	"github.com/lf-edge/oort/pkg/errorx"
	"github.com/lf-edge/oort/pkg/protocol"
)

const (
	ContentType     = "Content-Type"
	ContentTypeJSON = "application/json"

	restCommandTimeout = time.Minute
)

// Handle applies the specified error and error concept to the HTTP response writer
func handleError(w http.ResponseWriter, err error, prefix string, logger *logrus.Logger) {
	message := prefix
	if message != "" {
		message += ": "
	}
	message += err.Error()
	logger.Error(message)
	var ec int
	switch e := err.(type) {
	case *errorx.Error:
		switch e.Code() {
		case errorx.NOT_FOUND:
			ec = http.StatusNotFound
		default:
			ec = http.StatusBadRequest
		}
	default:
		ec = http.StatusBadRequest
	}

	http.Error(w, packageInternalErrorCode(err, message), ec)
}

func packageInternalErrorCode(err error, msg string) string {
	errCode := errorx.Undefined_Err
	if errWithCode, ok := err.(errorx.ErrorWithCode); ok {
		errCode = errWithCode.Code()
	}
	return fmt.Sprintf(`{"error":%v,"message":%q}`, errCode, msg)
}

func jsonResponse(i interface{}, w http.ResponseWriter, logger *logrus.Logger) {
	w.Header().Add(ContentType, ContentTypeJSON)

	jsonByte, err := json.Marshal(i)
	if err != nil {
		handleError(w, err, "", logger)
		return
	}
	w.Header().Add("Content-Length", strconv.Itoa(len(jsonByte)))

	_, err = w.Write(jsonByte)
	if err != nil {
		logger.Errorf("error writing response: %v", err)
	}
}

func createRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", rootHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)
	r.HandleFunc("/stop", stopHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/status", statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/flush", flushHandler).Methods(http.MethodPost)
	r.HandleFunc("/pause", pauseHandler).Methods(http.MethodPost)
	r.HandleFunc("/resume", resumeHandler).Methods(http.MethodPost)
	r.HandleFunc("/params", paramsHandler).Methods(http.MethodGet, http.MethodPatch)
	r.HandleFunc("/ddl/progress", ddlProgressHandler).Methods(http.MethodGet)
	r.HandleFunc("/jobs", jobsHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/jobs/{id}", jobHandler).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/jobs/{id}/cancel", jobCancelHandler).Methods(http.MethodPost)
	r.HandleFunc("/workers", workersHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/metrics/dump", dumpMetricsHandler).Methods(http.MethodGet)
	return r
}

func createRestServer(ip string, port int) *http.Server {
	r := createRouter()
	for k, v := range servers {
		logger.Infof("bind rest endpoints of service %s", k)
		v.rest(r)
	}

	server := &http.Server{
		Addr: cast.JoinHostPortInt(ip, port),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 60 * 5,
		ReadTimeout:  time.Second * 60 * 5,
		IdleTimeout:  time.Second * 60,
		Handler:      handlers.CORS(handlers.AllowedHeaders([]string{"Accept", "Accept-Language", "Content-Type", "Content-Language", "Origin", "Authorization"}), handlers.AllowedMethods([]string{"POST", "GET", "PUT", "DELETE", "HEAD"}))(r),
	}
	server.SetKeepAlivesEnabled(false)
	return server
}

type information struct {
	Version       string `json:"version"`
	Os            string `json:"os"`
	Arch          string `json:"arch"`
	UpTimeSeconds int64  `json:"upTimeSeconds"`
}

func stopHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		stopOort()
		w.Write([]byte("stop success"))
	}
}

// The handler for root
func rootHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		w.WriteHeader(http.StatusOK)
		info := new(information)
		info.Version = version
		info.UpTimeSeconds = time.Now().Unix() - startTimeStamp
		info.Os = runtime.GOOS
		info.Arch = runtime.GOARCH
		byteInfo, _ := json.Marshal(info)
		w.Write(byteInfo)
	}
}

func pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type serverStatus struct {
	Status              string `json:"status"`
	CommittedEpoch      uint64 `json:"committedEpoch"`
	CommittedPhysicalMs int64  `json:"committedPhysicalMs"`
	PausedReason        string `json:"pausedReason"`
	QueuedBarriers      int    `json:"queuedBarriers"`
	InFlightBarriers    int    `json:"inFlightBarriers"`
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	st := serverStatus{
		Status:         coord.Status().String(),
		QueuedBarriers: coord.Scheduler().QueueLen(),
	}
	epoch := coord.CommittedEpoch()
	st.CommittedEpoch = uint64(epoch)
	st.CommittedPhysicalMs = epoch.Physical()
	ctx, cancel := requestContext(r)
	defer cancel()
	reason, err := coord.PausedReason(ctx)
	if err != nil {
		// The loop is busy recovering; paused state is unknown until it
		// comes back.
		st.PausedReason = "unknown"
	} else {
		st.PausedReason = reason.String()
	}
	if n, err := coord.InFlightBarriers(ctx); err == nil {
		st.InFlightBarriers = n
	}
	jsonResponse(st, w, logger)
}

func requestContext(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), restCommandTimeout)
}

// scheduleAndWait funnels one command through the barrier queue and blocks
// until its barrier finishes.
func scheduleAndWait(r *http.Request, cmd coordinator.Command) error {
	n := coordinator.NewNotifier()
	if err := coord.Schedule(cmd, n); err != nil {
		return err
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	return n.AwaitFinished(ctx)
}

type flushRequest struct {
	Checkpoint bool `json:"checkpoint"`
}

func flushHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req := flushRequest{Checkpoint: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, err, "Invalid body: Error decoding the flush request", logger)
			return
		}
	}
	if err := scheduleAndWait(r, coordinator.CommandFlush{Checkpoint: req.Checkpoint}); err != nil {
		handleError(w, err, "flush command error", logger)
		return
	}
	result := struct {
		CommittedEpoch uint64 `json:"committedEpoch"`
	}{CommittedEpoch: uint64(coord.CommittedEpoch())}
	jsonResponse(result, w, logger)
}

func pauseHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	err := scheduleAndWait(r, coordinator.CommandPause{Reason: protocol.PausedManual})
	if err != nil {
		handleError(w, err, "pause command error", logger)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("barrier flow paused"))
}

func resumeHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	err := scheduleAndWait(r, coordinator.CommandResume{Reason: protocol.PausedManual})
	if err != nil {
		handleError(w, err, "resume command error", logger)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("barrier flow resumed"))
}

func paramsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	switch r.Method {
	case http.MethodGet:
		jsonResponse(coord.Params(), w, logger)
	case http.MethodPatch:
		patch := make(map[string]interface{})
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			handleError(w, err, "Invalid body: Error decoding the params patch", logger)
			return
		}
		p := coord.Params()
		if err := cast.MapToStruct(patch, &p); err != nil {
			handleError(w, errorx.NewWithCode(errorx.ConfKeyError, err.Error()), "params patch error", logger)
			return
		}
		if err := coord.UpdateParams(p); err != nil {
			handleError(w, err, "params patch error", logger)
			return
		}
		jsonResponse(p, w, logger)
	}
}

func ddlProgressHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx, cancel := requestContext(r)
	defer cancel()
	progress, err := coord.DDLProgress(ctx)
	if err != nil {
		handleError(w, err, "ddl progress error", logger)
		return
	}
	jsonResponse(progress, w, logger)
}
