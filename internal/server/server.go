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
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/lf-edge/oort/internal/catalog"
	"github.com/lf-edge/oort/internal/cluster"
	"github.com/lf-edge/oort/internal/conf"
	"github.com/lf-edge/oort/internal/coordinator"
	"github.com/lf-edge/oort/internal/pkg/store"
	"github.com/lf-edge/oort/internal/runtime"
	"github.com/lf-edge/oort/internal/storage"
	"github.com/lf-edge/oort/metrics"
	"github.com/lf-edge/oort/pkg/cast"
	"github.com/lf-edge/oort/pkg/protocol"
)

var (
	logger         = conf.Log
	startTimeStamp int64
	version        = ""
	stopSignal     chan struct{}

	coord    *coordinator.Coordinator
	cat      *catalog.Catalog
	registry *cluster.Registry
	pool     *coordinator.ClientPool

	workerMu      sync.Mutex
	workerCtx     context.Context
	localWorkers  map[protocol.WorkerID]*runtime.Worker
	workerEngines map[protocol.WorkerID]storage.Engine
)

var newNetListener = newTcpListener

func newTcpListener(addr string, logger *logrus.Logger) (net.Listener, error) {
	logger.Info("using ListenMode 'http'")
	return net.Listen("tcp", addr)
}

func stopOort() {
	stopSignal <- struct{}{}
}

// Create path if mount an empty dir.
func createPaths() {
	dataDir, err := conf.GetDataLoc()
	if err != nil {
		panic(err)
	}
	dirs := []string{"storage", "metrics"}
	for _, v := range dirs {
		realDir := filepath.Join(dataDir, v)
		if _, err := os.Stat(realDir); os.IsNotExist(err) {
			if err := os.MkdirAll(realDir, os.ModePerm); err != nil {
				fmt.Printf("Failed to create dir %s: %v", realDir, err)
			}
		}
	}
}

// addLocalWorker opens a dedicated state engine, starts an embedded worker
// loop on it and wires the loopback client into the coordinator's pool. The
// new worker is picked up by the next recovery round.
func addLocalWorker(slots int) (cluster.Worker, error) {
	workerMu.Lock()
	defer workerMu.Unlock()
	w := registry.Register(fmt.Sprintf("embedded-%d", len(localWorkers)+1), slots)
	engine, err := storage.GetEngine(conf.Config, fmt.Sprintf("worker-%d", w.ID))
	if err != nil {
		removeErr := registry.Remove(w.ID)
		if removeErr != nil {
			logger.Warnf("unregister worker %d: %v", w.ID, removeErr)
		}
		return cluster.Worker{}, err
	}
	worker := runtime.NewWorker(workerCtx, w.ID, engine)
	localWorkers[w.ID] = worker
	workerEngines[w.ID] = engine
	pool.Register(w.ID, worker)
	logger.Infof("started embedded worker %d with %d slots", w.ID, slots)
	return w, nil
}

func stopLocalWorkers() {
	workerMu.Lock()
	defer workerMu.Unlock()
	for id, w := range localWorkers {
		w.Stop()
		if err := workerEngines[id].Close(); err != nil {
			logger.Warnf("close state engine of worker %d: %v", id, err)
		}
	}
}

func StartUp(Version string) {
	version = Version
	startTimeStamp = time.Now().Unix()
	createPaths()
	conf.SetupEnv()
	conf.InitConf()

	undo, _ := maxprocs.Set(maxprocs.Logger(conf.Log.Infof))
	defer undo()

	serverCtx, serverCancel := context.WithCancel(context.Background())
	workerCtx = serverCtx

	err := store.SetupWithOortConfig(conf.Config)
	if err != nil {
		panic(err)
	}

	metaEngine, err := storage.GetEngine(conf.Config, "meta")
	if err != nil {
		panic(err)
	}

	registry = cluster.NewRegistry()
	pool = coordinator.NewClientPool()
	localWorkers = make(map[protocol.WorkerID]*runtime.Worker)
	workerEngines = make(map[protocol.WorkerID]storage.Engine)
	for i := 0; i < conf.Config.Cluster.Workers; i++ {
		if _, err := addLocalWorker(conf.Config.Cluster.SlotsPerWorker); err != nil {
			panic(err)
		}
	}

	cat, err = catalog.New()
	if err != nil {
		panic(err)
	}
	params, err := coordinator.LoadSystemParams(conf.Config.Barrier)
	if err != nil {
		panic(err)
	}
	coord = coordinator.New(cat, registry, metaEngine, pool, params)
	go coord.Run()

	if conf.Config.Basic.MetricsDump.Enable {
		metrics.InitMetricsDumpJob(serverCtx)
	}

	// Start rest service
	srvRest := createRestServer(conf.Config.Basic.RestIp, conf.Config.Basic.RestPort)
	go func() {
		var err error
		ln, listenErr := newNetListener(srvRest.Addr, logger)
		if listenErr != nil {
			panic(listenErr)
		}
		if conf.Config.Basic.RestTls == nil {
			err = srvRest.Serve(ln)
		} else {
			err = srvRest.ServeTLS(ln, conf.Config.Basic.RestTls.Certfile, conf.Config.Basic.RestTls.Keyfile)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Error serving rest service: ", err)
		}
	}()

	for k, v := range servers {
		logger.Infof("start service %s", k)
		v.serve()
	}

	// Startup message
	restHttpType := "http"
	if conf.Config.Basic.RestTls != nil {
		restHttpType = "https"
	}
	stopSignal = make(chan struct{})
	msg := fmt.Sprintf("Serving oort (version - %s) with %d embedded worker(s), and restful api on %s://%s.", Version, conf.Config.Cluster.Workers, restHttpType, cast.JoinHostPortInt(conf.Config.Basic.RestIp, conf.Config.Basic.RestPort))
	logger.Info(msg)
	fmt.Println(msg)

	// Stop the services
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	select {
	case ss := <-sigint:
		conf.Log.Infof("oort stopped by %v", ss)
	case <-stopSignal:
		// sleep 1 sec in order to let stop request got response
		time.Sleep(time.Second)
		conf.Log.Info("oort stopped by Stop request")
	}

	coord.Stop()
	serverCancel()
	stopLocalWorkers()

	ctx, cancel := context.WithTimeout(context.TODO(), 10*time.Second)
	defer cancel()
	conf.Log.Info("start to stop rest server")
	if err = srvRest.Shutdown(ctx); err != nil {
		logger.Errorf("rest server shutdown error: %v", err)
	}
	logger.Info("rest server successfully shutdown.")

	for k, v := range servers {
		logger.Infof("start to close service %s", k)
		v.close()
		logger.Infof("close service %s successfully", k)
	}

	if err := metaEngine.Close(); err != nil {
		logger.Errorf("close meta engine: %v", err)
	}

	os.Exit(0)
}
