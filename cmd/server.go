// Copyright 2024-2025 The pulseboard Authors
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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/pulseboard/pulseboard/apis"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/core"
	"github.com/pulseboard/pulseboard/gateway"
	"github.com/pulseboard/pulseboard/metrics"
	"github.com/pulseboard/pulseboard/processor"
	"github.com/pulseboard/pulseboard/registry"
	"github.com/pulseboard/pulseboard/session"
	"github.com/pulseboard/pulseboard/storage"
)

// RunServer run the pulseboard streaming server
func RunServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runtimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Shared components

	var store storage.SampleStore
	var err error
	switch config.Store.Backend {
	case "nats":
		if natsClient == nil {
			return fmt.Errorf("sample store backend 'nats' requires a NATS client")
		}
		store, err = storage.GetNatsSampleStore(*natsClient, config.Store.Bucket)
	default:
		store, err = storage.GetInMemorySampleStore()
	}
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define sample store")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Sample store close failed")
		}
	}()

	ingester, err := metrics.GetRandomWalkIngester(time.Now().UnixNano())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define ingester")
		return err
	}
	source, err := metrics.GetStoreBackedSource(store)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define metric source")
		return err
	}
	groups, err := registry.GetGroupRegistryInstance()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define group registry")
		return err
	}
	sessions, err := session.GetManagerInstance()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session manager")
		return err
	}

	// -------------------------------------------------------------------
	// Stream processor
	//
	// A processor which can not start leaves the service unready, so
	// failure here aborts startup.

	streamProc, err := processor.GetStreamProcessor(
		groups,
		sessions,
		ingester,
		store,
		config.Processor.Metrics,
		time.Millisecond*time.Duration(config.Processor.CycleInterval),
		time.Second*time.Duration(config.Store.CallTimeout),
		wg,
		localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stream processor")
		return err
	}
	if err := streamProc.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Stream processor failed to start")
		return err
	}
	defer func() {
		if err := streamProc.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Stream processor stop failed")
		}
	}()

	// -------------------------------------------------------------------
	// Connection gateway

	verifier, err := gateway.GetStaticTokenVerifier(config.Gateway.Auth.AllowedTokens)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define auth verifier")
		return err
	}
	connGateway, err := gateway.GetConnectionGateway(
		&config.Gateway.HTTPSetting,
		config.Gateway.Websocket,
		verifier,
		sessions,
		groups,
		source,
		streamProc,
		wg,
		localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection gateway")
		return err
	}

	healthHandler, err := apis.GetAPIRestHealthHandler(
		&config.Gateway.HTTPSetting, func() error {
			if !streamProc.Ready() {
				return fmt.Errorf("stream processor not running")
			}
			if natsClient != nil && natsClient.NATs().Status() != nats.CONNECTED {
				return fmt.Errorf("not connected to NATS")
			}
			return nil
		},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define health handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Gateway.PathPrefix, nil)

	// Websocket stream endpoint
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/stream", map[string]http.HandlerFunc{
		"get": connGateway.StreamHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": healthHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": healthHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(healthHandler, next)
	})

	serverConfig := config.Gateway.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverConfig.ListenOn, serverConfig.Port)
	httpSrv := &http.Server{
		Addr: serverListen,
		// Write timeout stays unset. The websocket connections are
		// long-lived and enforce their own per-message deadlines.
		ReadTimeout: time.Second * time.Duration(serverConfig.ReadTimeout),
		IdleTimeout: time.Second * time.Duration(serverConfig.IdleTimeout),
		Handler:     router,
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	// Close every live session before stopping the processor
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		sessions.CloseAll(ctx)
	}

	return nil
}
