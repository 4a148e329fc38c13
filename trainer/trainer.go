/*
 *     Copyright 2024 The AnyPrec Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package trainer

import (
	"context"
	"net/http"
	"os"

	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/trainer/config"
	"github.com/anyprec/anyprec/trainer/metrics"
	"github.com/anyprec/anyprec/trainer/storage"
	"github.com/anyprec/anyprec/trainer/training"
)

type Server struct {
	// Server configuration.
	config *config.Config

	// Metrics server.
	metricsServer *http.Server

	// Storage interface.
	storage storage.Storage

	// Training job.
	training training.Training
}

func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{config: cfg}

	// Initialize run directory.
	if err := os.MkdirAll(cfg.Run.ResultsDir, 0755); err != nil {
		return nil, err
	}

	// Initialize storage.
	s.storage = storage.New(cfg.Run.ResultsDir)

	// Initialize training job.
	job, err := training.New(cfg, s.storage)
	if err != nil {
		return nil, err
	}
	s.training = job

	// Initialize metrics.
	if cfg.Metrics.Enable {
		s.metricsServer = metrics.New(cfg.Metrics)
	}

	return s, nil
}

func (s *Server) Serve(ctx context.Context) error {
	// Started metrics server.
	if s.metricsServer != nil {
		go func() {
			logger.Infof("started metrics server at %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil {
				if err == http.ErrServerClosed {
					return
				}

				logger.Fatalf("metrics server closed unexpect: %s", err.Error())
			}
		}()
	}

	return s.training.Serve(ctx)
}

func (s *Server) Stop() {
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(context.Background()); err != nil {
			logger.Errorf("stop metrics server failed %s", err.Error())
		} else {
			logger.Info("stop metrics server completed")
		}
	}
}
