//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/lumoqi/trainbase/internal/bootstrap"
	"github.com/lumoqi/trainbase/internal/domain/training"
	"github.com/lumoqi/trainbase/internal/infra/config"
	httpiface "github.com/lumoqi/trainbase/internal/interface/http"
	"github.com/lumoqi/trainbase/internal/vectorizer"
	"github.com/lumoqi/trainbase/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		providePgxPool,
		provideRecordStore,
		provideVectorStore,
		provideWakeSignal,
		provideNotifier,
		provideWakeChan,
		provideEmbedder,
		provideObjectSink,
		provideTrainingConfig,
		provideVectorizerConfig,
		training.NewIngestService,
		training.NewRetrieveService,
		training.NewExportService,
		vectorizer.NewPool,
		vectorizer.NewReaper,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
