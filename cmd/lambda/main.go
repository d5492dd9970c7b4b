package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joeshaw/envdecode"

	"roomservice-agent/handler"
	"roomservice-agent/internal/integrations/paramstore"
	"roomservice-agent/internal/repository"
	"roomservice-agent/internal/usecase"
)

type lambdaConfig struct {
	TableName   string `env:"TABLE_NAME,required"`
	ParamPrefix string `env:"PARAM_PREFIX"`
}

func main() {
	ctx := context.Background()

	var cfg lambdaConfig
	if err := envdecode.Decode(&cfg); err != nil {
		slog.Error("failed to decode configuration", "err", err)
		os.Exit(1)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		slog.Error("failed to create dynamodb store", "err", err)
		os.Exit(1)
	}

	// Reply templates are optional; without a parameter prefix the engine
	// uses its built-in copy.
	var templates usecase.TemplateSource
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		templates = ssmClient
	}

	svc, err := usecase.NewConciergeService(store, store, store, templates, cfg.ParamPrefix)
	if err != nil {
		slog.Error("failed to create concierge service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
