/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
)

// ClientConfig carries the AWS settings for the DynamoDB backend.
type ClientConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Table     string
}

// ConfigFromEnv reads AWS settings from the environment, loading a .env file
// first when one is present.
func ConfigFromEnv() (ClientConfig, error) {
	_ = godotenv.Load()

	cfg := ClientConfig{
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		SecretKey: os.Getenv("AWS_SECRET_KEY"),
		Region:    os.Getenv("AWS_REGION"),
		Table:     os.Getenv("AWS_DDB_TABLE"),
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Region == "" || cfg.Table == "" {
		return ClientConfig{}, fmt.Errorf("AWS_ACCESS_KEY, AWS_SECRET_KEY, AWS_REGION, and AWS_DDB_TABLE must be set")
	}
	return cfg, nil
}

// NewClient initializes a DynamoDB client using static AWS credentials.
func NewClient(ctx context.Context, cfg ClientConfig) (*sdk.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return sdk.NewFromConfig(awsCfg), nil
}
