// Package awsconfig carga la configuración del SDK de AWS, con la
// redirección a endpoints locales cuando AWS_SAM_LOCAL=true.
package awsconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Endpoints locales (DynamoDB Local y LocalStack).
const (
	LocalDynamoDBEndpoint = "http://host.docker.internal:8000"
	LocalS3Endpoint       = "http://host.docker.internal:4566"
)

// Load devuelve la configuración por defecto o la local según AWS_SAM_LOCAL.
func Load(ctx context.Context) (aws.Config, error) {
	var cfg aws.Config
	var err error

	if os.Getenv("AWS_SAM_LOCAL") == "true" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			switch service {
			case dynamodb.ServiceID:
				return aws.Endpoint{PartitionID: "aws", URL: LocalDynamoDBEndpoint, SigningRegion: "us-east-1"}, nil
			case s3.ServiceID:
				return aws.Endpoint{PartitionID: "aws", URL: LocalS3Endpoint, SigningRegion: "us-east-1"}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})

		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
			config.WithEndpointResolverWithOptions(customResolver),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}

	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	return cfg, nil
}
