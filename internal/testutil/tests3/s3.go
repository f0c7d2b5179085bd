package tests3

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Bucket is the bucket StartS3 creates.
const Bucket = "risugit-assets"

const (
	edgePort = "4566/tcp"
	region   = "us-east-1"
)

// StartS3 runs a LocalStack S3 for the lifetime of tb, points the AWS SDK
// environment at it and creates Bucket. It returns the bucket name.
func StartS3(tb testing.TB) string {
	tb.Helper()

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:latest",
			ExposedPorts: []string{edgePort},
			Env:          map[string]string{"SERVICES": "s3"},
			WaitingFor:   wait.ForListeningPort(edgePort).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("tests3: start localstack: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("tests3: terminate localstack: %v", err)
		}
	})

	endpoint, err := c.PortEndpoint(ctx, edgePort, "http")
	if err != nil {
		tb.Fatalf("tests3: endpoint: %v", err)
	}
	tb.Setenv("AWS_ENDPOINT_URL", endpoint)
	tb.Setenv("AWS_ACCESS_KEY_ID", "test")
	tb.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	tb.Setenv("AWS_REGION", region)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		tb.Fatalf("tests3: load aws config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(Bucket)}); err != nil {
		tb.Fatalf("tests3: create bucket: %v", err)
	}
	return Bucket
}
