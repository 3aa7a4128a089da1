//go:build integration
// +build integration

package http

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreschagin/visual-regression/internal/bootstrap"
	"github.com/dreschagin/visual-regression/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/handler"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/config"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

const (
	integrationToken = "integration-token"
)

// Окружение поднимается docker compose: Postgres, MinIO, DynamoDB Local
type integrationEnv struct {
	pgHost          string
	pgPort          string
	pgUser          string
	pgPassword      string
	pgDatabase      string
	s3Endpoint      string
	s3Region        string
	s3AccessKey     string
	s3SecretKey     string
	s3Bucket        string
	dynamoEndpoint  string
	dynamoRegion    string
	dynamoAccessKey string
	dynamoSecretKey string
	dynamoTable     string
}

func loadIntegrationEnv() integrationEnv {
	return integrationEnv{
		pgHost:          getenv("INTEGRATION_PG_HOST", "localhost"),
		pgPort:          getenv("INTEGRATION_PG_PORT", "5432"),
		pgUser:          getenv("INTEGRATION_PG_USER", "postgres"),
		pgPassword:      getenv("INTEGRATION_PG_PASSWORD", "postgres"),
		pgDatabase:      getenv("INTEGRATION_PG_DATABASE", "visual_regression"),
		s3Endpoint:      getenv("INTEGRATION_S3_ENDPOINT", "http://localhost:9000"),
		s3Region:        getenv("INTEGRATION_S3_REGION", "us-east-1"),
		s3AccessKey:     getenv("INTEGRATION_S3_ACCESS_KEY", "minioadmin"),
		s3SecretKey:     getenv("INTEGRATION_S3_SECRET_KEY", "minioadmin"),
		s3Bucket:        getenv("INTEGRATION_S3_BUCKET", "visual-artifacts-e2e"),
		dynamoEndpoint:  getenv("INTEGRATION_DYNAMO_ENDPOINT", "http://localhost:8000"),
		dynamoRegion:    getenv("INTEGRATION_DYNAMO_REGION", "us-east-1"),
		dynamoAccessKey: getenv("INTEGRATION_DYNAMO_ACCESS_KEY", "dynamo"),
		dynamoSecretKey: getenv("INTEGRATION_DYNAMO_SECRET_KEY", "dynamo"),
		dynamoTable:     getenv("INTEGRATION_DYNAMO_TABLE", "visual_test_snapshots_e2e"),
	}
}

func (env integrationEnv) config(t *testing.T) *config.Config {
	return &config.Config{
		LogLevel: "error",
		Database: config.DatabaseConfig{
			Driver:       "postgres",
			Host:         env.pgHost,
			Port:         env.pgPort,
			User:         env.pgUser,
			Password:     env.pgPassword,
			Database:     env.pgDatabase,
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Storage: config.StorageConfig{Backend: "s3", KeyPrefix: "e2e-" + strings.ToLower(t.Name())},
		S3: config.S3Config{
			Bucket:          env.s3Bucket,
			Region:          env.s3Region,
			Endpoint:        env.s3Endpoint,
			AccessKeyID:     env.s3AccessKey,
			SecretAccessKey: env.s3SecretKey,
			UsePathStyle:    true,
		},
		Ledger: config.LedgerConfig{
			Backend:          "dynamodb",
			DynamoTable:      env.dynamoTable,
			DynamoRegion:     env.dynamoRegion,
			DynamoEndpoint:   env.dynamoEndpoint,
			DynamoStrongRead: true,
		},
		Events:   config.EventsConfig{Backend: "none"},
		Capture:  config.CaptureConfig{Timeout: 5 * time.Second, MaxTimeout: time.Minute},
		Diff:     config.DiffConfig{Threshold: 0.1},
		Snapshot: config.SnapshotConfig{RetentionDays: 7, PruneInterval: time.Hour},
		Health:   config.HealthConfig{Timeout: 3 * time.Second},
		Security: config.SecurityConfig{AuthEnabled: true, AuthToken: integrationToken},
	}
}

func TestE2EIntegrationLifecycle(t *testing.T) {
	env := loadIntegrationEnv()
	ctx := context.Background()

	ensureS3Bucket(t, ctx, env)
	ensureDynamoTable(t, ctx, env)
	// ledger берет учетные данные из стандартной цепочки AWS SDK
	t.Setenv("AWS_ACCESS_KEY_ID", env.dynamoAccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", env.dynamoSecretKey)

	server := integrationServer(t, env.config(t))

	resp := doRequest(t, http.MethodGet, server.URL+"/readyz", "", "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doRequest(t, http.MethodPost, server.URL+"/api/v1/visual-tests", integrationToken, "application/json",
		[]byte(`{"name":"integration","project_id":"e2e"}`))
	expectStatus(t, resp, http.StatusCreated)
	var created testView
	decodeBody(t, resp, &created)

	base := server.URL + "/api/v1/visual-tests/" + created.ID
	white := pngBytes(t, 4, 4, color.White)
	marked := pngBytes(t, 4, 4, color.White, image.Pt(1, 1))

	for _, step := range []struct {
		image  []byte
		status string
	}{
		{white, "NEW"},
		{white, "PASS"},
		{marked, "FAIL"},
	} {
		resp = doRequest(t, http.MethodPost, base+"/compare", integrationToken, "image/png", step.image)
		expectStatus(t, resp, http.StatusOK)
		var cmp comparisonView
		decodeBody(t, resp, &cmp)
		if cmp.Test.Status != step.status {
			t.Fatalf("status = %s, want %s", cmp.Test.Status, step.status)
		}
	}

	expectStatus(t, doRequest(t, http.MethodGet, base+"/artifacts/diff", integrationToken, "", nil), http.StatusOK)
	expectStatus(t, doRequest(t, http.MethodPost, base+"/promote", integrationToken, "", nil), http.StatusOK)
	expectStatus(t, doRequest(t, http.MethodGet, base+"/artifacts/diff", integrationToken, "", nil), http.StatusNotFound)

	resp = doRequest(t, http.MethodGet, base+"/snapshots?limit=10", integrationToken, "", nil)
	expectStatus(t, resp, http.StatusOK)
	var page struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	decodeBody(t, resp, &page)
	if len(page.Items) != 2 || page.Items[0].Status != "FAIL" {
		t.Fatalf("unexpected ledger page: %+v", page.Items)
	}

	expectStatus(t, doRequest(t, http.MethodDelete, base, integrationToken, "", nil), http.StatusNoContent)
	expectStatus(t, doRequest(t, http.MethodGet, base, integrationToken, "", nil), http.StatusNotFound)
}

func integrationServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	log := logger.New("error")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	container, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	container.AttachNotifier(hub)

	vt := handler.NewVisualTestHandler(handler.VisualTestUseCases{
		Create:    container.CreateTest,
		List:      container.ListTests,
		Get:       container.GetTest,
		Update:    container.UpdateTest,
		Delete:    container.DeleteTest,
		Artifact:  container.GetArtifact,
		Snapshots: container.ListSnapshots,
		Lifecycle: container.Lifecycle,
	}, cfg.Server.MaxImageBytes, log)

	router := NewRouter(
		vt,
		handler.NewWebSocketHandler(hub, cfg.Security.AllowedOrigins, log),
		handler.NewHealthHandler(container.Readiness),
		handler.NewAuthAPIHandler(middleware.AuthConfig{Enabled: true, BearerToken: integrationToken}, log),
		container.Metrics,
		nil,
		cfg.Security,
		log,
	)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)
	return server
}

func ensureS3Bucket(t *testing.T, ctx context.Context, env integrationEnv) {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(env.s3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.s3AccessKey,
			env.s3SecretKey,
			"",
		)),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = &env.s3Endpoint
		options.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &env.s3Bucket,
	})
	if err != nil && !isBucketExistsError(err) {
		t.Fatalf("create bucket: %v", err)
	}
}

func isBucketExistsError(err error) bool {
	var alreadyOwned *s3.BucketAlreadyOwnedByYou
	var alreadyExists *s3.BucketAlreadyExists
	if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
		return true
	}
	return strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") || strings.Contains(err.Error(), "BucketAlreadyExists")
}

func ensureDynamoTable(t *testing.T, ctx context.Context, env integrationEnv) {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(env.dynamoRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.dynamoAccessKey,
			env.dynamoSecretKey,
			"",
		)),
	)
	if err != nil {
		t.Fatalf("load dynamo config: %v", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		options.BaseEndpoint = &env.dynamoEndpoint
	})

	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &env.dynamoTable,
	})
	if err == nil {
		return
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &env.dynamoTable,
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: stringPtr("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: stringPtr("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: stringPtr("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: stringPtr("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		t.Fatalf("create dynamodb table: %v", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: &env.dynamoTable}, 30*time.Second); err != nil {
		t.Fatalf("wait for table: %v", err)
	}
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func stringPtr(value string) *string {
	return &value
}
