//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tessellate-ai/querymesh/internal/api/handlers"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/repository"
	"github.com/tessellate-ai/querymesh/internal/server"
	"github.com/tessellate-ai/querymesh/internal/service"
	"github.com/tessellate-ai/querymesh/internal/testutil"
)

const embeddingDimensions = 1536

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client

	TenantID  string
	UserID    string
	ProjectID string
	APIToken  string

	chunkRepo *repository.ChunkRepository
	registry  *service.RegistryService
	auth      *service.AuthService
}

// SetupE2EEnv creates a full E2E test environment with a Postgres container
// and an HTTP server backed by deterministic embedding and synthesis fakes.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	partitionRepo := repository.NewPartitionRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)

	registry := service.NewRegistryService(partitionRepo)
	auth := service.NewAuthService(apiKeyRepo, &service.DefaultUUIDGenerator{})

	serverURL, serverCloser := startServer(t, pool, auth, registry, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		chunkRepo:    chunkRepo,
		registry:     registry,
		auth:         auth,
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Bootstrap provisions a tenant with private, project, and global partitions
// plus an API key bound to the test user and project.
func (e *E2ETestEnv) Bootstrap() {
	e.TenantID = uuid.NewString()
	e.UserID = uuid.NewString()
	e.ProjectID = uuid.NewString()

	// Token-hash embeddings overlap weakly between question and chunk text,
	// so keep the similarity threshold permissive.
	partitions := []service.CreatePartitionInput{
		{Kind: domain.PartitionKindPrivate, OwnerID: e.UserID, TenantID: e.TenantID, Name: "e2e private", SimilarityThreshold: 0.1},
		{Kind: domain.PartitionKindProject, OwnerID: e.ProjectID, TenantID: e.TenantID, Name: "e2e project", SimilarityThreshold: 0.1},
		{Kind: domain.PartitionKindGlobal, OwnerID: e.TenantID, TenantID: e.TenantID, Name: "e2e global", SimilarityThreshold: 0.1},
	}
	for _, input := range partitions {
		if _, err := e.registry.CreatePartition(e.Ctx, input); err != nil {
			e.T.Fatalf("failed to create %s partition: %v", input.Kind, err)
		}
	}

	token, _, err := e.auth.CreateAPIKey(e.Ctx, service.CreateAPIKeyInput{
		TenantID:           e.TenantID,
		UserID:             e.UserID,
		Name:               "e2e-test-key",
		ProjectMemberships: []string{e.ProjectID},
	})
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}
	e.APIToken = token
}

// CreateAPIKeyFor mints an extra key for a different identity in the same tenant.
func (e *E2ETestEnv) CreateAPIKeyFor(userID string, memberships []string) string {
	token, _, err := e.auth.CreateAPIKey(e.Ctx, service.CreateAPIKeyInput{
		TenantID:           e.TenantID,
		UserID:             userID,
		Name:               "e2e-extra-key",
		ProjectMemberships: memberships,
	})
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}
	return token
}

// SeedChunks inserts embedded chunks for one document into a partition.
func (e *E2ETestEnv) SeedChunks(key domain.PartitionKey, documentID string, contents ...string) {
	chunks := make([]*domain.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, &domain.Chunk{
			ID:           uuid.NewString(),
			PartitionKey: key,
			TenantID:     e.TenantID,
			DocumentID:   documentID,
			ChunkIndex:   i,
			Content:      content,
			QualityScore: 1.0,
			Embedding:    embedText(content),
		})
	}
	if err := e.chunkRepo.CreateBatch(e.Ctx, chunks); err != nil {
		e.T.Fatalf("failed to seed chunks: %v", err)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, int, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, int, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, int, error) {
	return e.doRequest("DELETE", path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, int, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp APIResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to parse response %q: %w", respBody, err)
		}
	}

	return &apiResp, resp.StatusCode, nil
}

// fakeEmbedder produces deterministic embeddings so similarity search works
// without a live model: texts sharing tokens land near each other.
type fakeEmbedder struct{}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func embedText(text string) []float32 {
	vec := make([]float32, embeddingDimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%embeddingDimensions] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1.0
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// fakeGenerator returns a canned answer so synthesis is deterministic.
type fakeGenerator struct{}

func (f *fakeGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	return "Based on the retrieved sources, the system handles this as described in [1].", nil
}

func startServer(t *testing.T, pool *pgxpool.Pool, auth *service.AuthService, registry *service.RegistryService, port int) (string, func()) {
	partitionRepo := repository.NewPartitionRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	queryRepo := repository.NewQueryRepository(pool)
	citationRepo := repository.NewCitationRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	scope := service.NewScopeResolver(partitionRepo)
	fanout := service.NewFanoutCoordinatorWithConfig(chunkRepo, partitionRepo, service.FanoutConfig{
		Concurrency:       4,
		PartitionTimeout:  2 * time.Second,
		PerPartitionLimit: 20,
	})
	ranker := service.NewRankerWithLimits(10, 0)
	synthesizer := service.NewSynthesizer(&fakeGenerator{})

	querySvc := service.NewQueryServiceWithConfig(
		queryRepo, citationRepo, conversationRepo, txRunner,
		scope, fanout, ranker, synthesizer, &fakeEmbedder{},
		service.QueryServiceConfig{
			OverallTimeout:  10 * time.Second,
			ContextMaxTurns: 10,
		},
	)
	conversationSvc := service.NewConversationService(conversationRepo)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:       auth,
		QueryHandler:        handlers.NewQueryHandler(querySvc),
		ConversationHandler: handlers.NewConversationHandler(conversationSvc),
		PartitionHandler:    handlers.NewPartitionHandler(registry),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Errorf("server failed: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	closer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}

	return serverURL, closer
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not become ready within %s", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
