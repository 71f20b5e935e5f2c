package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"shiptrack/internal/config"
	"shiptrack/internal/db"
	"shiptrack/internal/domain"
	"shiptrack/internal/migrate"
	"shiptrack/internal/workflow"
)

type testServer struct {
	URL       string
	ProductID string
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("shiptrack")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := workflow.New(conn, cfg)
	if _, err := e.InitWorkspace(context.Background(), cfg.Workspace.ID, "", "tester"); err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	p, err := e.CreateProduct(context.Background(), cfg.Workspace.ID, "checkout", "", "tester")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		ProductID: p.ID,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/products", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestFeatureLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products/"+srv.ProductID+"/features", map[string]any{
		"title":  "Dark mode",
		"points": 5,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create feature status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Feature
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal feature: %v", err)
	}
	if created.Stage != "idea" {
		t.Fatalf("expected stage idea, got %s", created.Stage)
	}

	voteRes, voteBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/vote", nil, nil)
	if voteRes.StatusCode != http.StatusOK {
		t.Fatalf("vote status %d: %s", voteRes.StatusCode, string(voteBody))
	}
	doubleRes, doubleBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/vote", nil, nil)
	if doubleRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double vote, got %d: %s", doubleRes.StatusCode, string(doubleBody))
	}

	advRes, advBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/advance", map[string]any{
		"stage": "review",
	}, nil)
	if advRes.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", advRes.StatusCode, string(advBody))
	}

	appRes, appBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/approve", map[string]any{
		"comment": "looks good",
	}, map[string]string{"X-Actor-Id": "lead"})
	if appRes.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", appRes.StatusCode, string(appBody))
	}
	var approved domain.Feature
	if err := json.Unmarshal(appBody, &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != "lead" {
		t.Fatalf("expected approved_by lead, got %+v", approved.ApprovedBy)
	}
}

func TestInvalidTransitionReturnsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products/"+srv.ProductID+"/features", map[string]any{
		"title": "Skip ahead",
	}, nil)
	var created domain.Feature
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/advance", map[string]any{
		"stage": "live",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}
	if code := decodeError(t, body).Code; code != "invalid_transition" {
		t.Fatalf("expected code invalid_transition, got %s", code)
	}
}

func TestRejectionReasonTooShortBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products/"+srv.ProductID+"/features", map[string]any{
		"title": "Questionable idea",
	}, nil)
	var created domain.Feature
	_ = json.Unmarshal(data, &created)

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/advance", map[string]any{
		"stage": "review",
	}, nil)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/features/"+created.ID+"/reject", map[string]any{
		"reason": "meh",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestReleasePipelineOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products/"+srv.ProductID+"/releases", map[string]any{
		"version": "1.2.0",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create release status %d: %s", res.StatusCode, string(data))
	}
	var rel domain.Release
	if err := json.Unmarshal(data, &rel); err != nil {
		t.Fatalf("unmarshal release: %v", err)
	}
	if len(rel.Stages) != 4 {
		t.Fatalf("expected 4 seeded stages, got %d", len(rel.Stages))
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/releases/"+rel.ID+"/stages/build/start", nil, nil)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start stage status %d: %s", startRes.StatusCode, string(startBody))
	}
	var stage domain.PipelineStage
	_ = json.Unmarshal(startBody, &stage)
	if stage.State != "running" {
		t.Fatalf("expected running, got %s", stage.State)
	}

	unknownRes, unknownBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/releases/"+rel.ID+"/stages/qa/start", nil, nil)
	if unknownRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d: %s", unknownRes.StatusCode, string(unknownBody))
	}
	if code := decodeError(t, unknownBody).Code; code != "unknown_stage" {
		t.Fatalf("expected code unknown_stage, got %s", code)
	}

	rbRes, rbBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/releases/"+rel.ID+"/rollback", map[string]any{
		"to_version": "1.1.0",
		"reason":     "bad deploy",
	}, nil)
	if rbRes.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 rollback outside production, got %d: %s", rbRes.StatusCode, string(rbBody))
	}
}

func TestSprintBurndownRequiresStart(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products/"+srv.ProductID+"/sprints", map[string]any{
		"name": "Sprint 1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create sprint status %d: %s", res.StatusCode, string(data))
	}
	var sprint domain.Sprint
	_ = json.Unmarshal(data, &sprint)

	bdRes, bdBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sprints/"+sprint.ID+"/burndown", nil, nil)
	if bdRes.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 before start, got %d: %s", bdRes.StatusCode, string(bdBody))
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sprints/"+sprint.ID+"/start", nil, nil)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start sprint status %d: %s", startRes.StatusCode, string(startBody))
	}
	bdRes, bdBody = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sprints/"+sprint.ID+"/burndown", nil, nil)
	if bdRes.StatusCode != http.StatusOK {
		t.Fatalf("burndown after start status %d: %s", bdRes.StatusCode, string(bdBody))
	}
	var days []map[string]any
	if err := json.Unmarshal(bdBody, &days); err != nil {
		t.Fatalf("unmarshal burndown: %v", err)
	}
	// Two weeks inclusive of both endpoints.
	if len(days) != 15 {
		t.Fatalf("expected 15 day records, got %d", len(days))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"actor_id": "ci-bot",
		"name":     "ci",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatal("expected plaintext key in create response")
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/products", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Api-Key", created.Key)
	keyRes, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer keyRes.Body.Close()
	if keyRes.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d", keyRes.StatusCode)
	}
}
