package provisionapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/provision"
	"github.com/relaydata/stripebridge/pkg/provision/provisionapi"
)

type fakeService struct {
	row       *provision.Database
	getErr    error
	startRow  *provision.Database
	startErr  error
	tickErr   error
	depErr    error
	dsn       string
	tickCalls int
	resets    int
	starts    int
}

func (f *fakeService) Start(_ context.Context, _ kernel.TenantID) (*provision.Database, error) {
	f.starts++
	return f.startRow, f.startErr
}

func (f *fakeService) Tick(_ context.Context, _ kernel.TenantID) error {
	f.tickCalls++
	return f.tickErr
}

func (f *fakeService) Get(_ context.Context, _ kernel.TenantID) (*provision.Database, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	cp := *f.row
	return &cp, nil
}

func (f *fakeService) Reset(_ context.Context, _ kernel.TenantID) error {
	f.resets++
	return nil
}

func (f *fakeService) Deprovision(_ context.Context, _ kernel.TenantID) error {
	return f.depErr
}

func (f *fakeService) ConnectionString(_ *provision.Database) (string, error) {
	return f.dsn, nil
}

// injectAuth replaces the signature middleware: the handlers only read the
// verified identity from locals.
func injectAuth(c *fiber.Ctx) error {
	c.Locals(kernel.AuthLocalKey, &kernel.AuthContext{
		UserID:   "usr_1",
		TenantID: "acct_X",
	})
	return c.Next()
}

func newApp(svc provisionapi.Service) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberErrorHandler})
	provisionapi.NewHandlers(svc).RegisterRoutes(app, injectAuth)
	return app
}

func row(status provision.Status, step provision.Step) *provision.Database {
	s := step
	return &provision.Database{
		TenantID:       "acct_X",
		ProjectRef:     "ref_123",
		DBPasswordCT:   "ct",
		ConnectionHost: provision.PoolerHost("us-east-1"),
		Region:         "us-east-1",
		InstallStatus:  status,
		InstallStep:    &s,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStatusTicksNonTerminalRows(t *testing.T) {
	svc := &fakeService{row: row(provision.StatusProvisioning, provision.StepWaitDatabaseReady)}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.tickCalls != 1 {
		t.Fatalf("tick calls = %d, want 1", svc.tickCalls)
	}
	body := decode(t, resp.Body)
	if body["status"] != "provisioning" || body["step"] != "wait_database_ready" {
		t.Fatalf("body = %v", body)
	}
	if _, present := body["connection_string"]; present {
		t.Fatal("connection_string must be absent before ready")
	}
}

func TestStatusTickErrorStillReturnsState(t *testing.T) {
	svc := &fakeService{
		row:     row(provision.StatusSyncing, provision.StepStartSync),
		tickErr: errx.Internal("lock query failed"),
	}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("a tick failure must not fail the poll: %d", resp.StatusCode)
	}
}

func TestStatusReadyCarriesConnectionString(t *testing.T) {
	svc := &fakeService{
		row: row(provision.StatusReady, provision.StepDone),
		dsn: "postgresql://postgres.ref_123:pw@aws-1-us-east-1.pooler.supabase.com:5432/postgres",
	}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body := decode(t, resp.Body)
	if body["connection_string"] != svc.dsn {
		t.Fatalf("connection_string = %v", body["connection_string"])
	}
	if svc.tickCalls != 0 {
		t.Fatal("terminal rows must not tick")
	}
}

func TestStatusNotProvisioned(t *testing.T) {
	svc := &fakeService{getErr: provision.ErrNotProvisioned()}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProvisionStartsFresh(t *testing.T) {
	svc := &fakeService{
		getErr:   provision.ErrNotProvisioned(),
		startRow: row(provision.StatusPending, provision.StepCreateProject),
	}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/provision", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decode(t, resp.Body)
	if body["status"] != "pending" || body["project_ref"] != "ref_123" {
		t.Fatalf("body = %v", body)
	}
}

func TestProvisionIsIdempotentWhileRunning(t *testing.T) {
	svc := &fakeService{row: row(provision.StatusSyncing, provision.StepVerifySync)}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/provision", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for existing row", resp.StatusCode)
	}
	if svc.starts != 0 || svc.resets != 0 {
		t.Fatalf("starts=%d resets=%d, want no restart", svc.starts, svc.resets)
	}
}

func TestProvisionRetriesAfterError(t *testing.T) {
	errored := row(provision.StatusError, provision.StepStartSync)
	msg := "sync install failed: [REDACTED]"
	errored.ErrorMessage = &msg
	svc := &fakeService{
		row:      errored,
		startRow: row(provision.StatusPending, provision.StepCreateProject),
	}
	app := newApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/provision", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202 on retry", resp.StatusCode)
	}
	if svc.resets != 1 || svc.starts != 1 {
		t.Fatalf("resets=%d starts=%d, want 1/1", svc.resets, svc.starts)
	}
}

func TestDeprovisionStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, fiber.StatusOK},
		{"lock busy", provision.ErrLockBusy(), fiber.StatusConflict},
		{"not provisioned", provision.ErrNotProvisioned(), fiber.StatusNotFound},
		{"upstream", provision.ErrUpstream(), fiber.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := &fakeService{depErr: tc.err}
		app := newApp(svc)
		resp, err := app.Test(httptest.NewRequest(fiber.MethodDelete, "/provision", nil))
		if err != nil {
			t.Fatalf("%s: app.Test: %v", tc.name, err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}
