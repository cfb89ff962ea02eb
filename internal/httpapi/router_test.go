package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/queue"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store/memory"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/syncer"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/classifier"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/extractor"
)

const secret = "test-secret"

type nopDispatcher struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (d *nopDispatcher) Dispatch(_ context.Context, t queue.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

type nopLedger struct{}

func (nopLedger) CreateExpense(_ context.Context, e api.Expense) (string, error) {
	return "entry-" + e.Reference, nil
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	disp   *nopDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := memory.New()
	cls, err := classifier.New(classifier.DefaultTable())
	if err != nil {
		t.Fatal(err)
	}
	disp := &nopDispatcher{}
	coord, err := syncer.New(syncer.Deps{
		Store:      s,
		Classifier: cls,
		Extractor:  extractor.New(extractor.Options{}),
		Dispatcher: disp,
	}, syncer.Options{})
	if err != nil {
		t.Fatal(err)
	}

	router := NewRouter(Deps{
		Syncer:    coord,
		Approvals: approval.New(s, nopLedger{}, nil),
		Accounts:  s,
		Health:    s,
		JWTSecret: secret,
		Providers: []string{"gmail", "mbox"},
	})
	return &testServer{router: router, store: s, disp: disp}
}

func token(t *testing.T, owner, role string) string {
	t.Helper()
	tok, err := IssueToken(secret, owner, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (ts *testServer) seedApproval(t *testing.T, owner string) api.Approval {
	t.Helper()
	ctx := context.Background()
	msg, _, err := ts.store.UpsertMessage(ctx, api.MailMessage{AccountID: "acct", ProviderMessageID: owner + "-msg"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := ts.store.CreateApproval(ctx, api.Approval{
		MailMessageID:   msg.ID,
		Owner:           owner,
		ConfidenceScore: 0.8,
		ExtractedData: api.ExtractedData{
			Amounts:   []string{"1500.00"},
			Dates:     []string{"2024-01-15"},
			Merchants: []string{"Bhatbhateni Supermarket"},
		},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	expired, err := IssueToken(secret, "alice", "", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	other, err := IssueToken("other-secret", "alice", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tok  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong secret", other, http.StatusUnauthorized},
		{"valid", token(t, "alice", ""), http.StatusOK},
	}
	for _, tt := range tests {
		if code, _ := ts.do(t, http.MethodGet, "/accounts", tt.tok, ""); code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, code, tt.want)
		}
	}

	if code, _ := ts.do(t, http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/metrics", "", ""); code != http.StatusOK {
		t.Errorf("metrics: got %d, want 200", code)
	}
}

func TestAccountsAndSync(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice", "")
	bob := token(t, "bob", "")

	code, _ := ts.do(t, http.MethodPost, "/accounts", alice, `{"address":"alice@example.com","provider":"imap"}`)
	if code != http.StatusBadRequest {
		t.Errorf("unknown provider: got %d, want 400", code)
	}

	code, body := ts.do(t, http.MethodPost, "/accounts", alice, `{"address":"alice@example.com","provider":"gmail"}`)
	if code != http.StatusCreated {
		t.Fatalf("create account: got %d %v", code, body)
	}
	id := body["id"].(string)
	if body["owner"] != "alice" || body["credential_ref"] != "alice@example.com" {
		t.Errorf("account: got %v", body)
	}

	if _, body := ts.do(t, http.MethodGet, "/accounts", bob, ""); len(body["accounts"].([]any)) != 0 {
		t.Errorf("bob sees accounts: %v", body)
	}

	code, _ = ts.do(t, http.MethodPost, "/accounts/"+id+"/sync", bob, "")
	if code != http.StatusNotFound {
		t.Errorf("foreign trigger: got %d, want 404", code)
	}

	code, body = ts.do(t, http.MethodPost, "/accounts/"+id+"/sync", alice, "")
	if code != http.StatusAccepted || body["status"] != "queued" || body["task_ref"] == "" {
		t.Fatalf("trigger: got %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/accounts/"+id+"/sync", alice, "")
	if code != http.StatusConflict || body["status"] != "rejected" {
		t.Errorf("second trigger: got %d %v, want 409 rejected", code, body)
	}
	if len(ts.disp.tasks) != 1 {
		t.Errorf("tasks: got %d, want 1", len(ts.disp.tasks))
	}

	code, body = ts.do(t, http.MethodGet, "/accounts/"+id+"/sync", alice, "")
	if code != http.StatusOK || body["sync_in_progress"] != true {
		t.Errorf("status: got %d %v", code, body)
	}

	if _, err := ts.store.CreateAccount(context.Background(), api.MailAccount{ID: "full", Owner: "alice", Provider: "gmail"}); err != nil {
		t.Fatal(err)
	}
	ts.disp.err = queue.ErrQueueFull
	code, body = ts.do(t, http.MethodPost, "/accounts/full/sync", alice, "")
	if code != http.StatusServiceUnavailable || body["status"] != "rejected" {
		t.Errorf("trigger with full queue: got %d %v, want 503 rejected", code, body)
	}
	ts.disp.err = nil

	if code, _ := ts.do(t, http.MethodGet, "/accounts/nope/sync", alice, ""); code != http.StatusNotFound {
		t.Errorf("missing account: got %d, want 404", code)
	}
}

func TestApprovals(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice", "")
	bob := token(t, "bob", "")
	a := ts.seedApproval(t, "alice")
	path := "/approvals/" + a.ID

	code, body := ts.do(t, http.MethodGet, "/approvals?status=PENDING&sort=confidence&order=desc", alice, "")
	if code != http.StatusOK || len(body["approvals"].([]any)) != 1 {
		t.Errorf("list: got %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodGet, "/approvals?sort=amount", alice, ""); code != http.StatusUnprocessableEntity {
		t.Errorf("bad sort: got %d, want 422", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/approvals?limit=x", alice, ""); code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", code)
	}

	if code, _ := ts.do(t, http.MethodPost, path+"/approve", bob, ""); code != http.StatusNotFound {
		t.Errorf("foreign approve: got %d, want 404", code)
	}

	code, body = ts.do(t, http.MethodPost, path+"/approve", alice, `{"amount":"-1","category":"Gadgets"}`)
	if code != http.StatusUnprocessableEntity || len(body["fields"].([]any)) != 2 {
		t.Errorf("invalid override: got %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodPost, path+"/approve", alice, `{"category":"Food"}`)
	if code != http.StatusOK || body["approval_status"] != "APPROVED" || body["expense_id"] != "entry-"+a.ID {
		t.Fatalf("approve: got %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodPost, path+"/approve", alice, "")
	if code != http.StatusConflict || body["status"] != "APPROVED" {
		t.Errorf("approve twice: got %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodPost, path+"/reject", alice, ""); code != http.StatusConflict {
		t.Errorf("reject after approve: got %d, want 409", code)
	}

	b := ts.seedApproval(t, "bob")
	now := time.Now().UTC()
	if _, err := ts.store.ClaimApproval(context.Background(), b.ID, "in-flight", now, now.Add(-approval.ClaimTimeout)); err != nil {
		t.Fatal(err)
	}
	code, body = ts.do(t, http.MethodPost, "/approvals/"+b.ID+"/reject", bob, "")
	if code != http.StatusConflict || body["status"] != "PENDING" {
		t.Errorf("reject while approving: got %d %v, want 409 PENDING", code, body)
	}
	if err := ts.store.ReleaseApproval(context.Background(), b.ID, "in-flight"); err != nil {
		t.Fatal(err)
	}
	code, body = ts.do(t, http.MethodPost, "/approvals/"+b.ID+"/reject", bob, "")
	if code != http.StatusOK || body["approval_status"] != "REJECTED" {
		t.Errorf("reject: got %d %v", code, body)
	}
}

func TestAdminCleanup(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	acct, err := ts.store.CreateAccount(ctx, api.MailAccount{Owner: "alice", Provider: "gmail"})
	if err != nil {
		t.Fatal(err)
	}
	started := time.Now().UTC().Add(-2 * time.Hour)
	if ok, err := ts.store.AcquireSyncLock(ctx, acct.ID, "stuck", started, started); !ok || err != nil {
		t.Fatalf("seeding lock: %v %v", ok, err)
	}

	if code, _ := ts.do(t, http.MethodPost, "/admin/cleanup-stuck-syncs", token(t, "alice", ""), ""); code != http.StatusForbidden {
		t.Errorf("non-admin: got %d, want 403", code)
	}
	code, body := ts.do(t, http.MethodPost, "/admin/cleanup-stuck-syncs", token(t, "ops", RoleAdmin), "")
	if code != http.StatusOK || body["released"] != float64(1) {
		t.Errorf("cleanup: got %d %v", code, body)
	}
}
