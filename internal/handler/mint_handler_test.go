package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"token-mint-service/internal/domain"
	"token-mint-service/internal/usecase"
)

// stubPool はテスト用のIdentityPool実装。IdentityReleaserも兼ねる。
type stubPool struct {
	mu sync.Mutex

	leased   *domain.LeasedIdentity
	leaseErr error
	identity *domain.MintIdentity
	lease    *domain.MintLease
	mintKey  ed25519.PrivateKey

	releases map[string]int
}

func (p *stubPool) Lease(ctx context.Context, requester string) (*domain.LeasedIdentity, error) {
	if p.leaseErr != nil {
		return nil, p.leaseErr
	}
	return p.leased, nil
}

func (p *stubPool) Release(ctx context.Context, mintAddress string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.releases == nil {
		p.releases = make(map[string]int)
	}
	p.releases[mintAddress]++
	return nil
}

func (p *stubPool) MarkUsed(ctx context.Context, mintAddress string) error { return nil }

func (p *stubPool) Identity(ctx context.Context, mintAddress string) (*domain.MintIdentity, error) {
	return p.identity, nil
}

func (p *stubPool) RequireActiveLease(ctx context.Context, mintAddress string) (*domain.MintLease, error) {
	return p.lease, nil
}

func (p *stubPool) ExtendLease(ctx context.Context, mintAddress string) (time.Time, error) {
	return time.Now().Add(time.Minute), nil
}

func (p *stubPool) Unseal(ctx context.Context, identity *domain.MintIdentity) (ed25519.PrivateKey, error) {
	return p.mintKey, nil
}

// stubBuilder はテスト用のPayloadBuilder実装。
type stubBuilder struct {
	payload domain.Payload
}

func (b *stubBuilder) ValidateParams(params domain.CreationParams) error { return nil }

func (b *stubBuilder) BuildSimple(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error) {
	p := b.payload
	return &p, nil
}

func (b *stubBuilder) BuildConfig(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error) {
	p := b.payload
	return &p, nil
}

func (b *stubBuilder) BuildPool(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, configAddress string, params domain.CreationParams) ([]domain.Payload, error) {
	return []domain.Payload{b.payload}, nil
}

// memAttempts はテスト用のインメモリ試行リポジトリ。
type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]*domain.CreationAttempt
	seq      int
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: make(map[string]*domain.CreationAttempt)}
}

func (m *memAttempts) Create(ctx context.Context, attempt *domain.CreationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	attempt.ID = fmt.Sprintf("attempt-%d", m.seq)
	copied := *attempt
	m.attempts[attempt.ID] = &copied
	return nil
}

func (m *memAttempts) FindByID(ctx context.Context, id string) (*domain.CreationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[id]
	if !ok {
		return nil, nil
	}
	copied := *attempt
	return &copied, nil
}

func (m *memAttempts) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt, ok := m.attempts[id]; ok {
		attempt.Status = status
	}
	return nil
}

func (m *memAttempts) AdvanceToPool(ctx context.Context, id string, configAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt, ok := m.attempts[id]; ok {
		attempt.Step = domain.AttemptStepPool
		attempt.ConfigAddress = configAddress
		attempt.Status = domain.AttemptStatusPreparing
	}
	return nil
}

// stubSubmitter は常に確定を返すSubmitter実装。
type stubSubmitter struct{}

func (stubSubmitter) Submit(ctx context.Context, rawTx []byte) (*domain.SubmitResult, error) {
	return &domain.SubmitResult{Outcome: domain.SubmitConfirmed, Signature: "sig"}, nil
}

func (stubSubmitter) SignatureStatus(ctx context.Context, signature string) (domain.SubmitOutcome, error) {
	return domain.SubmitConfirmed, nil
}

// countOnlyIdentityRepo はプール占有数の取得だけを提供するモックリポジトリ。
type countOnlyIdentityRepo struct {
	counts map[domain.IdentityStatus]int64
}

func (r *countOnlyIdentityRepo) Create(ctx context.Context, identity *domain.MintIdentity) error {
	return nil
}

func (r *countOnlyIdentityRepo) FindByMintAddress(ctx context.Context, mintAddress string) (*domain.MintIdentity, error) {
	return nil, nil
}

func (r *countOnlyIdentityRepo) ClaimAvailable(ctx context.Context) (*domain.MintIdentity, error) {
	return nil, nil
}

func (r *countOnlyIdentityRepo) UpdateStatusIf(ctx context.Context, mintAddress string, from, to domain.IdentityStatus) (bool, error) {
	return false, nil
}

func (r *countOnlyIdentityRepo) CountByStatus(ctx context.Context) (map[domain.IdentityStatus]int64, error) {
	return r.counts, nil
}

// nopLeaseRepo は何もしないモックリポジトリ。
type nopLeaseRepo struct{}

func (nopLeaseRepo) Create(ctx context.Context, lease *domain.MintLease) error { return nil }
func (nopLeaseRepo) FindActiveByMintAddress(ctx context.Context, mintAddress string) (*domain.MintLease, error) {
	return nil, nil
}
func (nopLeaseRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.LeaseStatus) (bool, error) {
	return false, nil
}
func (nopLeaseRepo) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	return false, nil
}
func (nopLeaseRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]*domain.MintLease, error) {
	return nil, nil
}

// nopKMS は封緘をそのまま通すモックKMSクライアント。
type nopKMS struct{}

func (nopKMS) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (nopKMS) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// testFixture はハンドラテストに必要な鍵・ペイロード・ハンドラの組。
type testFixture struct {
	creatorPriv ed25519.PrivateKey
	payload     domain.Payload
	pool        *stubPool
	handler     *MintHandler
}

func setupFixture(t *testing.T) *testFixture {
	t.Helper()

	creatorPub, creatorPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	mintPub, mintPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	msg := &domain.TxMessage{
		Blockhash:    bytes.Repeat([]byte{0x01}, domain.BlockhashSize),
		SignerKeys:   [][]byte{creatorPub, mintPub},
		Instructions: []byte(`{"type":"create_token"}`),
	}
	message, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	payload := domain.Payload{Name: "create_token", Message: message}

	pool := &stubPool{
		leased: &domain.LeasedIdentity{
			MintAddress: "mint-addr-1",
			PublicKey:   mintPub,
			LeaseID:     "lease-id",
			ExpiresAt:   time.Now().Add(time.Minute),
		},
		identity: &domain.MintIdentity{
			MintAddress: "mint-addr-1",
			PublicKey:   mintPub,
			Status:      domain.IdentityStatusLeased,
		},
		lease: &domain.MintLease{
			ID:          "lease-id",
			MintAddress: "mint-addr-1",
			Status:      domain.LeaseStatusActive,
			ExpiresAt:   time.Now().Add(time.Minute),
		},
		mintKey: mintPriv,
	}

	coordinator := usecase.NewCoordinator(
		pool,
		&stubBuilder{payload: payload},
		newMemAttempts(),
		stubSubmitter{},
		usecase.NewCleanupDispatcher(pool),
		nil,
		time.Minute,
	)
	poolService := usecase.NewPoolService(
		&countOnlyIdentityRepo{counts: map[domain.IdentityStatus]int64{
			domain.IdentityStatusAvailable: 5,
			domain.IdentityStatusLeased:    2,
			domain.IdentityStatusUsed:      10,
		}},
		nopLeaseRepo{},
		nopKMS{},
		nil,
		45*time.Second,
		15*time.Second,
	)

	return &testFixture{
		creatorPriv: creatorPriv,
		payload:     payload,
		pool:        pool,
		handler:     NewMintHandler(coordinator, poolService),
	}
}

func doRequest(t *testing.T, h http.HandlerFunc, method, target string, body any, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func prepareAttempt(t *testing.T, f *testFixture) PrepareResponse {
	t.Helper()
	rec := doRequest(t, f.handler.Prepare, http.MethodPost, "/v1/mints/prepare", PrepareRequest{
		Requester: "creator-1",
		Mode:      "simple",
		Params:    domain.CreationParams{Name: "Test", Symbol: "TEST", Creator: "creator"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("prepare: want status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp PrepareResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestPrepare_Success(t *testing.T) {
	f := setupFixture(t)

	resp := prepareAttempt(t, f)
	if resp.AttemptID == "" {
		t.Error("expected attempt_id")
	}
	if resp.MintAddress != "mint-addr-1" {
		t.Errorf("want mint-addr-1, got %s", resp.MintAddress)
	}
	if len(resp.Payloads) != 1 {
		t.Fatalf("want 1 payload, got %d", len(resp.Payloads))
	}
	// ペイロードはbase64で払い出される
	decoded, err := base64.StdEncoding.DecodeString(resp.Payloads[0].Message)
	if err != nil {
		t.Fatalf("payload message is not base64: %v", err)
	}
	if !bytes.Equal(decoded, f.payload.Message) {
		t.Error("payload message does not match the built message")
	}
}

func TestPrepare_PoolExhausted(t *testing.T) {
	f := setupFixture(t)
	f.pool.leaseErr = domain.ErrPoolExhausted

	rec := doRequest(t, f.handler.Prepare, http.MethodPost, "/v1/mints/prepare", PrepareRequest{
		Requester: "creator-1",
		Mode:      "simple",
		Params:    domain.CreationParams{Name: "Test", Symbol: "TEST", Creator: "creator"},
	}, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("want status 503, got %d", rec.Code)
	}
	var errResp struct {
		Code string `json:"code"`
	}
	json.NewDecoder(rec.Body).Decode(&errResp)
	if errResp.Code != "POOL_EXHAUSTED" {
		t.Errorf("want code POOL_EXHAUSTED, got %s", errResp.Code)
	}
}

func TestPrepare_InvalidBody(t *testing.T) {
	f := setupFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/mints/prepare", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.handler.Prepare(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestSubmit_Success(t *testing.T) {
	f := setupFixture(t)
	prep := prepareAttempt(t, f)

	// クライアント側の部分署名（スロット0）
	tx := &domain.Transaction{
		Signatures: [][]byte{ed25519.Sign(f.creatorPriv, f.payload.Message), nil},
		Message:    f.payload.Message,
	}
	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	rec := doRequest(t, f.handler.Submit, http.MethodPost, "/v1/mints/"+prep.AttemptID+"/submit", SubmitRequest{
		SignedPayloads: []string{base64.StdEncoding.EncodeToString(raw)},
	}, map[string]string{"attempt_id": prep.AttemptID})

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp SubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(domain.AttemptStatusConfirmed) {
		t.Errorf("want status confirmed, got %s", resp.Status)
	}
	if len(resp.Signatures) != 1 {
		t.Errorf("want 1 signature, got %d", len(resp.Signatures))
	}
}

func TestSubmit_UnknownAttempt(t *testing.T) {
	f := setupFixture(t)

	rec := doRequest(t, f.handler.Submit, http.MethodPost, "/v1/mints/no-such-attempt/submit", SubmitRequest{
		SignedPayloads: []string{base64.StdEncoding.EncodeToString([]byte("tx"))},
	}, map[string]string{"attempt_id": "no-such-attempt"})

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestSubmit_InvalidBase64(t *testing.T) {
	f := setupFixture(t)
	prep := prepareAttempt(t, f)

	rec := doRequest(t, f.handler.Submit, http.MethodPost, "/v1/mints/"+prep.AttemptID+"/submit", SubmitRequest{
		SignedPayloads: []string{"%%% not base64 %%%"},
	}, map[string]string{"attempt_id": prep.AttemptID})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestSubmit_EmptyPayloads(t *testing.T) {
	f := setupFixture(t)
	prep := prepareAttempt(t, f)

	rec := doRequest(t, f.handler.Submit, http.MethodPost, "/v1/mints/"+prep.AttemptID+"/submit", SubmitRequest{},
		map[string]string{"attempt_id": prep.AttemptID})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestRelease_Success(t *testing.T) {
	f := setupFixture(t)
	prep := prepareAttempt(t, f)

	rec := doRequest(t, f.handler.Release, http.MethodPost, "/v1/mints/"+prep.AttemptID+"/release", ReleaseRequest{
		SignalCode:    4001,
		SignalMessage: "User rejected the request.",
	}, map[string]string{"attempt_id": prep.AttemptID})

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp ReleaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Outcome != string(domain.SignalRejected) {
		t.Errorf("want outcome rejected, got %s", resp.Outcome)
	}
	if f.pool.releases["mint-addr-1"] != 1 {
		t.Errorf("want 1 release, got %d", f.pool.releases["mint-addr-1"])
	}
}

func TestRelease_UnknownAttempt(t *testing.T) {
	f := setupFixture(t)

	rec := doRequest(t, f.handler.Release, http.MethodPost, "/v1/mints/no-such-attempt/release", nil,
		map[string]string{"attempt_id": "no-such-attempt"})

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestRelease_InvalidAttemptID(t *testing.T) {
	f := setupFixture(t)

	rec := doRequest(t, f.handler.Release, http.MethodPost, "/v1/mints/bad%20id/release", nil,
		map[string]string{"attempt_id": "bad id"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestPoolStatus(t *testing.T) {
	f := setupFixture(t)

	rec := doRequest(t, f.handler.PoolStatus, http.MethodGet, "/v1/mints/pool", nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp PoolStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Available != 5 || resp.Leased != 2 || resp.Used != 10 {
		t.Errorf("unexpected pool counts: %+v", resp)
	}
}
