package usecase

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"token-mint-service/internal/domain"
)

// IdentityPool はコーディネータから見たミントIDプールのインターフェース。
type IdentityPool interface {
	Lease(ctx context.Context, requester string) (*domain.LeasedIdentity, error)
	Release(ctx context.Context, mintAddress string) error
	MarkUsed(ctx context.Context, mintAddress string) error
	Identity(ctx context.Context, mintAddress string) (*domain.MintIdentity, error)
	RequireActiveLease(ctx context.Context, mintAddress string) (*domain.MintLease, error)
	ExtendLease(ctx context.Context, mintAddress string) (time.Time, error)
	Unseal(ctx context.Context, identity *domain.MintIdentity) (ed25519.PrivateKey, error)
}

// PayloadBuilder は未署名ペイロード構築のインターフェース。
type PayloadBuilder interface {
	ValidateParams(params domain.CreationParams) error
	BuildSimple(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error)
	BuildConfig(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error)
	BuildPool(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, configAddress string, params domain.CreationParams) ([]domain.Payload, error)
}

// AttemptRepository は作成試行データアクセスのインターフェース。
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.CreationAttempt) error
	FindByID(ctx context.Context, id string) (*domain.CreationAttempt, error)
	UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus) error
	AdvanceToPool(ctx context.Context, id string, configAddress string) error
}

// Submitter は全署名済みトランザクションの送信と結果分類のインターフェース。
type Submitter interface {
	Submit(ctx context.Context, rawTx []byte) (*domain.SubmitResult, error)
	SignatureStatus(ctx context.Context, signature string) (domain.SubmitOutcome, error)
}

// sessionState は署名セッションの内部状態。
type sessionState int

const (
	sessionAwaiting sessionState = iota
	sessionClaimed
	sessionTimedOut
	sessionCancelled
)

// signingSession は1回の署名ウィンドウを表す。
// 署名の到着とデッドラインの競争は、提出経路とタイマーの両方が
// awaiting状態からの遷移を奪い合う形で解決する。先に遷移した側が勝ち、
// 負けた側（期限後に到着した署名など）は破棄される。
type signingSession struct {
	attemptID   string
	mintAddress string
	mode        domain.AttemptMode
	step        domain.AttemptStep
	payloads    []domain.Payload // 構築順を保持する
	deadline    time.Time
	timer       *time.Timer

	mu    sync.Mutex
	state sessionState
}

// transition はfromからtoへの状態遷移を試みる。遷移できた場合のみtrueを返す。
func (s *signingSession) transition(from, to sessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// PrepareResult は署名待ちペイロードの払い出し結果。
type PrepareResult struct {
	AttemptID   string
	MintAddress string
	Step        domain.AttemptStep
	Payloads    []domain.Payload
	ExpiresAt   time.Time // クライアントが署名を返すべき期限
}

// SubmitSummary は署名済みペイロード提出の処理結果。
type SubmitSummary struct {
	AttemptID     string
	MintAddress   string
	Step          domain.AttemptStep
	Status        domain.AttemptStatus
	ConfigAddress string   // 設定ステップ確定時に設定される
	Signatures    []string // 確定したトランザクションの識別子（送信順）
}

// Coordinator は両面署名プロトコルの状態機械を編成する。
// 未署名ペイロードを払い出し、クライアントの部分署名を受け取り、
// ミントIDの署名を加えて送信し、非成功の全経路でリースを解決する。
type Coordinator struct {
	pool          IdentityPool
	builder       PayloadBuilder
	attempts      AttemptRepository
	submitter     Submitter
	cleanup       *CleanupDispatcher
	metrics       MetricsRecorder
	signingWindow time.Duration

	mu       sync.Mutex
	sessions map[string]*signingSession
}

// NewCoordinator は新しいCoordinatorを生成する。
func NewCoordinator(pool IdentityPool, builder PayloadBuilder, attempts AttemptRepository, submitter Submitter, cleanup *CleanupDispatcher, metrics MetricsRecorder, signingWindow time.Duration) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics
	}
	return &Coordinator{
		pool:          pool,
		builder:       builder,
		attempts:      attempts,
		submitter:     submitter,
		cleanup:       cleanup,
		metrics:       metrics,
		signingWindow: signingWindow,
		sessions:      make(map[string]*signingSession),
	}
}

// registerSession は署名セッションを登録し、デッドラインタイマーを張る。
func (c *Coordinator) registerSession(attemptID, mintAddress string, mode domain.AttemptMode, step domain.AttemptStep, payloads []domain.Payload) time.Time {
	deadline := time.Now().Add(c.signingWindow)
	session := &signingSession{
		attemptID:   attemptID,
		mintAddress: mintAddress,
		mode:        mode,
		step:        step,
		payloads:    payloads,
		deadline:    deadline,
		state:       sessionAwaiting,
	}
	session.timer = time.AfterFunc(time.Until(deadline), func() {
		c.onDeadline(attemptID)
	})

	c.mu.Lock()
	c.sessions[attemptID] = session
	c.mu.Unlock()
	return deadline
}

// removeSession はセッションを登録から外す。
func (c *Coordinator) removeSession(attemptID string) {
	c.mu.Lock()
	delete(c.sessions, attemptID)
	c.mu.Unlock()
}

// onDeadline は署名ウィンドウの満了を処理する。提出側との競争に勝った場合のみ
// リースを解放し、試行を失敗へ遷移させる。
func (c *Coordinator) onDeadline(attemptID string) {
	c.mu.Lock()
	session := c.sessions[attemptID]
	c.mu.Unlock()
	if session == nil {
		return
	}
	if !session.transition(sessionAwaiting, sessionTimedOut) {
		return
	}
	c.removeSession(attemptID)

	ctx := context.Background()
	c.cleanup.Release(session.mintAddress)
	if err := c.attempts.UpdateStatus(ctx, attemptID, domain.AttemptStatusFailed); err != nil {
		slog.Error("failed to mark attempt as timed out",
			"attempt_id", attemptID,
			"error", err,
		)
	}
	c.metrics.RecordLeaseOutcome("timed_out")
	slog.Info("signing window elapsed",
		"attempt_id", attemptID,
		"mint_address", session.mintAddress,
		"step", session.step,
	)
}

// claimSession は提出のためにセッションを獲得する。
// 期限切れ後に到着した署名はここで破棄される。獲得したセッションは
// 提出が決着するまで登録に残り、並行キャンセルはこれを見て手を引く。
func (c *Coordinator) claimSession(ctx context.Context, attemptID string) (*signingSession, error) {
	c.mu.Lock()
	session := c.sessions[attemptID]
	c.mu.Unlock()

	if session == nil {
		attempt, err := c.attempts.FindByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("finding attempt: %w", err)
		}
		if attempt == nil {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, domain.ErrSessionExpired
	}
	if !session.transition(sessionAwaiting, sessionClaimed) {
		return nil, domain.ErrSessionExpired
	}
	session.timer.Stop()
	return session, nil
}

// Prepare はミントIDをリースし、未署名ペイロードを払い出して署名待ちへ入る。
// simpleモードでは作成トランザクション1件、projectモードでは設定トランザクション1件を返す。
func (c *Coordinator) Prepare(ctx context.Context, requester string, mode domain.AttemptMode, params domain.CreationParams) (*PrepareResult, error) {
	if requester == "" {
		return nil, fmt.Errorf("%w: requester is required", domain.ErrInvalidRequest)
	}
	if mode != domain.AttemptModeSimple && mode != domain.AttemptModeProject {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidRequest, mode)
	}
	// パラメータ不備はリース取得前に拒否する
	if err := c.builder.ValidateParams(params); err != nil {
		return nil, err
	}

	leased, err := c.pool.Lease(ctx, requester)
	if err != nil {
		return nil, err
	}

	lease, err := c.pool.RequireActiveLease(ctx, leased.MintAddress)
	if err != nil {
		c.cleanup.Release(leased.MintAddress)
		return nil, err
	}

	var payload *domain.Payload
	if mode == domain.AttemptModeSimple {
		payload, err = c.builder.BuildSimple(ctx, lease, leased.PublicKey, params)
	} else {
		payload, err = c.builder.BuildConfig(ctx, lease, leased.PublicKey, params)
	}
	if err != nil {
		c.cleanup.Release(leased.MintAddress)
		return nil, err
	}

	attempt := &domain.CreationAttempt{
		MintAddress: leased.MintAddress,
		Requester:   requester,
		Mode:        mode,
		Step:        domain.AttemptStepConfig,
		Status:      domain.AttemptStatusAwaitingSignature,
	}
	if err := c.attempts.Create(ctx, attempt); err != nil {
		c.cleanup.Release(leased.MintAddress)
		return nil, fmt.Errorf("creating attempt: %w", err)
	}

	payloads := []domain.Payload{*payload}
	deadline := c.registerSession(attempt.ID, leased.MintAddress, mode, domain.AttemptStepConfig, payloads)

	return &PrepareResult{
		AttemptID:   attempt.ID,
		MintAddress: leased.MintAddress,
		Step:        domain.AttemptStepConfig,
		Payloads:    payloads,
		ExpiresAt:   deadline,
	}, nil
}

// PreparePool は設定確定後のプールステップのペイロードバッチを払い出す。
// 設定トランザクションが確定していない試行からは到達できない。
func (c *Coordinator) PreparePool(ctx context.Context, attemptID string, params domain.CreationParams) (*PrepareResult, error) {
	attempt, err := c.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("finding attempt: %w", err)
	}
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.Mode != domain.AttemptModeProject {
		return nil, fmt.Errorf("%w: attempt is not a project creation", domain.ErrInvalidRequest)
	}
	if attempt.Step != domain.AttemptStepPool || attempt.ConfigAddress == "" {
		return nil, domain.ErrConfigNotConfirmed
	}
	if attempt.Status != domain.AttemptStatusPreparing {
		return nil, fmt.Errorf("%w: attempt is %s", domain.ErrInvalidRequest, attempt.Status)
	}

	lease, err := c.pool.RequireActiveLease(ctx, attempt.MintAddress)
	if err != nil {
		return nil, err
	}
	if _, err := c.pool.ExtendLease(ctx, attempt.MintAddress); err != nil {
		return nil, err
	}

	identity, err := c.pool.Identity(ctx, attempt.MintAddress)
	if err != nil {
		return nil, err
	}

	payloads, err := c.builder.BuildPool(ctx, lease, identity.PublicKey, attempt.ConfigAddress, params)
	if err != nil {
		return nil, err
	}

	if err := c.attempts.UpdateStatus(ctx, attemptID, domain.AttemptStatusAwaitingSignature); err != nil {
		return nil, fmt.Errorf("updating attempt status: %w", err)
	}
	deadline := c.registerSession(attemptID, attempt.MintAddress, attempt.Mode, domain.AttemptStepPool, payloads)

	return &PrepareResult{
		AttemptID:   attemptID,
		MintAddress: attempt.MintAddress,
		Step:        domain.AttemptStepPool,
		Payloads:    payloads,
		ExpiresAt:   deadline,
	}, nil
}

// failAttempt は試行を失敗へ遷移させる（記録エラーはログのみ）。
func (c *Coordinator) failAttempt(ctx context.Context, attemptID string) {
	if err := c.attempts.UpdateStatus(ctx, attemptID, domain.AttemptStatusFailed); err != nil {
		slog.ErrorContext(ctx, "failed to mark attempt as failed",
			"attempt_id", attemptID,
			"error", err,
		)
	}
}

// countersign はクライアントの部分署名を検証し、ミントIDの署名を加える。
// 返り値は送信可能な全署名済みトランザクションのバイト列。
func countersign(rawTx []byte, expected *domain.Payload, mintPublicKey []byte, mintKey ed25519.PrivateKey) ([]byte, error) {
	tx, err := domain.UnmarshalTransaction(rawTx)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tx.Message, expected.Message) {
		return nil, fmt.Errorf("%w: payload %q does not match the prepared message", domain.ErrInvalidRequest, expected.Name)
	}

	msg, err := domain.UnmarshalTxMessage(tx.Message)
	if err != nil {
		return nil, err
	}
	if len(tx.Signatures) != len(msg.SignerKeys) {
		return nil, fmt.Errorf("%w: signature slot count mismatch", domain.ErrMalformedPayload)
	}
	if len(msg.SignerKeys) < 2 || !bytes.Equal(msg.SignerKeys[1], mintPublicKey) {
		return nil, fmt.Errorf("%w: message does not reference the leased mint", domain.ErrInvalidRequest)
	}
	if !tx.SignatureFilled(0) || !ed25519.Verify(ed25519.PublicKey(msg.SignerKeys[0]), tx.Message, tx.Signatures[0]) {
		return nil, fmt.Errorf("%w: payload %q", domain.ErrSignatureInvalid, expected.Name)
	}

	tx.Signatures[1] = ed25519.Sign(mintKey, tx.Message)
	return tx.Marshal()
}

// Submit は署名済みペイロードを受け取り、対署名・送信・確定までを駆動する。
// バッチは構築順に厳密に処理され、途中で失敗しても送信済みのペイロードは取り消されない。
func (c *Coordinator) Submit(ctx context.Context, attemptID string, rawTxs [][]byte) (*SubmitSummary, error) {
	session, err := c.claimSession(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	// 決着までセッションを登録に残し、キャンセルによる横取りを防ぐ
	defer c.removeSession(attemptID)
	mintAddress := session.mintAddress

	if len(rawTxs) != len(session.payloads) {
		c.cleanup.Release(mintAddress)
		c.failAttempt(ctx, attemptID)
		return nil, fmt.Errorf("%w: expected %d signed payloads, got %d", domain.ErrInvalidRequest, len(session.payloads), len(rawTxs))
	}

	identity, err := c.pool.Identity(ctx, mintAddress)
	if err != nil {
		c.cleanup.Release(mintAddress)
		c.failAttempt(ctx, attemptID)
		return nil, err
	}
	if _, err := c.pool.RequireActiveLease(ctx, mintAddress); err != nil {
		// 期限切れリースは遅延回収済み。冪等なので重ねて解放してよい。
		c.cleanup.Release(mintAddress)
		c.failAttempt(ctx, attemptID)
		return nil, err
	}

	mintKey, err := c.pool.Unseal(ctx, identity)
	if err != nil {
		c.cleanup.Release(mintAddress)
		c.failAttempt(ctx, attemptID)
		return nil, err
	}

	// 送信前に全ペイロードを検証・対署名する
	signed := make([][]byte, len(rawTxs))
	txSigs := make([]string, len(rawTxs))
	for i, raw := range rawTxs {
		full, err := countersign(raw, &session.payloads[i], identity.PublicKey, mintKey)
		if err != nil {
			c.cleanup.Release(mintAddress)
			c.failAttempt(ctx, attemptID)
			return nil, err
		}
		tx, _ := domain.UnmarshalTransaction(full)
		signed[i] = full
		txSigs[i] = tx.TxSignature()
	}

	if err := c.attempts.UpdateStatus(ctx, attemptID, domain.AttemptStatusSubmitting); err != nil {
		slog.ErrorContext(ctx, "failed to mark attempt as submitting",
			"attempt_id", attemptID,
			"error", err,
		)
	}

	// 構築順に送信する。後続ペイロードは先行ペイロードの確定に依存し得る。
	confirmed := make([]string, 0, len(signed))
	for i, raw := range signed {
		outcome, err := c.submitPayload(ctx, raw, txSigs[i])
		if err != nil {
			return nil, err
		}
		switch outcome {
		case domain.SubmitConfirmed:
			c.metrics.RecordSubmitOutcome(string(domain.SubmitConfirmed))
			confirmed = append(confirmed, txSigs[i])
		case domain.SubmitBlockhashExpired:
			c.metrics.RecordSubmitOutcome(string(domain.SubmitBlockhashExpired))
			c.cleanup.Release(mintAddress)
			c.failAttempt(ctx, attemptID)
			return nil, fmt.Errorf("%w: payload %q", domain.ErrBlockhashExpired, session.payloads[i].Name)
		case domain.SubmitNetworkRejected:
			c.metrics.RecordSubmitOutcome(string(domain.SubmitNetworkRejected))
			c.cleanup.Release(mintAddress)
			c.failAttempt(ctx, attemptID)
			return nil, fmt.Errorf("%w: payload %q", domain.ErrSubmitRejected, session.payloads[i].Name)
		case domain.SubmitAmbiguous:
			// 着地済みの可能性があるため、リースは解放しない。
			// 確定すればスイープ前にmarkUsed相当の再処理が可能になる。
			c.metrics.RecordSubmitOutcome(string(domain.SubmitAmbiguous))
			c.failAttempt(ctx, attemptID)
			return nil, fmt.Errorf("%w: payload %q", domain.ErrAmbiguousSubmit, session.payloads[i].Name)
		}
	}

	summary := &SubmitSummary{
		AttemptID:   attemptID,
		MintAddress: mintAddress,
		Step:        session.step,
		Signatures:  confirmed,
	}

	if session.step == domain.AttemptStepConfig && session.mode == domain.AttemptModeProject {
		// 設定ステップの確定。プールステップへ進み、リースを延長する。
		configAddress := domain.DeriveConfigAddress(session.payloads[0].Message)
		if err := c.attempts.AdvanceToPool(ctx, attemptID, configAddress); err != nil {
			return nil, fmt.Errorf("advancing attempt: %w", err)
		}
		if _, err := c.pool.ExtendLease(ctx, mintAddress); err != nil {
			return nil, err
		}
		summary.Status = domain.AttemptStatusPreparing
		summary.ConfigAddress = configAddress
		return summary, nil
	}

	// 単一トランザクション作成、またはプールバッチ全件の確定。IDを消費する。
	if err := c.pool.MarkUsed(ctx, mintAddress); err != nil {
		return nil, err
	}
	if err := c.attempts.UpdateStatus(ctx, attemptID, domain.AttemptStatusConfirmed); err != nil {
		slog.ErrorContext(ctx, "failed to mark attempt as confirmed",
			"attempt_id", attemptID,
			"error", err,
		)
	}
	summary.Status = domain.AttemptStatusConfirmed
	return summary, nil
}

// submitPayload は1件のペイロードを送信し、不確定な結果については
// オンチェーンの署名ステータスを明示的に照会してから判定する。
func (c *Coordinator) submitPayload(ctx context.Context, rawTx []byte, txSignature string) (domain.SubmitOutcome, error) {
	result, err := c.submitter.Submit(ctx, rawTx)
	if err != nil {
		// 送信要求が到達したかどうか不明。不確定として扱う。
		slog.ErrorContext(ctx, "transaction submission failed",
			"signature", txSignature,
			"error", err,
		)
		result = &domain.SubmitResult{Outcome: domain.SubmitAmbiguous, Signature: txSignature, Detail: err.Error()}
	}

	if result.Outcome != domain.SubmitAmbiguous {
		return result.Outcome, nil
	}

	// "already processed" のような不確定応答は推測で済ませず、
	// ステータス照会で着地の有無を確認する。
	status, err := c.submitter.SignatureStatus(ctx, txSignature)
	if err != nil {
		slog.ErrorContext(ctx, "signature status reconciliation failed",
			"signature", txSignature,
			"error", err,
		)
		return domain.SubmitAmbiguous, nil
	}
	if status == domain.SubmitConfirmed {
		return domain.SubmitConfirmed, nil
	}
	return domain.SubmitNetworkRejected, nil
}

// Cancel は利用者起点のキャンセル（明示的な署名拒否やクライアント側タイムアウト）を処理する。
// プロバイダ固有のシグナルを分類した上でリースを解放する。重複呼び出しは冪等。
// 提出経路が既にセッションを獲得している場合、送信済みのトランザクションが
// 着地し得るため、キャンセルはリースに触れず結果分類だけを返す。
func (c *Coordinator) Cancel(ctx context.Context, attemptID string, signalCode int, signalMessage string) (domain.SignalOutcome, error) {
	outcome := domain.ClassifySignal(signalCode, signalMessage)

	// セッションの獲得競争を先に解決する。負けた側は解放を行わない。
	c.mu.Lock()
	session := c.sessions[attemptID]
	c.mu.Unlock()
	cancelled := false
	if session != nil {
		if !session.transition(sessionAwaiting, sessionCancelled) {
			return outcome, nil
		}
		session.timer.Stop()
		c.removeSession(attemptID)
		cancelled = true
	}

	attempt, err := c.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return outcome, fmt.Errorf("finding attempt: %w", err)
	}
	if attempt == nil {
		return outcome, domain.ErrAttemptNotFound
	}

	if !cancelled {
		if attempt.Status.Terminal() {
			// 既に解決済み。タイムアウトと遅延した拒否イベントの両方が届いた場合など。
			return outcome, nil
		}
		if attempt.Status == domain.AttemptStatusSubmitting {
			// 送信中。リースの解決は提出経路が行う。
			return outcome, nil
		}
	}

	c.cleanup.Release(attempt.MintAddress)

	status := domain.AttemptStatusFailed
	if outcome == domain.SignalRejected {
		status = domain.AttemptStatusCancelled
		c.metrics.RecordLeaseOutcome("rejected")
	}
	if err := c.attempts.UpdateStatus(ctx, attemptID, status); err != nil {
		slog.ErrorContext(ctx, "failed to mark attempt as cancelled",
			"attempt_id", attemptID,
			"error", err,
		)
	}
	return outcome, nil
}
