package goIdentity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/internal/mockapi"
	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/storage"
	"github.com/MrEthical07/goIdentity/transport"
)

const testEmail = "user@example.com"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	server     *mockapi.Server
	ceremonies *mockapi.Ceremonies
	engine     *Engine
	storage    storage.SecureStorage
}

type envOptions struct {
	server  mockapi.Config
	config  func(*Config)
	storage storage.SecureStorage
	clock   func() time.Time
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.server.Now == nil && opts.clock != nil {
		opts.server.Now = opts.clock
	}
	server, err := mockapi.New(opts.server)
	if err != nil {
		t.Fatalf("mock server: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Polling.Enabled = false
	if opts.config != nil {
		opts.config(&cfg)
	}

	ceremonies := server.Ceremonies()
	b := New().
		WithConfig(cfg).
		WithTransport(server).
		WithCeremonies(ceremonies)
	if opts.storage != nil {
		b = b.WithStorage(opts.storage)
	}
	if opts.clock != nil {
		b = b.WithClock(opts.clock)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{server: server, ceremonies: ceremonies, engine: engine, storage: opts.storage}
}

func waitForEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event stream closed before %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func signInWithPassword(t *testing.T, env *testEnv) *model.SignIn {
	t.Helper()
	si, err := env.engine.CreateSignIn(context.Background(), SignInCreateParams{
		Identifier: testEmail,
		Password:   "correct horse",
	})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	if !si.IsComplete() {
		t.Fatalf("expected complete sign-in, got %s", si.Status)
	}
	return si
}

func TestEmailCodeSignInScenario(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	userID := env.server.AddAccount(mockapi.Account{Email: testEmail})
	ctx := context.Background()

	events, stop := env.engine.Subscribe()
	defer stop()

	si, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	if si.Status != model.SignInNeedsFirstFactor {
		t.Fatalf("status = %s", si.Status)
	}
	if held := env.engine.Client().SignIn; held == nil || held.ID != si.ID {
		t.Fatal("client snapshot should hold the attempt")
	}

	factor, si, err := env.engine.BeginFirstFactor(ctx, si.ID)
	if err != nil {
		t.Fatalf("begin first factor: %v", err)
	}
	if factor.Strategy != model.EmailCode() {
		t.Fatalf("selected %s, want email_code", factor.Strategy)
	}
	if env.server.Prepares() != 1 {
		t.Fatalf("expected one code delivery, got %d", env.server.Prepares())
	}

	si, err = env.engine.AttemptFirstFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.EmailCode(), Code: mockapi.DefaultCode})
	if err != nil {
		t.Fatalf("attempt first factor: %v", err)
	}
	if !si.IsComplete() || si.CreatedSessionID == "" {
		t.Fatalf("expected complete sign-in, got %+v", si)
	}
	active := env.engine.ActiveSession()
	if active == nil || active.ID != si.CreatedSessionID {
		t.Fatalf("active session = %+v, want %s", active, si.CreatedSessionID)
	}

	changed := waitForEvent(t, events, EventSessionChanged)
	if changed.SessionID != si.CreatedSessionID {
		t.Fatalf("sessionChanged for %q", changed.SessionID)
	}
	done := waitForEvent(t, events, EventSignInCompleted)
	if done.SessionID != si.CreatedSessionID || done.UserID != userID {
		t.Fatalf("signInCompleted = %+v", done)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricSignInCompleted] != 1 || snap.Counters[MetricFactorPrepared] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestReloadingCompleteSignInEmitsOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})

	events, stop := env.engine.Subscribe()
	defer stop()

	si := signInWithPassword(t, env)
	if _, err := env.engine.ReloadSignIn(context.Background(), si.ID, ""); err != nil {
		t.Fatalf("reload: %v", err)
	}
	waitForEvent(t, events, EventSignInCompleted)

	select {
	case ev := <-events:
		if ev.Type == EventSignInCompleted {
			t.Fatal("completion emitted twice")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSecondFactorSignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse", TOTP: true})
	ctx := context.Background()

	si, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail, Password: "correct horse"})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	if si.Status != model.SignInNeedsSecondFactor {
		t.Fatalf("status = %s", si.Status)
	}

	factor, si, err := env.engine.BeginSecondFactor(ctx, si.ID)
	if err != nil {
		t.Fatalf("begin second factor: %v", err)
	}
	if factor.Strategy != model.TOTP() {
		t.Fatalf("selected %s, want totp", factor.Strategy)
	}
	si, err = env.engine.AttemptSecondFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.TOTP(), Code: mockapi.DefaultCode})
	if err != nil {
		t.Fatalf("attempt second factor: %v", err)
	}
	if !si.IsComplete() {
		t.Fatalf("status = %s", si.Status)
	}
}

func TestInvalidStateFailsBeforeNetwork(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	ctx := context.Background()

	si, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	before := env.server.Requests()

	_, err = env.engine.AttemptSecondFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.TOTP(), Code: "123456"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Status != string(model.SignInNeedsFirstFactor) {
		t.Fatalf("unexpected state error %#v", err)
	}
	if env.server.Requests() != before {
		t.Fatal("guard must reject before any request")
	}

	if _, err := env.engine.AttemptFirstFactor(ctx, "sia_unknown", AttemptFactorParams{Strategy: model.EmailCode()}); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
	if _, err := env.engine.AttemptFirstFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.Passkey()}); !errors.Is(err, ErrInvalidFactor) {
		t.Fatalf("expected ErrInvalidFactor, got %v", err)
	}
}

func TestPrepareCooldownSuppressesResend(t *testing.T) {
	clock := newTestClock()
	env := newTestEnv(t, envOptions{clock: clock.Now})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	ctx := context.Background()

	si, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	factor, ok := env.engine.SelectFirstFactor(si)
	if !ok {
		t.Fatal("expected a first factor")
	}
	params := PrepareFactorParams{Strategy: factor.Strategy, EmailAddressID: factor.EmailAddressID}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.PrepareFirstFactor(ctx, si.ID, params); err != nil {
			t.Fatalf("prepare %d: %v", i, err)
		}
	}
	if env.server.Prepares() != 1 {
		t.Fatalf("expected one delivery inside the window, got %d", env.server.Prepares())
	}

	clock.Advance(31 * time.Second)
	if _, err := env.engine.PrepareFirstFactor(ctx, si.ID, params); err != nil {
		t.Fatalf("prepare after window: %v", err)
	}
	if env.server.Prepares() != 2 {
		t.Fatalf("expected resend after the window, got %d", env.server.Prepares())
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricPrepareSuppressed]; got != 2 {
		t.Fatalf("suppressed = %d, want 2", got)
	}
}

func TestWrongAndExpiredCodes(t *testing.T) {
	clock := newTestClock()
	env := newTestEnv(t, envOptions{clock: clock.Now, server: mockapi.Config{CodeTTL: time.Minute}})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	ctx := context.Background()

	si, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	if err != nil {
		t.Fatalf("create sign-in: %v", err)
	}
	if _, _, err := env.engine.BeginFirstFactor(ctx, si.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err = env.engine.AttemptFirstFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.EmailCode(), Code: "000000"})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Code != "form_code_incorrect" {
		t.Fatalf("expected form_code_incorrect validation error, got %v", err)
	}
	if !errors.Is(err, ErrServerValidation) {
		t.Fatal("validation error should match ErrServerValidation")
	}
	if v := env.engine.Client().SignIn.FirstFactorVerification; v == nil || v.AttemptCount() != 1 {
		t.Fatalf("rejected attempt should still update the client, got %+v", v)
	}

	clock.Advance(2 * time.Minute)
	_, err = env.engine.AttemptFirstFactor(ctx, si.ID, AttemptFactorParams{Strategy: model.EmailCode(), Code: mockapi.DefaultCode})
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("expected ErrAttemptExpired, got %v", err)
	}
	if errors.Is(err, ErrServerValidation) {
		t.Fatal("expired attempt must not be reported as a validation error")
	}
}

func TestTransientFailures(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	ctx := context.Background()

	env.server.FailNext("/v1/client/sign_ins", errors.New("connection reset"))
	_, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	if !errors.Is(err, ErrServerTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	env.server.FailNext("/v1/client/sign_ins", &transport.APIError{Status: 503})
	_, err = env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail})
	var transient *TransientError
	if !errors.As(err, &transient) || transient.Status != 503 {
		t.Fatalf("expected 503 transient error, got %v", err)
	}

	if _, err := env.engine.CreateSignIn(ctx, SignInCreateParams{Identifier: testEmail}); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
}

func TestOAuthSignUpTransfersToSignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	env.server.SetOAuthIdentity("google", mockapi.OAuthIdentity{Email: testEmail, FirstName: "Ada"})

	out, err := env.engine.SignUpWithOAuth(context.Background(), SignUpParams{
		Strategy:    model.OAuth("google"),
		RedirectURL: "goidentity://oauth-callback",
	})
	if err != nil {
		t.Fatalf("oauth sign-up: %v", err)
	}
	if !out.IsSignIn() || out.SignUp != nil {
		t.Fatalf("expected a sign-in outcome, got %+v", out)
	}
	if !out.SignIn.IsComplete() {
		t.Fatalf("transfer sign-in status = %s", out.SignIn.Status)
	}
	if env.engine.ActiveSession().ID != out.SignIn.CreatedSessionID {
		t.Fatal("transfer should activate the created session")
	}

	c := env.engine.MetricsSnapshot().Counters
	if c[MetricCallbackWithNonce] != 1 || c[MetricTransferPerformed] != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestOAuthSignUpWithoutNonceFetchesClient(t *testing.T) {
	env := newTestEnv(t, envOptions{server: mockapi.Config{OmitCallbackNonce: true}})
	env.server.SetOAuthIdentity("github", mockapi.OAuthIdentity{Email: "new@example.com"})

	out, err := env.engine.SignUpWithOAuth(context.Background(), SignUpParams{Strategy: model.OAuth("github")})
	if err != nil {
		t.Fatalf("oauth sign-up: %v", err)
	}
	if out.IsSignIn() || out.SignUp == nil || !out.SignUp.IsComplete() {
		t.Fatalf("expected complete sign-up, got %+v", out)
	}
	if env.engine.MetricsSnapshot().Counters[MetricCallbackWithoutNonce] != 1 {
		t.Fatal("expected the no-nonce callback path")
	}
}

func TestOAuthSignInUnknownUserTransfersToSignUp(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.SetOAuthIdentity("google", mockapi.OAuthIdentity{Email: "new@example.com"})
	ctx := context.Background()

	si, err := env.engine.SignInWithOAuth(ctx, model.OAuth("google"), "")
	if err != nil {
		t.Fatalf("oauth sign-in: %v", err)
	}
	if si.FirstFactorVerification == nil || si.FirstFactorVerification.Status != model.VerificationTransferable {
		t.Fatalf("expected transferable verification, got %+v", si.FirstFactorVerification)
	}

	su, err := env.engine.CreateSignUp(ctx, SignUpParams{Transfer: true})
	if err != nil {
		t.Fatalf("transfer sign-up: %v", err)
	}
	if !su.IsComplete() {
		t.Fatalf("sign-up status = %s", su.Status)
	}
}

func TestCancelledCeremonyIsDistinct(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.SetOAuthIdentity("google", mockapi.OAuthIdentity{Email: testEmail})

	env.ceremonies.CancelNext()
	_, err := env.engine.SignInWithOAuth(context.Background(), model.OAuth("google"), "")
	if !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if errors.Is(err, ErrServerTransient) || errors.Is(err, ErrServerValidation) {
		t.Fatal("cancellation must not look like a server failure")
	}

	c := env.engine.MetricsSnapshot().Counters
	if c[MetricCeremonyCancelled] != 1 || c[MetricCeremonyFailed] != 0 || c[MetricFactorFailed] != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestCeremoniesRequired(t *testing.T) {
	server, err := mockapi.New(mockapi.Config{})
	if err != nil {
		t.Fatalf("mock server: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Polling.Enabled = false
	engine, err := New().WithConfig(cfg).WithTransport(server).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := engine.SignInWithPasskey(context.Background()); !errors.Is(err, ErrCeremonyUnavailable) {
		t.Fatalf("expected ErrCeremonyUnavailable, got %v", err)
	}
	if server.Requests() != 0 {
		t.Fatal("no request should be sent without ceremonies")
	}
}

func TestIDTokenSignUpForNewUser(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.SetOAuthIdentity("apple", mockapi.OAuthIdentity{Email: "new@example.com", FirstName: "Grace", LastName: "Hopper"})

	events, stop := env.engine.Subscribe()
	defer stop()

	out, err := env.engine.SignUpWithIDToken(context.Background(), "apple", SignUpParams{})
	if err != nil {
		t.Fatalf("id token sign-up: %v", err)
	}
	if out.SignUp == nil || !out.SignUp.IsComplete() {
		t.Fatalf("expected complete sign-up, got %+v", out)
	}
	if out.SignUp.FirstName != "Grace" {
		t.Fatalf("profile hints not applied: %+v", out.SignUp)
	}
	ev := waitForEvent(t, events, EventSignUpCompleted)
	if ev.UserID != out.SignUp.CreatedUserID {
		t.Fatalf("signUpCompleted user = %q", ev.UserID)
	}
}

func TestIDTokenSignUpForExistingUserTransfers(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail})
	env.server.SetOAuthIdentity("apple", mockapi.OAuthIdentity{Email: testEmail})

	out, err := env.engine.SignUpWithIDToken(context.Background(), "apple", SignUpParams{})
	if err != nil {
		t.Fatalf("id token sign-up: %v", err)
	}
	if !out.IsSignIn() || !out.SignIn.IsComplete() {
		t.Fatalf("expected complete transfer sign-in, got %+v", out)
	}
}

func TestPasskeySignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Passkey: true})

	si, err := env.engine.SignInWithPasskey(context.Background())
	if err != nil {
		t.Fatalf("passkey sign-in: %v", err)
	}
	if !si.IsComplete() {
		t.Fatalf("status = %s", si.Status)
	}
	if env.ceremonies.Calls() != 1 {
		t.Fatalf("expected one ceremony, got %d", env.ceremonies.Calls())
	}
}

func TestEmailSignUpFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	su, err := env.engine.CreateSignUp(ctx, SignUpParams{EmailAddress: "new@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("create sign-up: %v", err)
	}
	step := NextSignUpStep(su)
	if step.Kind != StepVerify || step.Field != model.FieldEmailAddress {
		t.Fatalf("next step = %+v", step)
	}

	if _, err := env.engine.PrepareVerification(ctx, su.ID, model.EmailCode()); err != nil {
		t.Fatalf("prepare verification: %v", err)
	}
	if _, err := env.engine.PrepareVerification(ctx, su.ID, model.EmailCode()); err != nil {
		t.Fatalf("repeat prepare: %v", err)
	}
	if env.server.Prepares() != 1 {
		t.Fatalf("expected one delivery, got %d", env.server.Prepares())
	}

	su, err = env.engine.AttemptVerification(ctx, su.ID, model.EmailCode(), mockapi.DefaultCode)
	if err != nil {
		t.Fatalf("attempt verification: %v", err)
	}
	if !su.IsComplete() || su.CreatedSessionID == "" || su.CreatedUserID == "" {
		t.Fatalf("expected complete sign-up, got %+v", su)
	}
	if NextSignUpStep(su).Kind != StepComplete {
		t.Fatal("complete sign-up has no next step")
	}
	if env.engine.ActiveSession().ID != su.CreatedSessionID {
		t.Fatal("sign-up session should be active")
	}
}

func TestGetTokenCacheWindow(t *testing.T) {
	clock := newTestClock()
	env := newTestEnv(t, envOptions{clock: clock.Now, server: mockapi.Config{TokenTTL: 10 * time.Minute}})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)
	ctx := context.Background()
	opts := GetTokenOptions{Template: "api"}

	a, err := env.engine.GetToken(ctx, opts)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if env.server.TokenIssues() != 1 {
		t.Fatalf("issues = %d, want 1", env.server.TokenIssues())
	}

	clock.Advance(30 * time.Second)
	again, err := env.engine.GetToken(ctx, opts)
	if err != nil {
		t.Fatalf("get token at 30s: %v", err)
	}
	if again != a || env.server.TokenIssues() != 1 {
		t.Fatal("token inside the TTL should come from cache")
	}

	clock.Advance(31 * time.Second)
	b, err := env.engine.GetToken(ctx, opts)
	if err != nil {
		t.Fatalf("get token at 61s: %v", err)
	}
	if b == a || env.server.TokenIssues() != 2 {
		t.Fatalf("expected a fresh token after the TTL, issues = %d", env.server.TokenIssues())
	}
}

func TestGetTokenUsesSeededToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)

	token, err := env.engine.GetToken(context.Background(), GetTokenOptions{})
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if want := env.engine.ActiveSession().LastActiveToken.JWT; token != want {
		t.Fatal("default token should be seeded from the session")
	}
	if env.server.TokenIssues() != 0 {
		t.Fatalf("seeded token should not be fetched, issues = %d", env.server.TokenIssues())
	}

	if _, err := env.engine.GetToken(context.Background(), GetTokenOptions{SkipCache: true}); err != nil {
		t.Fatalf("skip cache: %v", err)
	}
	if env.server.TokenIssues() != 1 {
		t.Fatal("SkipCache should fetch")
	}
}

func TestGetTokenConcurrentCallersShareOneFetch(t *testing.T) {
	env := newTestEnv(t, envOptions{server: mockapi.Config{Latency: 20 * time.Millisecond}})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)

	const callers = 32
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = env.engine.GetToken(context.Background(), GetTokenOptions{Template: "api", OrganizationID: "org_1"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got a different token", i)
		}
	}
	if env.server.TokenIssues() != 1 {
		t.Fatalf("expected one fetch, got %d", env.server.TokenIssues())
	}
}

func TestGetTokenWithoutSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if _, err := env.engine.GetToken(context.Background(), GetTokenOptions{}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestRevokedSessionOnTokenFetch(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	si := signInWithPassword(t, env)

	events, stop := env.engine.Subscribe()
	defer stop()

	env.server.RevokeSession(si.CreatedSessionID)
	_, err := env.engine.GetToken(context.Background(), GetTokenOptions{SkipCache: true})
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if env.engine.ActiveSession() != nil {
		t.Fatal("revoked session should be removed")
	}
	ev := waitForEvent(t, events, EventSignedOut)
	if ev.SessionID != si.CreatedSessionID {
		t.Fatalf("signedOut for %q", ev.SessionID)
	}
}

func TestPollerStopsOnRevocation(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Token.TTL = 200 * time.Millisecond
		c.Polling.Enabled = true
		c.Polling.Interval = 20 * time.Millisecond
	}})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})

	events, stop := env.engine.Subscribe()
	defer stop()

	si := signInWithPassword(t, env)
	waitFor(t, "first poll", func() bool { return env.server.TokenIssues() >= 1 })
	if id, running := env.engine.Polling(); !running || id != si.CreatedSessionID {
		t.Fatalf("poller running=%v on %q", running, id)
	}

	env.server.RevokeSession(si.CreatedSessionID)
	ev := waitForEvent(t, events, EventSignedOut)
	if ev.SessionID != si.CreatedSessionID {
		t.Fatalf("signedOut for %q", ev.SessionID)
	}
	waitFor(t, "poller stop", func() bool {
		_, running := env.engine.Polling()
		return !running
	})
	if env.engine.MetricsSnapshot().Counters[MetricSessionRevoked] != 1 {
		t.Fatal("expected one revocation")
	}
}

func TestPollerTransientFailureKeepsPolling(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Token.TTL = 200 * time.Millisecond
		c.Polling.Enabled = true
		c.Polling.Interval = 20 * time.Millisecond
	}})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	env.server.FailNext("/v1/client/sessions", &transport.APIError{Status: 502})

	signInWithPassword(t, env)
	waitFor(t, "recovery after transient failure", func() bool { return env.server.TokenIssues() >= 1 })
	if _, running := env.engine.Polling(); !running {
		t.Fatal("transient failures must not stop polling")
	}
	if env.engine.MetricsSnapshot().Counters[MetricPollFailure] < 1 {
		t.Fatal("expected a recorded poll failure")
	}
}

func TestBackgroundStopsPolling(t *testing.T) {
	env := newTestEnv(t, envOptions{config: func(c *Config) {
		c.Token.TTL = time.Second
		c.Polling.Enabled = true
		c.Polling.Interval = 100 * time.Millisecond
	}})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	si := signInWithPassword(t, env)

	env.engine.Background()
	if _, running := env.engine.Polling(); running {
		t.Fatal("background should stop polling")
	}
	env.engine.Foreground()
	if id, running := env.engine.Polling(); !running || id != si.CreatedSessionID {
		t.Fatal("foreground should resume polling the active session")
	}
}

func TestStoppingPollerDoesNotFailSharedTokenFetch(t *testing.T) {
	env := newTestEnv(t, envOptions{
		server: mockapi.Config{Latency: 150 * time.Millisecond},
		config: func(c *Config) {
			c.Polling.Enabled = true
		},
	})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	si := signInWithPassword(t, env)
	waitFor(t, "polling", func() bool {
		id, running := env.engine.Polling()
		return running && id == si.CreatedSessionID
	})

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := env.engine.GetToken(context.Background(), GetTokenOptions{SkipCache: true})
		done <- result{token, err}
	}()
	time.Sleep(30 * time.Millisecond)
	env.engine.Background()

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("get token after poller stop: %v", got.err)
		}
		if got.token == "" {
			t.Fatal("expected a token")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token")
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	si := signInWithPassword(t, env)

	events, stop := env.engine.Subscribe()
	defer stop()

	if err := env.engine.SignOut(context.Background(), ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if env.engine.ActiveSession() != nil {
		t.Fatal("no session should be active after sign out")
	}
	ev := waitForEvent(t, events, EventSignedOut)
	if ev.SessionID != si.CreatedSessionID {
		t.Fatalf("signedOut for %q", ev.SessionID)
	}
	if _, err := env.engine.GetToken(context.Background(), GetTokenOptions{}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := env.engine.SignOut(context.Background(), ""); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("second sign out: %v", err)
	}
}

func TestSignOutAllClearsClient(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)

	if err := env.engine.SignOutAll(context.Background()); err != nil {
		t.Fatalf("sign out all: %v", err)
	}
	if env.engine.Client() != nil {
		t.Fatal("client should be cleared")
	}
}

func TestSignOutAllRefusesLateOlderSnapshot(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)

	late := env.engine.Client()
	late.UpdatedAt = late.UpdatedAt.Add(-time.Millisecond)

	if err := env.engine.SignOutAll(context.Background()); err != nil {
		t.Fatalf("sign out all: %v", err)
	}
	stale := env.engine.MetricsSnapshot().Counters[MetricSnapshotStale]
	env.engine.applyClient(late)

	if env.engine.Client() != nil {
		t.Fatal("a snapshot from before sign out must not restore the client")
	}
	if env.engine.MetricsSnapshot().Counters[MetricSnapshotStale] != stale+1 {
		t.Fatal("late snapshot should count as stale")
	}
}

func TestSetActiveSwitchesSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	first := signInWithPassword(t, env)
	second := signInWithPassword(t, env)
	if env.engine.ActiveSession().ID != second.CreatedSessionID {
		t.Fatal("latest sign-in should be active")
	}

	if err := env.engine.SetActive(context.Background(), first.CreatedSessionID); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if env.engine.ActiveSession().ID != first.CreatedSessionID {
		t.Fatal("set active should switch the active session")
	}
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	base := time.Unix(1_700_000_000, 0)
	stale := env.engine.MetricsSnapshot().Counters[MetricSnapshotStale]

	env.engine.applyClient(&model.Client{ID: "client_1", Sessions: []model.Session{}, UpdatedAt: base.Add(time.Second)})
	env.engine.applyClient(&model.Client{ID: "client_1", Sessions: []model.Session{}, UpdatedAt: base})

	if got := env.engine.Client().UpdatedAt; !got.Equal(base.Add(time.Second)) {
		t.Fatalf("updatedAt regressed to %v", got)
	}
	if env.engine.MetricsSnapshot().Counters[MetricSnapshotStale] != stale+1 {
		t.Fatal("expected one stale snapshot")
	}
}

func TestInvalidSnapshotIsDropped(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.engine.applyClient(&model.Client{ID: "client_1", LastActiveSessionID: "sess_missing", UpdatedAt: time.Now()})
	if env.engine.Client() != nil {
		t.Fatal("invalid snapshot must not be applied")
	}
	if env.engine.MetricsSnapshot().Counters[MetricSnapshotInvalid] != 1 {
		t.Fatal("expected one invalid snapshot")
	}
}

func TestLoadRestoresPersistedSnapshot(t *testing.T) {
	mem := storage.NewMemory()
	env := newTestEnv(t, envOptions{storage: mem})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	si := signInWithPassword(t, env)
	env.engine.Close()

	cfg := DefaultConfig()
	cfg.Polling.Enabled = false
	restored, err := New().WithConfig(cfg).WithTransport(env.server).WithStorage(mem).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer restored.Close()

	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	active := restored.ActiveSession()
	if active == nil || active.ID != si.CreatedSessionID {
		t.Fatalf("restored active session = %+v", active)
	}

	before := env.server.Requests()
	if _, err := restored.GetToken(context.Background(), GetTokenOptions{}); err != nil {
		t.Fatalf("get token: %v", err)
	}
	if env.server.Requests() != before {
		t.Fatal("restored session token should be served from the seeded cache")
	}
}

func TestLoadWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t, envOptions{storage: storage.NewMemory()})
	if err := env.engine.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if env.engine.Client() != nil {
		t.Fatal("nothing should be restored")
	}
}

func TestSignOutAllDeletesPersistedSnapshot(t *testing.T) {
	mem := storage.NewMemory()
	env := newTestEnv(t, envOptions{storage: mem})
	env.server.AddAccount(mockapi.Account{Email: testEmail, Password: "correct horse"})
	signInWithPassword(t, env)

	if err := env.engine.SignOutAll(context.Background()); err != nil {
		t.Fatalf("sign out all: %v", err)
	}
	env.engine.Close()

	if _, err := mem.Load(context.Background(), DefaultConfig().Storage.Key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected deleted snapshot, got %v", err)
	}
}

func TestClosedEngineRejectsRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.engine.Close()
	if _, err := env.engine.CreateSignIn(context.Background(), SignInCreateParams{Identifier: testEmail}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
