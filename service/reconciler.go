package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"healthrecords/auth"
	"healthrecords/models"
	"healthrecords/registry"
	"healthrecords/storage"
	"healthrecords/wallet"
)

// ErrNoPendingRegistration is returned by RetryLedgerRegistration when the
// last registration reached the ledger.
var ErrNoPendingRegistration = errors.New("no pending ledger registration")

// State of the binding between the signed-in identity and the wallet.
type State int

const (
	Disconnected State = iota
	ConnectedUnverified
	Bound
	Mismatched
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ConnectedUnverified:
		return "connected_unverified"
	case Bound:
		return "bound"
	case Mismatched:
		return "mismatched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// deriveState is the whole state machine: the state is a function of the
// loaded identity and the connected address, nothing else.
func deriveState(identity *models.Identity, current common.Address, connected bool) State {
	switch {
	case !connected:
		return Disconnected
	case identity == nil:
		return ConnectedUnverified
	case models.AddressesMatch(identity.BoundWallet, current):
		return Bound
	default:
		return Mismatched
	}
}

// StateChange is published whenever the derived state changes.
type StateChange struct {
	From    State          `json:"from"`
	To      State          `json:"to"`
	Address common.Address `json:"address"`
}

type WalletSession interface {
	Connect(ctx context.Context) (common.Address, error)
	Switch(address common.Address) error
	Disconnect()
	CurrentAddress() (common.Address, bool)
	SubscribeAddressChanges(ch chan<- wallet.AddressChange) event.Subscription
}

type Ledger interface {
	RegisterPatient(ctx context.Context, from common.Address) error
	RegisterDoctor(ctx context.Context, from common.Address) error
	AdminRegisterPatient(ctx context.Context, from, patient common.Address) error
	AdminRegisterDoctor(ctx context.Context, from, doctor common.Address) error
	GrantAccess(ctx context.Context, from, doctor common.Address) error
	RevokeAccess(ctx context.Context, from, doctor common.Address) error
	AddFile(ctx context.Context, from common.Address, name, cid, category, description string) error
	AddDailyReport(ctx context.Context, from common.Address, systolic, diastolic, sugar, heartRate uint16) error

	GetFiles(ctx context.Context, from, patient common.Address) ([]models.FileRecord, error)
	GetDailyReports(ctx context.Context, from, patient common.Address) ([]models.DailyReport, error)
	GetPatientDoctors(ctx context.Context, from, patient common.Address) ([]common.Address, error)
	GetDoctorPatients(ctx context.Context, from, doctor common.Address) ([]common.Address, error)
	GetDoctorAccess(ctx context.Context, from, patient, doctor common.Address) (bool, error)
	IsPatient(ctx context.Context, from, addr common.Address) (bool, error)
	IsDoctor(ctx context.Context, from, addr common.Address) (bool, error)
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	Verify(token string) (*auth.Claims, error)
	SignOut(token string)
	Discard(ctx context.Context, session *auth.Session) error
}

type ContentStore interface {
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)
	Fetch(ctx context.Context, cid string) (io.ReadCloser, string, error)
	URL(cid string) string
}

type Cache interface {
	SaveFiles(owner common.Address, files []models.FileRecord) error
	LoadFiles(owner common.Address) (storage.Snapshot[[]models.FileRecord], error)
	SaveVitals(owner common.Address, reports []models.DailyReport) error
	LoadVitals(owner common.Address) (storage.Snapshot[[]models.DailyReport], error)
	SaveProfile(accountID string, profile models.Profile) error
	LoadProfile(accountID string) (storage.Snapshot[models.Profile], error)
	Clear() error
}

type Dependencies struct {
	Wallet    WalletSession
	Directory registry.Directory
	Ledger    Ledger
	Auth      Authenticator
	Content   ContentStore
	Cache     Cache
	Metrics   *MetricsCollector
}

// Reconciler binds the signed-in identity to the connected wallet and gates
// every ledger write on the two matching.
type Reconciler struct {
	wallet    WalletSession
	directory registry.Directory
	ledger    Ledger
	auth      Authenticator
	content   ContentStore
	cache     Cache
	metrics   *MetricsCollector

	dispatcher *WriteDispatcher

	// opMu serialises sign-up, sign-in and sign-out. It is never held while
	// talking to the wallet.
	opMu sync.Mutex
	// cacheMu orders cache writes against the cache clear on sign-out.
	cacheMu sync.Mutex

	mu        sync.RWMutex
	session   *Session
	fault     *RegistrationFault
	lastState State

	feed       event.Feed
	changes    chan wallet.AddressChange
	sub        event.Subscription
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	now        func() time.Time
}

func NewReconciler(deps Dependencies, writeQueueSize int) *Reconciler {
	if deps.Metrics == nil {
		deps.Metrics = NewMetricsCollector()
	}
	r := &Reconciler{
		wallet:     deps.Wallet,
		directory:  deps.Directory,
		ledger:     deps.Ledger,
		auth:       deps.Auth,
		content:    deps.Content,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		changes:    make(chan wallet.AddressChange, 16),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
	}
	r.dispatcher = NewWriteDispatcher(r.authorize, r.metrics, writeQueueSize)
	return r
}

// Start runs the write dispatcher and the reconciliation loop.
func (r *Reconciler) Start() {
	r.dispatcher.Start()
	r.sub = r.wallet.SubscribeAddressChanges(r.changes)
	r.wg.Add(1)
	go r.reconcileLoop()
}

func (r *Reconciler) Stop() {
	close(r.shutdownCh)
	r.wg.Wait()
	r.dispatcher.Stop()
}

// SubscribeStateChanges delivers every state transition. Sends block until
// received, so subscribers should drain their channel.
func (r *Reconciler) SubscribeStateChanges(ch chan<- StateChange) event.Subscription {
	return r.feed.Subscribe(ch)
}

func (r *Reconciler) Metrics() *MetricsCollector {
	return r.metrics
}

func (r *Reconciler) reconcileLoop() {
	defer r.wg.Done()
	defer r.sub.Unsubscribe()

	for {
		select {
		case <-r.shutdownCh:
			return
		case change := <-r.changes:
			log.Printf("Reconciling after wallet change to %s", change.Current.Hex())
			r.reevaluate()
		case err := <-r.sub.Err():
			if err != nil {
				log.Printf("Warning: wallet subscription ended: %v", err)
			}
			return
		}
	}
}

// reevaluate derives the state afresh and announces it if it moved.
func (r *Reconciler) reevaluate() State {
	r.mu.Lock()
	current, connected := r.wallet.CurrentAddress()
	state := deriveState(r.identityLocked(), current, connected)
	prev := r.lastState
	r.lastState = state
	r.mu.Unlock()

	if prev != state {
		log.Printf("Binding state %s -> %s (wallet %s)", prev, state, current.Hex())
		r.metrics.RecordTransition(state)
		r.feed.Send(StateChange{From: prev, To: state, Address: current})
	}
	return state
}

func (r *Reconciler) identityLocked() *models.Identity {
	if r.session == nil {
		return nil
	}
	return r.session.Identity
}

func (r *Reconciler) identity() *models.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identityLocked()
}

// State is derived on every call; it is never cached.
func (r *Reconciler) State() State {
	identity := r.identity()
	current, connected := r.wallet.CurrentAddress()
	return deriveState(identity, current, connected)
}

type Status struct {
	State         State              `json:"state"`
	CurrentWallet *common.Address    `json:"current_wallet,omitempty"`
	Identity      *models.Identity   `json:"identity,omitempty"`
	Fault         *RegistrationFault `json:"registration_fault,omitempty"`
}

func (r *Reconciler) Status() Status {
	r.mu.RLock()
	identity := r.identityLocked()
	fault := r.fault
	r.mu.RUnlock()

	current, connected := r.wallet.CurrentAddress()
	status := Status{
		State:    deriveState(identity, current, connected),
		Identity: identity,
		Fault:    fault,
	}
	if connected {
		status.CurrentWallet = &current
	}
	return status
}

// authorize is the write gate. It reads the session and the wallet at the
// moment of the call and allows a write only in the Bound state.
func (r *Reconciler) authorize() (common.Address, error) {
	identity := r.identity()
	if identity == nil {
		return common.Address{}, models.ErrNotSignedIn
	}
	current, connected := r.wallet.CurrentAddress()
	switch deriveState(identity, current, connected) {
	case Bound:
		return current, nil
	case Disconnected:
		return common.Address{}, models.ErrWalletNotConnected
	default:
		return common.Address{}, fmt.Errorf("connected %s, bound %s: %w", current.Hex(), identity.BoundWallet.Hex(), models.ErrWalletMismatch)
	}
}

// ConnectWallet asks the signer for an address. No lock is held while the
// signer is consulted.
func (r *Reconciler) ConnectWallet(ctx context.Context) (common.Address, error) {
	addr, err := r.wallet.Connect(ctx)
	if err != nil {
		return common.Address{}, err
	}
	r.reevaluate()
	return addr, nil
}

// SwitchWallet asks the signer for another account. The new binding state
// applies as soon as it returns.
func (r *Reconciler) SwitchWallet(address common.Address) error {
	if err := r.wallet.Switch(address); err != nil {
		return err
	}
	r.reevaluate()
	return nil
}

func (r *Reconciler) DisconnectWallet() {
	r.wallet.Disconnect()
	r.reevaluate()
}

// Authenticate resolves a session token to the signed-in identity.
func (r *Reconciler) Authenticate(token string) (*models.Identity, error) {
	claims, err := r.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.session.IsActive(r.now()) || r.session.Token != token || r.session.Identity.AccountID != claims.AccountID {
		return nil, models.ErrNotSignedIn
	}
	return r.session.Identity, nil
}

type RegistrationResult struct {
	Session  *auth.Session      `json:"session"`
	Identity *models.Identity   `json:"identity"`
	Fault    *RegistrationFault `json:"registration_fault,omitempty"`
}

// Register creates the account and its identity bound to the connected
// wallet, then registers the wallet on the ledger once. A failed ledger
// registration leaves the identity in place and records a fault to retry.
func (r *Reconciler) Register(ctx context.Context, form RegistrationForm) (*RegistrationResult, error) {
	if err := ValidateRegistration(form); err != nil {
		return nil, err
	}
	current, connected := r.wallet.CurrentAddress()
	if !connected {
		return nil, models.ErrWalletNotConnected
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.metrics.RecordRegistrationStart()
	startTime := time.Now()
	defer func() { r.metrics.RecordRegistrationEnd(time.Since(startTime)) }()

	if _, err := r.directory.FindByWallet(ctx, current); err == nil {
		return nil, models.ErrWalletAlreadyBound
	} else if !errors.Is(err, models.ErrIdentityNotFound) {
		return nil, err
	}

	authSession, err := r.auth.SignUp(ctx, form.Email, form.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	profile := form.Profile
	if profile.Email == "" {
		profile.Email = form.Email
	}
	identity := &models.Identity{
		AccountID:   authSession.AccountID,
		Role:        form.Role,
		BoundWallet: current,
		Profile:     profile,
	}
	if err := r.directory.Create(ctx, identity); err != nil {
		if derr := r.auth.Discard(ctx, authSession); derr != nil {
			log.Printf("Warning: %v", derr)
		}
		log.Printf("Registration of %s for wallet %s refused: %v", authSession.AccountID, current.Hex(), err)
		return nil, err
	}
	log.Printf("Registered %s %s bound to %s", identity.Role, identity.AccountID, current.Hex())

	r.replaceSession(&Session{Identity: identity, Token: authSession.Token, ExpiresAt: authSession.ExpiresAt})
	r.cacheProfile(identity)
	r.reevaluate()

	result := &RegistrationResult{Session: authSession, Identity: identity}
	if err := r.registerOnLedger(ctx, identity); err != nil {
		result.Fault = r.recordFault(identity, err)
	}
	return result, nil
}

// RetryLedgerRegistration re-attempts only the ledger registration of the
// signed-in identity. The directory is not touched.
func (r *Reconciler) RetryLedgerRegistration(ctx context.Context) error {
	r.mu.RLock()
	identity := r.identityLocked()
	fault := r.fault
	r.mu.RUnlock()

	if identity == nil {
		return models.ErrNotSignedIn
	}
	if fault == nil || fault.AccountID != identity.AccountID {
		return ErrNoPendingRegistration
	}

	if err := r.registerOnLedger(ctx, identity); err != nil {
		r.recordFault(identity, err)
		return err
	}

	r.mu.Lock()
	r.fault = nil
	r.mu.Unlock()
	log.Printf("Ledger registration of %s completed on retry", identity.AccountID)
	return nil
}

func (r *Reconciler) registerOnLedger(ctx context.Context, identity *models.Identity) error {
	name, write := "registerPatient", r.ledger.RegisterPatient
	if identity.Role == models.RoleDoctor {
		name, write = "registerDoctor", r.ledger.RegisterDoctor
	}
	return r.dispatcher.Submit(ctx, name, func(ctx context.Context, from common.Address) error {
		return write(ctx, from)
	})
}

func (r *Reconciler) recordFault(identity *models.Identity, err error) *RegistrationFault {
	fault := &RegistrationFault{
		AccountID: identity.AccountID,
		Role:      identity.Role,
		Wallet:    identity.BoundWallet.Hex(),
		Reason:    err.Error(),
		At:        r.now().UTC(),
	}
	r.mu.Lock()
	r.fault = fault
	r.mu.Unlock()
	log.Printf("Warning: ledger registration of %s failed: %v", identity.AccountID, err)
	return fault
}

type LoginResult struct {
	Session  *auth.Session    `json:"session"`
	Identity *models.Identity `json:"identity"`
}

// Login signs the account in and accepts the session only if the connected
// wallet is the bound one. On a mismatch the account is signed out again.
func (r *Reconciler) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if _, connected := r.wallet.CurrentAddress(); !connected {
		return nil, models.ErrWalletNotConnected
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.metrics.RecordLoginStart()
	startTime := time.Now()
	defer func() { r.metrics.RecordLoginEnd(time.Since(startTime)) }()

	authSession, err := r.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	identity, err := r.directory.FindByAccountID(ctx, authSession.AccountID)
	if err != nil {
		r.auth.SignOut(authSession.Token)
		return nil, err
	}

	current, connected := r.wallet.CurrentAddress()
	if !connected {
		r.auth.SignOut(authSession.Token)
		return nil, models.ErrWalletNotConnected
	}
	if !models.AddressesMatch(identity.BoundWallet, current) {
		r.auth.SignOut(authSession.Token)
		r.replaceSession(nil)
		r.reevaluate()
		log.Printf("Login of %s refused: connected %s, bound %s", identity.AccountID, current.Hex(), identity.BoundWallet.Hex())
		return nil, models.ErrWalletMismatch
	}

	r.replaceSession(&Session{Identity: identity, Token: authSession.Token, ExpiresAt: authSession.ExpiresAt})
	r.cacheProfile(identity)
	r.reevaluate()
	log.Printf("Signed in %s %s with wallet %s", identity.Role, identity.AccountID, current.Hex())
	return &LoginResult{Session: authSession, Identity: identity}, nil
}

// SignOut ends the session and clears the local cache.
func (r *Reconciler) SignOut() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.cacheMu.Lock()
	r.replaceSession(nil)
	if r.cache != nil {
		if err := r.cache.Clear(); err != nil {
			log.Printf("Warning: failed to clear cache on sign-out: %v", err)
		}
	}
	r.cacheMu.Unlock()
	r.reevaluate()
}

// replaceSession installs next and revokes the token of the session it
// replaces. The caller holds opMu.
func (r *Reconciler) replaceSession(next *Session) {
	r.mu.Lock()
	prev := r.session
	r.session = next
	if next == nil || (r.fault != nil && r.fault.AccountID != next.Identity.AccountID) {
		r.fault = nil
	}
	r.mu.Unlock()

	if prev != nil && (next == nil || prev.Token != next.Token) {
		r.auth.SignOut(prev.Token)
	}
}

func (r *Reconciler) cacheProfile(identity *models.Identity) {
	r.saveForSession(identity.AccountID, "profile", func() error {
		return r.cache.SaveProfile(identity.AccountID, identity.Profile)
	})
}

// saveForSession runs save only while accountID is still signed in, so a
// read that finishes after sign-out cannot refill the cleared cache.
func (r *Reconciler) saveForSession(accountID, what string, save func() error) {
	if r.cache == nil {
		return
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	current := r.identity()
	if current == nil || current.AccountID != accountID {
		return
	}
	if err := save(); err != nil {
		log.Printf("Warning: failed to cache %s: %v", what, err)
	}
}
