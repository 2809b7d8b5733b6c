package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"healthrecords/auth"
	"healthrecords/models"
	"healthrecords/service"
	"healthrecords/wallet"
)

const maxUploadSize = 32 << 20

// Prover signs a fresh challenge with the connected account.
type Prover interface {
	Prove() (challenge string, sig []byte, err error)
}

type Server struct {
	reconciler *service.Reconciler
	prover     Prover
	mux        *http.ServeMux
	timeout    time.Duration
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

type AdminRegisterRequest struct {
	Role    models.Role `json:"role"`
	Address string      `json:"address"`
}

type ProofResponse struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type VerifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type VerifyResponse struct {
	Address string `json:"address"`
	Valid   bool   `json:"valid"`
}

type StatusMessage struct {
	Status string `json:"status"`
}

// NewServer builds the HTTP surface of the reconciler. writeTimeout bounds
// how long a handler waits for a ledger write.
func NewServer(reconciler *service.Reconciler, prover Prover, writeTimeout time.Duration) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	s := &Server{
		reconciler: reconciler,
		prover:     prover,
		mux:        http.NewServeMux(),
		timeout:    writeTimeout,
	}

	s.mux.HandleFunc("/api/wallet/connect", s.handleConnectWallet)
	s.mux.HandleFunc("/api/wallet/select", s.handleSelectWallet)
	s.mux.HandleFunc("/api/wallet/disconnect", s.handleDisconnectWallet)
	s.mux.HandleFunc("/api/wallet/proof", s.handleProof)
	s.mux.HandleFunc("/api/wallet/verify", s.handleVerifyProof)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/signup", s.handleSignUp)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/logout", s.handleLogout)
	s.mux.HandleFunc("/api/register/retry", s.handleRetryRegistration)
	s.mux.HandleFunc("/api/profile", s.handleProfile)
	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/api/files/content", s.handleFileContent)
	s.mux.HandleFunc("/api/vitals", s.handleVitals)
	s.mux.HandleFunc("/api/doctors", s.handleDoctors)
	s.mux.HandleFunc("/api/patients", s.handlePatients)
	s.mux.HandleFunc("/api/access/grant", s.handleGrantAccess)
	s.mux.HandleFunc("/api/access/revoke", s.handleRevokeAccess)
	s.mux.HandleFunc("/api/admin/register", s.handleAdminRegister)
	s.mux.HandleFunc("/api/metrics", s.handleMetrics)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	addr, err := s.reconciler.ConnectWallet(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AddressRequest{Address: addr.Hex()})
}

func (s *Server) handleSelectWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	addr, err := models.ParseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.reconciler.SwitchWallet(addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Status())
}

func (s *Server) handleDisconnectWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.reconciler.DisconnectWallet()
	writeJSON(w, http.StatusOK, s.reconciler.Status())
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.prover == nil {
		writeError(w, models.ErrNoSignerAvailable)
		return
	}

	challenge, sig, err := s.prover.Prove()
	if err != nil {
		writeError(w, err)
		return
	}
	status := s.reconciler.Status()
	response := ProofResponse{Challenge: challenge, Signature: hexutil.Encode(sig)}
	if status.CurrentWallet != nil {
		response.Address = status.CurrentWallet.Hex()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	addr, err := models.ParseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}
	valid, err := wallet.ProveOwnership(addr, []byte(req.Message), sig)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Address: addr.Hex(), Valid: valid})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Status())
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var form service.RegistrationForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.writeContext(r)
	defer cancel()
	result, err := s.reconciler.Register(ctx, form)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Fault != nil {
		// The account exists but the ledger registration must be retried.
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.reconciler.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	s.reconciler.SignOut()
	writeJSON(w, http.StatusOK, StatusMessage{Status: "signed out"})
}

func (s *Server) handleRetryRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	ctx, cancel := s.writeContext(r)
	defer cancel()
	if err := s.reconciler.RetryLedgerRegistration(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusMessage{Status: "registered"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		result, err := s.reconciler.Profile(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodPut:
		var profile models.Profile
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		identity, err := s.reconciler.UpdateProfile(r.Context(), profile)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, identity)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		patient, err := patientParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.reconciler.Files(r.Context(), patient, r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "Invalid upload", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, &models.ValidationError{Field: "file", Message: "please select a file"})
			return
		}
		defer file.Close()

		ctx, cancel := s.writeContext(r)
		defer cancel()
		record, err := s.reconciler.UploadFile(ctx, service.FileUpload{
			Name:        r.FormValue("name"),
			Category:    r.FormValue("category"),
			Description: r.FormValue("description"),
			Filename:    header.Filename,
			Content:     file,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	cid := r.URL.Query().Get("cid")
	if cid == "" {
		http.Error(w, "cid is required", http.StatusBadRequest)
		return
	}
	body, contentType, err := s.reconciler.FetchFile(r.Context(), cid)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if _, err := io.Copy(w, body); err != nil {
		log.Printf("Failed to stream %s: %v", cid, err)
	}
}

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		patient, err := patientParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.reconciler.Vitals(r.Context(), patient)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodPost:
		var input service.VitalsInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		ctx, cancel := s.writeContext(r)
		defer cancel()
		if err := s.reconciler.AddVitals(ctx, input); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, StatusMessage{Status: "recorded"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	doctors, err := s.reconciler.Doctors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	patients, err := s.reconciler.Patients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if patients == nil {
		patients = []common.Address{}
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	s.handleAccess(w, r, s.reconciler.GrantAccess)
}

func (s *Server) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	s.handleAccess(w, r, s.reconciler.RevokeAccess)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request, change func(context.Context, string) (*models.AccessGrant, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.writeContext(r)
	defer cancel()
	grant, err := change(ctx, req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req AdminRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.writeContext(r)
	defer cancel()
	if err := s.reconciler.AdminRegister(ctx, req.Role, req.Address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusMessage{Status: "registered"})
}

// handleMetrics reports the collected metrics. DELETE starts a new
// measurement window and reports the cleared counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := s.reconciler.Metrics()
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		metrics.Reset()
		log.Println("Metrics reset")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, metrics.GetMetrics())
}

// authenticate resolves the bearer token to the signed-in identity and
// writes a 401 when there is none.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		http.Error(w, models.ErrNotSignedIn.Error(), http.StatusUnauthorized)
		return nil, false
	}
	identity, err := s.reconciler.Authenticate(token)
	if err != nil {
		http.Error(w, models.ErrNotSignedIn.Error(), http.StatusUnauthorized)
		return nil, false
	}
	return identity, true
}

func (s *Server) writeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func patientParam(r *http.Request) (common.Address, error) {
	raw := r.URL.Query().Get("patient")
	if raw == "" {
		return common.Address{}, nil
	}
	return models.ParseAddress(raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrWalletMismatch), errors.Is(err, models.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, models.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrWalletAlreadyBound), errors.Is(err, models.ErrDuplicateAccount),
		errors.Is(err, auth.ErrEmailTaken), errors.Is(err, models.ErrWritePending),
		errors.Is(err, service.ErrNoPendingRegistration):
		return http.StatusConflict
	case errors.Is(err, models.ErrWalletNotConnected):
		return http.StatusPreconditionRequired
	case errors.Is(err, models.ErrLedgerUnavailable), errors.Is(err, models.ErrBackendUnavailable),
		errors.Is(err, models.ErrNoSignerAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := models.IsRejected(err); ok {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
