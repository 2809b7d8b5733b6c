package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"healthrecords/models"
	"healthrecords/storage"
)

// ReadResult is a ledger or directory read. FromCache is set when the live
// read failed and Value is the last cached copy, synced at SyncedAt.
type ReadResult[T any] struct {
	Value     T         `json:"value"`
	FromCache bool      `json:"from_cache"`
	SyncedAt  time.Time `json:"synced_at"`
}

type FileUpload struct {
	Name        string
	Category    string
	Description string
	Filename    string
	Content     io.Reader
}

// reader returns the signed-in identity for a read. Reads stay available
// while Mismatched and always run as the bound address.
func (r *Reconciler) reader() (*models.Identity, error) {
	identity := r.identity()
	if identity == nil {
		return nil, models.ErrNotSignedIn
	}
	return identity, nil
}

func requireRole(identity *models.Identity, role models.Role) error {
	if identity.Role != role {
		return &models.ValidationError{Field: "role", Message: fmt.Sprintf("only a %s can do this", role)}
	}
	return nil
}

// fallback serves a cached copy when a live read could not reach its source.
func fallback[T any](r *Reconciler, what string, liveErr error, load func() (storage.Snapshot[T], error)) (*ReadResult[T], error) {
	if r.cache == nil || !(errors.Is(liveErr, models.ErrLedgerUnavailable) || errors.Is(liveErr, models.ErrBackendUnavailable)) {
		return nil, liveErr
	}
	snap, err := load()
	if err != nil {
		if !errors.Is(err, storage.ErrNotCached) {
			log.Printf("Warning: failed to read cached %s: %v", what, err)
		}
		return nil, liveErr
	}
	r.metrics.RecordCacheFallback()
	log.Printf("Showing cached %s from %s: %v", what, snap.SyncedAt.Format(time.RFC3339), liveErr)
	return &ReadResult[T]{Value: snap.Value, FromCache: true, SyncedAt: snap.SyncedAt}, nil
}

// Files lists the file records of patient, or of the signed-in patient when
// patient is the zero address. A category other than "" or "all" keeps only
// the files filed under it.
func (r *Reconciler) Files(ctx context.Context, patient common.Address, category string) (*ReadResult[[]models.FileRecord], error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if patient == (common.Address{}) {
		patient = identity.BoundWallet
	}

	files, err := r.ledger.GetFiles(ctx, identity.BoundWallet, patient)
	if err != nil {
		result, err := fallback(r, "files", err, func() (storage.Snapshot[[]models.FileRecord], error) {
			return r.cache.LoadFiles(patient)
		})
		if err != nil {
			return nil, err
		}
		result.Value = filterCategory(result.Value, category)
		return result, nil
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Timestamp.After(files[j].Timestamp) })
	r.saveForSession(identity.AccountID, "files", func() error {
		return r.cache.SaveFiles(patient, files)
	})
	return &ReadResult[[]models.FileRecord]{Value: filterCategory(files, category), SyncedAt: r.now().UTC()}, nil
}

func filterCategory(files []models.FileRecord, category string) []models.FileRecord {
	category = strings.TrimSpace(category)
	if category == "" || strings.EqualFold(category, "all") {
		return files
	}
	out := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		if strings.EqualFold(f.Category, category) {
			out = append(out, f)
		}
	}
	return out
}

// UploadFile pins the content and records it on the ledger. Nothing is
// pinned while the wallet does not match.
func (r *Reconciler) UploadFile(ctx context.Context, upload FileUpload) (*models.FileRecord, error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if err := requireRole(identity, models.RolePatient); err != nil {
		return nil, err
	}
	if strings.TrimSpace(upload.Name) == "" || strings.TrimSpace(upload.Category) == "" {
		return nil, &models.ValidationError{Field: "file", Message: "file name and category are required"}
	}
	if upload.Content == nil {
		return nil, &models.ValidationError{Field: "file", Message: "please select a file"}
	}
	if _, err := r.authorize(); err != nil {
		r.metrics.RecordBlockedWrite()
		return nil, err
	}

	filename := upload.Filename
	if filename == "" {
		filename = upload.Name
	}
	cid, err := r.content.Upload(ctx, filename, upload.Content)
	if err != nil {
		return nil, err
	}

	err = r.dispatcher.Submit(ctx, "addFile", func(ctx context.Context, from common.Address) error {
		return r.ledger.AddFile(ctx, from, upload.Name, cid, upload.Category, upload.Description)
	})
	if err != nil {
		return nil, err
	}
	return &models.FileRecord{
		Name:        upload.Name,
		CID:         cid,
		Category:    upload.Category,
		Timestamp:   r.now().UTC(),
		Description: upload.Description,
	}, nil
}

// FetchFile opens pinned content. The caller closes the reader.
func (r *Reconciler) FetchFile(ctx context.Context, cid string) (io.ReadCloser, string, error) {
	if _, err := r.reader(); err != nil {
		return nil, "", err
	}
	return r.content.Fetch(ctx, cid)
}

func (r *Reconciler) Vitals(ctx context.Context, patient common.Address) (*ReadResult[[]models.DailyReport], error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if patient == (common.Address{}) {
		patient = identity.BoundWallet
	}

	reports, err := r.ledger.GetDailyReports(ctx, identity.BoundWallet, patient)
	if err != nil {
		return fallback(r, "vitals", err, func() (storage.Snapshot[[]models.DailyReport], error) {
			return r.cache.LoadVitals(patient)
		})
	}

	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Timestamp.After(reports[j].Timestamp) })
	r.saveForSession(identity.AccountID, "vitals", func() error {
		return r.cache.SaveVitals(patient, reports)
	})
	return &ReadResult[[]models.DailyReport]{Value: reports, SyncedAt: r.now().UTC()}, nil
}

func (r *Reconciler) AddVitals(ctx context.Context, v VitalsInput) error {
	identity, err := r.reader()
	if err != nil {
		return err
	}
	if err := requireRole(identity, models.RolePatient); err != nil {
		return err
	}
	if err := ValidateVitals(v); err != nil {
		return err
	}
	return r.dispatcher.Submit(ctx, "addDailyReport", func(ctx context.Context, from common.Address) error {
		return r.ledger.AddDailyReport(ctx, from, uint16(v.Systolic), uint16(v.Diastolic), uint16(v.BloodSugar), uint16(v.HeartRate))
	})
}

// Doctors lists every doctor the signed-in patient has granted, split by
// whether the grant is still active.
func (r *Reconciler) Doctors(ctx context.Context) (*models.DoctorList, error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if err := requireRole(identity, models.RolePatient); err != nil {
		return nil, err
	}

	self := identity.BoundWallet
	all, err := r.ledger.GetPatientDoctors(ctx, self, self)
	if err != nil {
		return nil, err
	}

	list := &models.DoctorList{Active: []common.Address{}, Previous: []common.Address{}}
	seen := make(map[common.Address]bool, len(all))
	for _, doctor := range all {
		if seen[doctor] {
			continue
		}
		seen[doctor] = true
		active, err := r.ledger.GetDoctorAccess(ctx, self, self, doctor)
		if err != nil {
			return nil, err
		}
		if active {
			list.Active = append(list.Active, doctor)
		} else {
			list.Previous = append(list.Previous, doctor)
		}
	}
	return list, nil
}

// Patients lists the patients who granted the signed-in doctor access.
func (r *Reconciler) Patients(ctx context.Context) ([]common.Address, error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if err := requireRole(identity, models.RoleDoctor); err != nil {
		return nil, err
	}
	return r.ledger.GetDoctorPatients(ctx, identity.BoundWallet, identity.BoundWallet)
}

// GrantAccess lets a registered doctor read the signed-in patient's records.
func (r *Reconciler) GrantAccess(ctx context.Context, doctorAddress string) (*models.AccessGrant, error) {
	identity, doctor, err := r.accessTarget(doctorAddress)
	if err != nil {
		return nil, err
	}

	isDoctor, err := r.ledger.IsDoctor(ctx, identity.BoundWallet, doctor)
	if err != nil {
		return nil, err
	}
	if !isDoctor {
		isPatient, err := r.ledger.IsPatient(ctx, identity.BoundWallet, doctor)
		if err != nil {
			return nil, err
		}
		if isPatient {
			return nil, &models.ValidationError{Field: "address", Message: "This address is registered as a patient, not a doctor"}
		}
		return nil, &models.ValidationError{Field: "address", Message: "This address is not registered in the system"}
	}

	err = r.dispatcher.Submit(ctx, "grantAccess", func(ctx context.Context, from common.Address) error {
		return r.ledger.GrantAccess(ctx, from, doctor)
	})
	if err != nil {
		return nil, err
	}
	return &models.AccessGrant{Patient: identity.BoundWallet, Doctor: doctor, Active: true}, nil
}

func (r *Reconciler) RevokeAccess(ctx context.Context, doctorAddress string) (*models.AccessGrant, error) {
	identity, doctor, err := r.accessTarget(doctorAddress)
	if err != nil {
		return nil, err
	}
	err = r.dispatcher.Submit(ctx, "revokeAccess", func(ctx context.Context, from common.Address) error {
		return r.ledger.RevokeAccess(ctx, from, doctor)
	})
	if err != nil {
		return nil, err
	}
	return &models.AccessGrant{Patient: identity.BoundWallet, Doctor: doctor, Active: false}, nil
}

func (r *Reconciler) accessTarget(doctorAddress string) (*models.Identity, common.Address, error) {
	identity, err := r.reader()
	if err != nil {
		return nil, common.Address{}, err
	}
	if err := requireRole(identity, models.RolePatient); err != nil {
		return nil, common.Address{}, err
	}
	doctor, err := models.ParseAddress(doctorAddress)
	if err != nil {
		return nil, common.Address{}, err
	}
	if doctor == identity.BoundWallet {
		return nil, common.Address{}, &models.ValidationError{Field: "address", Message: "You cannot grant access to yourself"}
	}
	// Refuse before any ledger traffic; the dispatcher checks again.
	if _, err := r.authorize(); err != nil {
		r.metrics.RecordBlockedWrite()
		return nil, common.Address{}, err
	}
	return identity, doctor, nil
}

// AdminRegister registers another address on the ledger. The contract only
// accepts it from its admin.
func (r *Reconciler) AdminRegister(ctx context.Context, role models.Role, address string) error {
	if _, err := r.reader(); err != nil {
		return err
	}
	if !role.Valid() {
		return &models.ValidationError{Field: "role", Message: "role must be patient or doctor"}
	}
	target, err := models.ParseAddress(address)
	if err != nil {
		return err
	}

	name, write := "adminRegisterPatient", r.ledger.AdminRegisterPatient
	if role == models.RoleDoctor {
		name, write = "adminRegisterDoctor", r.ledger.AdminRegisterDoctor
	}
	return r.dispatcher.Submit(ctx, name, func(ctx context.Context, from common.Address) error {
		return write(ctx, from, target)
	})
}

// Profile reads the signed-in identity's profile from the directory.
func (r *Reconciler) Profile(ctx context.Context) (*ReadResult[models.Profile], error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}

	fresh, err := r.directory.FindByAccountID(ctx, identity.AccountID)
	if err != nil {
		return fallback(r, "profile", err, func() (storage.Snapshot[models.Profile], error) {
			return r.cache.LoadProfile(identity.AccountID)
		})
	}
	r.refreshIdentity(fresh)
	return &ReadResult[models.Profile]{Value: fresh.Profile, SyncedAt: r.now().UTC()}, nil
}

// UpdateProfile rewrites the mutable profile. Role and bound wallet stay.
func (r *Reconciler) UpdateProfile(ctx context.Context, profile models.Profile) (*models.Identity, error) {
	identity, err := r.reader()
	if err != nil {
		return nil, err
	}
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	updated, err := r.directory.UpdateProfile(ctx, identity.AccountID, profile)
	if err != nil {
		return nil, err
	}
	r.refreshIdentity(updated)
	return updated, nil
}

func (r *Reconciler) refreshIdentity(fresh *models.Identity) {
	r.mu.Lock()
	if r.session != nil && r.session.Identity.AccountID == fresh.AccountID {
		r.session.Identity = fresh
	}
	r.mu.Unlock()
	r.cacheProfile(fresh)
}
