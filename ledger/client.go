package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"healthrecords/models"
)

// Backend is what the client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Authorizer supplies signing options for a write sent from a given address.
type Authorizer interface {
	TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error)
}

type Config struct {
	Contract common.Address
	// ConfirmWrites waits for each write to be mined and treats a failed
	// receipt as a rejection.
	ConfirmWrites bool
}

// Client wraps the deployed contract. Every write is one transaction sent
// from the given address; nothing is retried or compensated here.
type Client struct {
	cfg      Config
	backend  Backend
	signer   Authorizer
	contract *bind.BoundContract
}

type fileTuple struct {
	Name        string
	Cid         string
	Category    string
	Timestamp   *big.Int
	Description string
}

type reportTuple struct {
	Timestamp              *big.Int
	BloodPressureSystolic  uint16
	BloodPressureDiastolic uint16
	BloodSugar             uint16
	HeartRate              uint16
}

func New(cfg Config, backend Backend, signer Authorizer) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	return &Client{
		cfg:      cfg,
		backend:  backend,
		signer:   signer,
		contract: bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
	}, nil
}

// Dial connects to a JSON-RPC endpoint and reports the chain id used to sign.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, *big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrLedgerUnavailable, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: failed to read chain id: %v", models.ErrLedgerUnavailable, err)
	}
	return client, chainID, nil
}

func (c *Client) RegisterPatient(ctx context.Context, from common.Address) error {
	return c.transact(ctx, from, "registerPatient")
}

func (c *Client) RegisterDoctor(ctx context.Context, from common.Address) error {
	return c.transact(ctx, from, "registerDoctor")
}

func (c *Client) AdminRegisterPatient(ctx context.Context, from, patient common.Address) error {
	return c.transact(ctx, from, "adminRegisterPatient", patient)
}

func (c *Client) AdminRegisterDoctor(ctx context.Context, from, doctor common.Address) error {
	return c.transact(ctx, from, "adminRegisterDoctor", doctor)
}

func (c *Client) GrantAccess(ctx context.Context, from, doctor common.Address) error {
	return c.transact(ctx, from, "grantAccess", doctor)
}

func (c *Client) RevokeAccess(ctx context.Context, from, doctor common.Address) error {
	return c.transact(ctx, from, "revokeAccess", doctor)
}

func (c *Client) AddFile(ctx context.Context, from common.Address, name, cid, category, description string) error {
	return c.transact(ctx, from, "addFile", name, cid, category, description)
}

func (c *Client) AddDailyReport(ctx context.Context, from common.Address, systolic, diastolic, sugar, heartRate uint16) error {
	return c.transact(ctx, from, "addDailyReport", systolic, diastolic, sugar, heartRate)
}

func (c *Client) GetFiles(ctx context.Context, from, patient common.Address) ([]models.FileRecord, error) {
	out, err := c.call(ctx, from, "getFiles", patient)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]fileTuple)).(*[]fileTuple)

	files := make([]models.FileRecord, 0, len(raw))
	for _, f := range raw {
		files = append(files, models.FileRecord{
			Name:        f.Name,
			CID:         f.Cid,
			Category:    f.Category,
			Timestamp:   unixTime(f.Timestamp),
			Description: f.Description,
		})
	}
	return files, nil
}

func (c *Client) GetDailyReports(ctx context.Context, from, patient common.Address) ([]models.DailyReport, error) {
	out, err := c.call(ctx, from, "getDailyReports", patient)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]reportTuple)).(*[]reportTuple)

	reports := make([]models.DailyReport, 0, len(raw))
	for _, r := range raw {
		reports = append(reports, models.DailyReport{
			Timestamp:              unixTime(r.Timestamp),
			BloodPressureSystolic:  r.BloodPressureSystolic,
			BloodPressureDiastolic: r.BloodPressureDiastolic,
			BloodSugar:             r.BloodSugar,
			HeartRate:              r.HeartRate,
		})
	}
	return reports, nil
}

func (c *Client) GetPatientDoctors(ctx context.Context, from, patient common.Address) ([]common.Address, error) {
	return c.callAddresses(ctx, from, "getPatientDoctors", patient)
}

func (c *Client) GetDoctorPatients(ctx context.Context, from, doctor common.Address) ([]common.Address, error) {
	return c.callAddresses(ctx, from, "getDoctorPatients", doctor)
}

func (c *Client) GetDoctorAccess(ctx context.Context, from, patient, doctor common.Address) (bool, error) {
	return c.callBool(ctx, from, "getDoctorAccess", patient, doctor)
}

func (c *Client) IsPatient(ctx context.Context, from, addr common.Address) (bool, error) {
	return c.callBool(ctx, from, "isPatient", addr)
}

func (c *Client) IsDoctor(ctx context.Context, from, addr common.Address) (bool, error) {
	return c.callBool(ctx, from, "isDoctor", addr)
}

func (c *Client) callAddresses(ctx context.Context, from common.Address, method string, params ...interface{}) ([]common.Address, error) {
	out, err := c.call(ctx, from, method, params...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

func (c *Client) callBool(ctx context.Context, from common.Address, method string, params ...interface{}) (bool, error) {
	out, err := c.call(ctx, from, method, params...)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *Client) call(ctx context.Context, from common.Address, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := c.contract.Call(opts, &out, method, params...); err != nil {
		return nil, classify(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no values", models.ErrLedgerUnavailable, method)
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, from common.Address, method string, params ...interface{}) error {
	if c.signer == nil {
		return models.ErrNoSignerAvailable
	}
	opts, err := c.signer.TransactOpts(ctx, from)
	if err != nil {
		if errors.Is(err, models.ErrWalletMismatch) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrLedgerUnavailable, err)
	}

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return classify(method, err)
	}
	log.Printf("Submitted %s from %s in tx %s", method, from.Hex(), tx.Hash().Hex())

	if !c.cfg.ConfirmWrites {
		return nil
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("%w: waiting for %s: %v", models.ErrLedgerUnavailable, tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return &models.RejectedError{Reason: fmt.Sprintf("%s reverted in block %v", method, receipt.BlockNumber)}
	}
	return nil
}

// classify maps a provider error onto the ledger error taxonomy: reverts
// become RejectedError with the decoded reason, anything else means the
// ledger could not be reached.
func classify(method string, err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			return &models.RejectedError{Reason: reason}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[i+len("execution reverted"):], ":"))
		return &models.RejectedError{Reason: reason}
	}
	return fmt.Errorf("%w: %s: %v", models.ErrLedgerUnavailable, method, err)
}

func revertReason(data interface{}) (string, bool) {
	s, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}

func unixTime(ts *big.Int) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0).UTC()
}
