package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/baruwa-enterprise/clamd"
	"go.uber.org/zap"
)

// ScanRequest identifies the upload being scanned. TransientID is assigned before any
// ledger row exists.
type ScanRequest struct {
	TransientID string
	UserID      string
	Filename    string
}

// ScanResult is the verdict for one payload.
type ScanResult struct {
	Clean     bool      `json:"is_clean"`
	Threats   []string  `json:"threats_found"`
	Engine    string    `json:"engine"`
	ScannedAt time.Time `json:"scanned_at"`
}

// VirusScanner inspects raw bytes before anything is persisted. An infected payload is
// a successful scan with Clean=false; an error means the scanner could not decide.
type VirusScanner interface {
	Scan(ctx context.Context, data []byte, req ScanRequest) (ScanResult, error)
}

func scannerUnavailable(engine string, err error) *Error {
	return newError(KindScannerUnavailable, CodeScanUnavailable, "virus scanner unavailable", fmt.Errorf("%s: %w", engine, err))
}

// EICARSignature is the industry test string every engine reports as infected.
const EICARSignature = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// SignatureScanner matches payloads against a fixed set of byte signatures. It is the
// scanner used in development and in tests; production deployments run clamd.
type SignatureScanner struct {
	signatures map[string][]byte
	clock      Clock
	log        *zap.Logger
}

// NewSignatureScanner always includes the EICAR test signature. extra is a comma
// separated list of name=hex pairs.
func NewSignatureScanner(extra string, log *zap.Logger) (*SignatureScanner, error) {
	sigs := map[string][]byte{"Eicar-Test-Signature": []byte(EICARSignature)}
	for _, entry := range strings.Split(extra, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, encoded, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("scanner signature %q must be name=hex", entry)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil || len(raw) == 0 {
			return nil, fmt.Errorf("scanner signature %q: invalid hex", name)
		}
		sigs[strings.TrimSpace(name)] = raw
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SignatureScanner{signatures: sigs, clock: SystemClock(), log: log.Named("scanner")}, nil
}

func (s *SignatureScanner) Scan(ctx context.Context, data []byte, req ScanRequest) (ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return ScanResult{}, scannerUnavailable("signature", err)
	}
	result := ScanResult{Clean: true, Threats: []string{}, Engine: "signature", ScannedAt: s.clock.Now()}
	for name, sig := range s.signatures {
		if bytes.Contains(data, sig) {
			result.Clean = false
			result.Threats = append(result.Threats, name)
		}
	}
	sort.Strings(result.Threats)
	logScan(s.log, req, result)
	return result, nil
}

// ClamdScanner streams payloads to a clamd daemon with the INSTREAM command. An
// address starting with "/" is dialled as a unix socket.
type ClamdScanner struct {
	network string
	address string
	timeout time.Duration
	clock   Clock
	log     *zap.Logger
}

func NewClamdScanner(address string, timeout time.Duration, log *zap.Logger) *ClamdScanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	network := "tcp"
	if strings.HasPrefix(address, "/") {
		network = "unix"
	}
	return &ClamdScanner{
		network: network,
		address: address,
		timeout: timeout,
		clock:   SystemClock(),
		log:     log.Named("scanner"),
	}
}

func (s *ClamdScanner) client() (*clamd.Client, error) {
	c, err := clamd.NewClient(s.network, s.address)
	if err != nil {
		return nil, err
	}
	c.SetConnTimeout(s.timeout)
	c.SetCmdTimeout(s.timeout)
	return c, nil
}

// Ping checks that clamd answers PONG.
func (s *ClamdScanner) Ping(ctx context.Context) error {
	c, err := s.client()
	if err != nil {
		return scannerUnavailable("clamd", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := c.Ping(ctx)
	if err != nil {
		return scannerUnavailable("clamd", err)
	}
	if !ok {
		return scannerUnavailable("clamd", errors.New("no PONG from clamd"))
	}
	return nil
}

func (s *ClamdScanner) Scan(ctx context.Context, data []byte, req ScanRequest) (ScanResult, error) {
	c, err := s.client()
	if err != nil {
		return ScanResult{}, scannerUnavailable("clamd", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	responses, err := c.ScanReader(ctx, bytes.NewReader(data))
	if err != nil {
		s.log.Error("clamd unreachable", zap.String("transient_id", req.TransientID), zap.Error(err))
		return ScanResult{}, scannerUnavailable("clamd", err)
	}
	result, err := clamdVerdict(responses)
	if err != nil {
		s.log.Error("clamd scan error", zap.String("transient_id", req.TransientID), zap.Error(err))
		return ScanResult{}, scannerUnavailable("clamd", err)
	}
	result.Engine = "clamd"
	result.ScannedAt = s.clock.Now()
	logScan(s.log, req, result)
	return result, nil
}

// clamdVerdict folds the per-stream responses into one result. Any ERROR line, or no
// response at all, means the scan was inconclusive.
func clamdVerdict(responses []*clamd.Response) (ScanResult, error) {
	if len(responses) == 0 {
		return ScanResult{}, errors.New("clamd: empty reply")
	}
	result := ScanResult{Clean: true, Threats: []string{}}
	for _, r := range responses {
		if r == nil {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(r.Status)) {
		case "OK":
		case "FOUND":
			result.Clean = false
			result.Threats = append(result.Threats, strings.TrimSpace(r.Signature))
		default:
			return ScanResult{}, fmt.Errorf("clamd: %s", strings.TrimSpace(r.Raw))
		}
	}
	return result, nil
}

func logScan(log *zap.Logger, req ScanRequest, result ScanResult) {
	fields := []zap.Field{
		zap.String("transient_id", req.TransientID),
		zap.String("user_id", req.UserID),
		zap.String("filename", req.Filename),
		zap.String("engine", result.Engine),
		zap.Bool("clean", result.Clean),
	}
	if result.Clean {
		log.Info("scan completed", fields...)
		return
	}
	log.Warn("threat detected", append(fields, zap.Strings("threats", result.Threats))...)
}
