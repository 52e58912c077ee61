package coordinator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"gopkg.in/yaml.v3"
)

// Environment holds the ceremony parameters. It is loaded once at startup
// and never changes for the lifetime of a ceremony.
type Environment struct {
	Curve                   interfaces.CurveKind `yaml:"curve"`
	NumberOfChunks          uint64               `yaml:"number_of_chunks"`
	PowersPerChunk          uint64               `yaml:"powers_per_chunk"`
	ContributorsPerRound    uint64               `yaml:"contributors_per_round"`
	LockTimeout             time.Duration        `yaml:"lock_timeout"`
	SeenTimeout             time.Duration        `yaml:"seen_timeout"`
	MaxVerificationFailures uint64               `yaml:"max_verification_failures"`
	StorageTimeout          time.Duration        `yaml:"storage_timeout"`
	SignatureScheme         string               `yaml:"signature_scheme"`

	// CoordinatorVerifier is the public key allowed to call maintenance
	// endpoints. Left empty it is taken from the verifier key.
	CoordinatorVerifier string `yaml:"coordinator_verifier"`
}

func DefaultEnvironment() *Environment {
	return &Environment{
		Curve:                   interfaces.CurveBLS12_377,
		NumberOfChunks:          16,
		PowersPerChunk:          64,
		ContributorsPerRound:    1,
		LockTimeout:             20 * time.Minute,
		SeenTimeout:             2 * time.Minute,
		MaxVerificationFailures: 3,
		StorageTimeout:          30 * time.Second,
		SignatureScheme:         cryptoutils.SchemeSecp256k1,
	}
}

// LoadEnvironment reads a YAML environment file. Fields missing from the
// file keep their defaults.
func LoadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read environment file: %w", err)
	}

	env := DefaultEnvironment()
	if err := yaml.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("could not parse environment file: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Environment) Validate() error {
	if _, err := interfaces.ParseCurveKind(string(e.Curve)); err != nil {
		return err
	}
	if e.NumberOfChunks == 0 {
		return errors.New("number_of_chunks must be positive")
	}
	if e.PowersPerChunk == 0 {
		return errors.New("powers_per_chunk must be positive")
	}
	if e.ContributorsPerRound == 0 {
		e.ContributorsPerRound = 1
	}
	if e.MaxVerificationFailures == 0 {
		e.MaxVerificationFailures = 3
	}
	if e.LockTimeout <= 0 || e.SeenTimeout <= 0 {
		return errors.New("lock_timeout and seen_timeout must be positive")
	}
	if e.StorageTimeout <= 0 {
		e.StorageTimeout = 30 * time.Second
	}
	if _, err := cryptoutils.NewSignatureScheme(e.SignatureScheme); err != nil {
		return err
	}
	return nil
}
