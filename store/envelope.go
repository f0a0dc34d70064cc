package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"taskboard/model"
)

// SchemaVersion is written into every envelope.
const SchemaVersion = "1.0"

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

var errUnknownAlgorithm = errors.New("unknown checksum algorithm")

// Envelope is the persisted wrapper around a serialized state.
type Envelope struct {
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Algorithm string          `json:"algorithm,omitempty"`
	State     json.RawMessage `json:"state"`
	Checksum  string          `json:"checksum"`
}

// ValidAlgorithm reports whether name is a supported checksum algorithm.
func ValidAlgorithm(name string) bool {
	switch name {
	case AlgorithmSHA256, AlgorithmBLAKE3:
		return true
	default:
		return false
	}
}

// Checksum returns the hex digest of payload. An empty algorithm means sha256.
func Checksum(algorithm string, payload []byte) (string, error) {
	switch algorithm {
	case "", AlgorithmSHA256:
		sum := sha256.Sum256(payload)
		return hex.EncodeToString(sum[:]), nil
	case AlgorithmBLAKE3:
		sum := blake3.Sum256(payload)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownAlgorithm, algorithm)
	}
}

// sealEnvelope wraps the canonical encoding of rec. The checksum covers only
// the state payload, so envelope fields such as the timestamp never affect it.
func sealEnvelope(rec model.StateRecord, algorithm, timestamp string) ([]byte, error) {
	payload, err := model.Encode(rec)
	if err != nil {
		return nil, err
	}
	sum, err := Checksum(algorithm, payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Version:   SchemaVersion,
		Timestamp: timestamp,
		Algorithm: algorithm,
		State:     payload,
		Checksum:  sum,
	}
	return json.Marshal(env)
}

// openEnvelope checks the envelope structure and decodes the state. A
// structural problem returns an error wrapping ErrCorrupted. The checksum is
// not checked here; see verifyEnvelope.
func openEnvelope(raw []byte) (Envelope, model.StateRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: envelope: %v", ErrCorrupted, err)
	}
	for _, name := range []string{"version", "timestamp", "state", "checksum"} {
		if _, ok := fields[name]; !ok {
			return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: envelope missing %q", ErrCorrupted, name)
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: envelope: %v", ErrCorrupted, err)
	}

	var shape struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(env.State, &shape); err != nil {
		return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: state: %v", ErrCorrupted, err)
	}
	if t := bytes.TrimSpace(shape.Tasks); len(t) == 0 || t[0] != '[' {
		return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: state.tasks is not an array", ErrCorrupted)
	}

	var rec model.StateRecord
	if err := json.Unmarshal(env.State, &rec); err != nil {
		return Envelope{}, model.StateRecord{}, fmt.Errorf("%w: state: %v", ErrCorrupted, err)
	}
	return env, rec, nil
}

// verifyEnvelope recomputes the checksum over the stored state payload.
func verifyEnvelope(env Envelope) (bool, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.State); err != nil {
		return false, err
	}
	sum, err := Checksum(env.Algorithm, compact.Bytes())
	if err != nil {
		return false, err
	}
	return sum == env.Checksum, nil
}
