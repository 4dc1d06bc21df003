package coordinator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/layer-3/dair/core"
)

// Message types carried in the envelope "type" discriminator.
const (
	TypeSignup        = "signup"
	TypeRequestPlaces = "request_places"
	TypeValidate      = "validate"
)

// Envelope is the JSON frame exchanged on the coordination channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// SignedBytes is a signature encoded by wallets as a JSON array of byte
// values. A base64 string is accepted as well.
type SignedBytes []byte

func (b SignedBytes) MarshalJSON() ([]byte, error) {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

func (b *SignedBytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("signature is not base64: %w", err)
		}
		*b = raw
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("signature byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// SignupRequest proves wallet ownership.
type SignupRequest struct {
	PublicKey     string      `json:"publicKey"`
	SignedMessage SignedBytes `json:"signedMessage"`
	CallbackID    string      `json:"callbackId"`
}

// RequestPlaces asks for every place awaiting a validator.
type RequestPlaces struct {
	CallbackID string `json:"callbackId"`
}

// ValidateDispatch is sent to the validator chosen for a place.
type ValidateDispatch struct {
	PlaceID    string  `json:"placeId"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	CallbackID string  `json:"callbackId"`
	PlaceName  string  `json:"placeName,omitempty"`
}

// ValidateReply carries a validator's signed measurement.
type ValidateReply struct {
	PlaceID       string      `json:"placeId"`
	CallbackID    string      `json:"callbackId"`
	ValidatorID   string      `json:"validatorId"`
	SignedMessage SignedBytes `json:"signedMessage"`
	core.Measurement
}

func dispatchFor(job core.ValidationJob) ValidateDispatch {
	return ValidateDispatch{
		PlaceID:    job.PlaceID,
		Lat:        job.Coordinates.Lat,
		Lng:        job.Coordinates.Lng,
		CallbackID: job.CorrelationID,
		PlaceName:  job.PlaceName,
	}
}
