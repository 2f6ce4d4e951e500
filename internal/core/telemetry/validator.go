// Package telemetry decodes and range-checks worker telemetry before it
// reaches the ingestor. Decoding is strict about types: a numeric field sent
// as a JSON string or boolean is rejected rather than coerced.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// DefaultMaxBatch caps the number of samples accepted in one batch message.
const DefaultMaxBatch = 500

// Reading is one sample as sent by a worker. Pointer fields distinguish a
// missing value from an explicit zero.
type Reading struct {
	Memory *float64 `json:"memory" validate:"required,gte=0,lte=999999"`
	CPU    *float64 `json:"cpu" validate:"required,gte=0,lte=100"`
	Rate   *float64 `json:"rate" validate:"required,gte=0,lte=999999"`

	EngineStatus string `json:"engine_status" validate:"omitempty,max=64"`
	PowerProfile string `json:"power_profile" validate:"omitempty,max=32"`
	BatchSize    *int   `json:"batch_size" validate:"omitempty,gte=0,lte=1000000"`
	ThreadCount  *int   `json:"thread_count" validate:"omitempty,gte=0,lte=4096"`
}

// Sample stamps the reading with its owner and the server-side timestamp.
func (r Reading) Sample(workerID string, at time.Time) domain.Sample {
	s := domain.Sample{
		WorkerID:     workerID,
		Timestamp:    at,
		EngineStatus: r.EngineStatus,
		PowerProfile: r.PowerProfile,
		BatchSize:    r.BatchSize,
		ThreadCount:  r.ThreadCount,
	}
	if r.Memory != nil {
		s.Memory = *r.Memory
	}
	if r.CPU != nil {
		s.CPU = *r.CPU
	}
	if r.Rate != nil {
		s.Rate = *r.Rate
	}
	return s
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	// Report wire names (cpu, batch_size) instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate range-checks a decoded reading.
func Validate(r *Reading) error {
	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidSample, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidSample, err)
	}
	return nil
}

// DecodeSample decodes and validates a single sample. raw may carry extra
// envelope fields such as "type"; they are ignored.
func DecodeSample(raw []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return Reading{}, fmt.Errorf("%w: %s", domain.ErrInvalidSample, decodeError(err))
	}
	if err := Validate(&r); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// DecodeBatch decodes a JSON array of samples. The batch is accepted only if
// it is a non-empty array of at most max members and every member is valid;
// otherwise nothing is returned. max <= 0 means DefaultMaxBatch.
func DecodeBatch(raw json.RawMessage, max int) ([]Reading, error) {
	if max <= 0 {
		max = DefaultMaxBatch
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: metrics must be an array", domain.ErrInvalidBatch)
	}

	var members []json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidBatch, decodeError(err))
	}
	switch {
	case len(members) == 0:
		return nil, fmt.Errorf("%w: metrics must not be empty", domain.ErrInvalidBatch)
	case len(members) > max:
		return nil, fmt.Errorf("%w: %d samples exceeds limit of %d", domain.ErrInvalidBatch, len(members), max)
	}

	out := make([]Reading, 0, len(members))
	for i, m := range members {
		if t := bytes.TrimSpace(m); len(t) == 0 || t[0] != '{' {
			return nil, fmt.Errorf("%w: metrics[%d] must be an object", domain.ErrInvalidBatch, i)
		}
		r, err := DecodeSample(m)
		if err != nil {
			return nil, fmt.Errorf("%w: metrics[%d]: %w", domain.ErrInvalidBatch, i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeError(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return fmt.Sprintf("%s must be a %s", te.Field, te.Type.Kind())
	}
	return "malformed sample"
}

func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
