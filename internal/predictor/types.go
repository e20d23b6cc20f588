package predictor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Placeholder shown wherever a value never arrived.
const Placeholder = "N/A"

// Confidence is either a number or a free-form string on the wire.
// The zero value means the field was absent.
type Confidence struct {
	num   float64
	text  string
	isNum bool
	set   bool
}

// Number returns a numeric confidence.
func Number(f float64) Confidence { return Confidence{num: f, isNum: true, set: true} }

// Text returns a string confidence.
func Text(s string) Confidence { return Confidence{text: s, set: true} }

// IsZero reports whether the confidence is absent, empty or 0, the values that fall back to a placeholder.
func (c Confidence) IsZero() bool {
	if !c.set {
		return true
	}
	if c.isNum {
		return c.num == 0
	}
	return c.text == ""
}

// Float64 returns the numeric value, if the confidence is numeric.
func (c Confidence) Float64() (float64, bool) {
	return c.num, c.isNum
}

func (c Confidence) String() string {
	switch {
	case !c.set:
		return ""
	case c.isNum:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	default:
		return c.text
	}
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	switch {
	case !c.set:
		return []byte("null"), nil
	case c.isNum:
		return json.Marshal(c.num)
	default:
		return json.Marshal(c.text)
	}
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Confidence{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("confidence must be a number or string: %w", err)
	}
	*c = Number(f)
	return nil
}

// Prediction is the classification returned by /predict.
type Prediction struct {
	Label      string             `json:"label"`
	Confidence Confidence         `json:"confidence"`
	Details    string             `json:"details"`
	Scores     map[string]float64 `json:"scores"`
}

// WithDefaults fills absent sub-fields with their placeholders.
func (p Prediction) WithDefaults() Prediction {
	if p.Label == "" {
		p.Label = "Unknown"
	}
	if p.Confidence.IsZero() {
		p.Confidence = Text(Placeholder)
	}
	if p.Scores == nil {
		p.Scores = map[string]float64{}
	}
	return p
}

// Segmentation describes the tumor mask reported by /metrics.
type Segmentation struct {
	Detected       bool    `json:"detected"`
	SegmentedArea  float64 `json:"segmented_area"`
	MaskResolution string  `json:"mask_resolution"`
}

// Metrics is the diagnostic summary returned by /metrics.
type Metrics struct {
	Label             string             `json:"label"`
	Confidence        Confidence         `json:"confidence"`
	Accuracy          float64            `json:"accuracy"`
	ROCAUC            float64            `json:"roc_auc"`
	Features          map[string]float64 `json:"features"`
	TumorSegmentation *Segmentation      `json:"tumor_segmentation"`
}

// DefaultMetrics is what the result page shows until, or unless, /metrics answers.
func DefaultMetrics() Metrics {
	return Metrics{
		Label:      Placeholder,
		Confidence: Number(0),
		Features:   map[string]float64{},
	}
}

// LoginResult is a successful /login exchange. User is the opaque record the service returned.
type LoginResult struct {
	User json.RawMessage
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success *bool           `json:"success"`
	User    json.RawMessage `json:"user"`
	Message string          `json:"message"`
}

type predictResponse struct {
	Prediction
	Error string `json:"error"`
}

type analyzeRequest struct {
	Label      string     `json:"label"`
	Confidence Confidence `json:"confidence"`
}

type analyzeResponse struct {
	Message string `json:"message"`
}

type metricsResponse struct {
	Metrics
	Error string `json:"error"`
}
