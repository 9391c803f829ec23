// Package prediction maps raw model output to a labelled percentage.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/example/catdog-api/internal/kserve"
)

// probabilityTolerance absorbs float32 rounding in softmax outputs.
const probabilityTolerance = 1e-6

// LabelMap is the class ordering of the deployed model plus the class whose
// probability is reported.
type LabelMap struct {
	labels []string
	target string
	index  int
}

// NewLabelMap fails when labels repeat or target is not among them.
func NewLabelMap(labels []string, target string) (*LabelMap, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("need at least two class labels, got %d", len(labels))
	}
	seen := make(map[string]struct{}, len(labels))
	clean := make([]string, len(labels))
	for i, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("class label %d is empty", i)
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("class label %q repeated", label)
		}
		seen[label] = struct{}{}
		clean[i] = label
	}
	target = strings.TrimSpace(target)
	index := slices.Index(clean, target)
	if index < 0 {
		return nil, fmt.Errorf("target label %q not in %v", target, clean)
	}
	return &LabelMap{labels: clean, target: target, index: index}, nil
}

// Labels returns the class labels in model output order.
func (m *LabelMap) Labels() []string { return slices.Clone(m.labels) }

// Target returns the reported class label.
func (m *LabelMap) Target() string { return m.target }

// Index returns the output position of the target label.
func (m *LabelMap) Index() int { return m.index }

// Result is the translated prediction for the target class.
type Result struct {
	Label       string
	Probability float64
	Percentage  float64
}

// Translator extracts the target probability from an inference response.
type Translator struct {
	labels *LabelMap
}

// NewTranslator binds a translator to a label map.
func NewTranslator(labels *LabelMap) *Translator {
	return &Translator{labels: labels}
}

// Label returns the class the translator reports.
func (t *Translator) Label() string { return t.labels.target }

// Translate reads outputs[0].data at the target index and converts it to a
// percentage with one decimal.
func (t *Translator) Translate(resp *kserve.InferResponse) (*Result, error) {
	if resp == nil {
		return nil, &kserve.InvalidResponseError{Reason: "empty response"}
	}
	if len(resp.Outputs) == 0 {
		return nil, &kserve.InvalidResponseError{Reason: "response has no outputs"}
	}
	data := resp.Outputs[0].Data
	if len(data) != len(t.labels.labels) {
		return nil, &kserve.InvalidResponseError{
			Reason: fmt.Sprintf("expected %d class scores %v, got %d", len(t.labels.labels), t.labels.labels, len(data)),
		}
	}

	p := data[t.labels.index]
	if err := checkProbability(p); err != nil {
		return nil, &kserve.InvalidResponseError{Reason: fmt.Sprintf("%s score", t.labels.target), Err: err}
	}
	p = math.Min(math.Max(p, 0), 1)

	return &Result{
		Label:       t.labels.target,
		Probability: p,
		Percentage:  Percentage(p),
	}, nil
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return errors.New("not a finite number")
	}
	if p < -probabilityTolerance || p > 1+probabilityTolerance {
		return fmt.Errorf("%v outside [0, 1]", p)
	}
	return nil
}

// Percentage converts a probability to a percentage rounded half up to one
// decimal place.
func Percentage(p float64) float64 {
	return math.Floor(p*1000+0.5) / 10
}
