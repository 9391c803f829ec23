package kserve

import (
	"encoding/json"
	"fmt"
)

// DatatypeFP32 is the v2 protocol name for 32-bit floats.
const DatatypeFP32 = "FP32"

// InferRequest is the body of POST /v2/models/{model}/infer.
type InferRequest struct {
	Inputs []InputTensor `json:"inputs"`
}

// InputTensor is one named input of an inference request.
type InputTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

// InferResponse is the decoded body of a successful inference call.
type InferResponse struct {
	ModelName    string         `json:"model_name,omitempty"`
	ModelVersion string         `json:"model_version,omitempty"`
	ID           string         `json:"id,omitempty"`
	Outputs      []OutputTensor `json:"outputs"`
}

// OutputTensor is one named output of an inference response.
type OutputTensor struct {
	Name     string  `json:"name"`
	Shape    []int64 `json:"shape"`
	Datatype string  `json:"datatype"`
	Data     Scores  `json:"data"`
}

// Scores holds numeric output data. Decoding fails on null elements, which
// encoding/json would otherwise read as zero.
type Scores []float64

func (s *Scores) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return &InvalidResponseError{Reason: "output data is not a numeric array", Err: err}
	}
	if raw == nil {
		*s = nil
		return nil
	}
	out := make(Scores, len(raw))
	for i, v := range raw {
		if v == nil {
			return &InvalidResponseError{Reason: fmt.Sprintf("output data element %d is null", i)}
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// Input is the tensor handed to Client.Infer.
type Input struct {
	Shape []int64
	Data  []float32
}
