package message

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// SecurityRequest carries the caller-presented credential. The token is an
// opaque JWT validated by the authorization gate; the registry never
// inspects it beyond that.
type SecurityRequest struct {
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// IsEmpty reports whether no usable credential was presented
func (sr *SecurityRequest) IsEmpty() bool {
	return sr == nil || sr.Token == ""
}

// AccessPolicySpecifier describes the access policy a caller wants attached
// to a registered entity, keyed per batch entry
type AccessPolicySpecifier struct {
	PolicyType     string            `json:"policyType"`
	RequiredClaims map[string]string `json:"requiredClaims,omitempty"`
}

// RequestEnvelope is the JSON body of every inbound registry request
type RequestEnvelope struct {
	SecurityRequest   *SecurityRequest                 `json:"securityRequest"`
	PlatformID        string                           `json:"platformId,omitempty"`
	SspID             string                           `json:"sspId,omitempty"`
	DescriptionType   DescriptionType                  `json:"descriptionType"`
	Body              json.RawMessage                  `json:"body"`
	FilteringPolicies map[string]AccessPolicySpecifier `json:"filteringPolicies,omitempty"`
}

// ScopeID returns the declared target scope: the platform id, or the smart
// space id for device operations
func (e *RequestEnvelope) ScopeID() string {
	if e.PlatformID != "" {
		return e.PlatformID
	}
	return e.SspID
}

// RawDescription is the body shape of an rdf descriptionType request: a raw
// graph-encoded description plus the endpoint it claims to describe
type RawDescription struct {
	RDF                    string `json:"rdf"`
	RDFFormat              string `json:"rdfFormat,omitempty"`
	InterworkingServiceURL string `json:"interworkingServiceUrl"`
}

// ResponseEnvelope is the JSON body of every reply the registry sends
type ResponseEnvelope struct {
	Status          int             `json:"status"`
	Message         string          `json:"message,omitempty"`
	DescriptionType DescriptionType `json:"descriptionType,omitempty"`
	Body            json.RawMessage `json:"body,omitempty"`
}

// NewErrorResponse builds a failure envelope; failures always travel as
// response envelopes, never as errors across the broker boundary
func NewErrorResponse(status int, msg string, dt DescriptionType) *ResponseEnvelope {
	return &ResponseEnvelope{
		Status:          status,
		Message:         msg,
		DescriptionType: dt,
	}
}

// requestSchema validates the structural shape of inbound envelopes before
// any field is interpreted. Malformed bodies are terminal 400s.
const requestSchema = `{
  "type": "object",
  "required": ["securityRequest", "descriptionType", "body"],
  "properties": {
    "securityRequest": {
      "type": "object",
      "required": ["token"],
      "properties": {
        "token": {"type": "string", "minLength": 1},
        "timestamp": {"type": "integer"}
      }
    },
    "platformId": {"type": "string"},
    "sspId": {"type": "string"},
    "descriptionType": {"type": "string", "enum": ["basic", "rdf"]},
    "body": {"type": ["object", "string"]},
    "filteringPolicies": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["policyType"],
        "properties": {
          "policyType": {"type": "string"},
          "requiredClaims": {"type": "object"}
        }
      }
    }
  }
}`

var requestSchemaLoader = gojsonschema.NewStringLoader(requestSchema)

// ParseRequestEnvelope validates data against the request schema and
// unmarshals it. Schema violations and broken JSON both surface as
// ErrMalformedRequest so handlers map them to a single 400 path.
func ParseRequestEnvelope(data []byte) (*RequestEnvelope, error) {
	result, err := gojsonschema.Validate(requestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	if !result.Valid() {
		// Report the first violation only; callers get one reason per reply
		detail := "schema violation"
		if len(result.Errors()) > 0 {
			detail = result.Errors()[0].String()
		}
		return nil, fmt.Errorf("%w: %s", errors.ErrMalformedRequest, detail)
	}

	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	return &env, nil
}

// ProbeDescriptionType peeks at the descriptionType field without a full
// unmarshal, defaulting to basic when absent
func ProbeDescriptionType(data []byte) DescriptionType {
	dt := DescriptionType(gjson.GetBytes(data, "descriptionType").String())
	if !dt.IsValid() {
		return DescriptionBasic
	}
	return dt
}

// DecodeResourceBatch decodes a keyed map of resources from a request body
func DecodeResourceBatch(raw json.RawMessage) (KeyedBatch, error) {
	var m map[string]*Resource
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	batch := make(KeyedBatch, len(m))
	for k, v := range m {
		if v == nil {
			return nil, fmt.Errorf("%w: null entity under key %q", errors.ErrMalformedRequest, k)
		}
		batch[k] = v
	}
	return batch, nil
}

// DecodeInformationModelBatch decodes a keyed map of information models
func DecodeInformationModelBatch(raw json.RawMessage) (KeyedBatch, error) {
	var m map[string]*InformationModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	batch := make(KeyedBatch, len(m))
	for k, v := range m {
		if v == nil {
			return nil, fmt.Errorf("%w: null entity under key %q", errors.ErrMalformedRequest, k)
		}
		batch[k] = v
	}
	return batch, nil
}

// DecodeFederationBatch decodes a keyed map of federations
func DecodeFederationBatch(raw json.RawMessage) (KeyedBatch, error) {
	var m map[string]*Federation
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	batch := make(KeyedBatch, len(m))
	for k, v := range m {
		if v == nil {
			return nil, fmt.Errorf("%w: null entity under key %q", errors.ErrMalformedRequest, k)
		}
		batch[k] = v
	}
	return batch, nil
}

// DecodeDeviceBatch decodes a keyed map of smart-space devices
func DecodeDeviceBatch(raw json.RawMessage) (KeyedBatch, error) {
	var m map[string]*SmartSpaceDevice
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	batch := make(KeyedBatch, len(m))
	for k, v := range m {
		if v == nil {
			return nil, fmt.Errorf("%w: null entity under key %q", errors.ErrMalformedRequest, k)
		}
		batch[k] = v
	}
	return batch, nil
}
