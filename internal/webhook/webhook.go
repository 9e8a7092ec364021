// Package webhook authenticates push deliveries and turns them into syncs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/pipeline"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a SignatureHeader value against body. A missing header is a
// 400, anything that does not match is a 403.
func Verify(secret, signature string, body []byte) error {
	if strings.TrimSpace(signature) == "" {
		return apperr.Auth(http.StatusBadRequest, "Missing "+SignatureHeader+" header")
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return apperr.Auth(http.StatusForbidden, "Invalid signature")
	}
	return nil
}

// Syncer runs one sync batch.
type Syncer interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Response is returned to the sender after a committed sync.
type Response struct {
	Message         string   `json:"message"`
	TotalAnnotators int      `json:"total_annotators"`
	Languages       []string `json:"languages"`
	RunID           string   `json:"run_id"`
	State           string   `json:"state"`
}

// Push is the part of a push payload the gate looks at.
type Push struct {
	Ref    string `json:"ref"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Gate verifies deliveries and runs the sync they request.
type Gate struct {
	secret  string
	maxBody int64
	syncer  Syncer
	schema  *jsonschema.Schema
	metrics *metrics.Metrics
}

// NewGate compiles the payload schema and builds a Gate.
func NewGate(secret string, maxBody int64, syncer Syncer, m *metrics.Metrics) (*Gate, error) {
	schema, err := compilePushSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling push schema: %w", err)
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Gate{secret: secret, maxBody: maxBody, syncer: syncer, schema: schema, metrics: m}, nil
}

// MaxBody is the largest body the gate accepts.
func (g *Gate) MaxBody() int64 { return g.maxBody }

// Secret returns the shared secret, for signing self-triggered deliveries.
func (g *Gate) Secret() string { return g.secret }

// Handle authenticates body and, if it is a well-formed push, runs a sync.
func (g *Gate) Handle(ctx context.Context, signature string, body []byte) (*Response, error) {
	state := pipeline.StateAwaitingSignature
	if g.secret == "" {
		return nil, apperr.Unavailable("webhook secret is not configured")
	}
	if int64(len(body)) > g.maxBody {
		g.metrics.WebhookRejected("too_large")
		return nil, &apperr.Error{Kind: apperr.KindInvalid, Status: http.StatusRequestEntityTooLarge, Msg: "payload too large"}
	}
	if err := Verify(g.secret, signature, body); err != nil {
		reason := "bad_signature"
		if apperr.StatusOf(err) == http.StatusBadRequest {
			reason = "missing_signature"
		}
		g.metrics.WebhookRejected(reason)
		log.Printf("webhook rejected in state %s: %v", state, err)
		return nil, err
	}
	state = pipeline.StateVerified

	push, err := g.decode(body)
	if err != nil {
		g.metrics.WebhookRejected("invalid_payload")
		return nil, err
	}
	log.Printf("webhook %s: push to %s by %s", state, push.Ref, push.Pusher.Name)

	res, err := g.syncer.Run(ctx, pipeline.Options{Trigger: "webhook"})
	if err != nil {
		if res != nil {
			log.Printf("webhook sync %s ended in state %s: %v", res.RunID, res.State, err)
		}
		return nil, err
	}
	return &Response{
		Message:         "Update successful",
		TotalAnnotators: res.Records,
		Languages:       nonNil(res.Languages),
		RunID:           res.RunID,
		State:           res.State.String(),
	}, nil
}

func (g *Gate) decode(body []byte) (*Push, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Invalid("payload is not JSON", err)
	}
	if err := g.schema.Validate(inst); err != nil {
		return nil, apperr.Invalid("payload is not a push event", err)
	}
	var p Push
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Invalid("decoding push payload", err)
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
