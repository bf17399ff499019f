package gateway

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

// defaultElevationPolicy passes every identity through unchanged; it is
// compiled when NewPolicyElevator is given an empty policy source. A
// server with ELEVATION_POLICY_PATH unset builds no elevator at all, and
// the scope gate then passes identities through unchanged (the "if not
// configured" branch of spec §4.4 point 4).
const defaultElevationPolicy = `
package aquila.elevation

default scopes = input.scopes
`

// PolicyElevator maps an identity's subject, existing scopes, and any
// external group memberships onto a final scope set by evaluating a Rego
// policy, the same mechanism the teacher used for image-vulnerability
// policy (pkg/policy in the retrieval pack), repointed at identity input.
type PolicyElevator struct {
	query rego.PreparedEvalQuery
}

// NewPolicyElevator compiles policySource (or the no-op default when
// empty) into a ready-to-evaluate query.
func NewPolicyElevator(ctx context.Context, policySource string) (*PolicyElevator, error) {
	if policySource == "" {
		policySource = defaultElevationPolicy
	}

	query, err := rego.New(
		rego.Query("data.aquila.elevation.scopes"),
		rego.Module("elevation.rego", policySource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile elevation policy: %w", err)
	}
	return &PolicyElevator{query: query}, nil
}

type elevationInput struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

func (e *PolicyElevator) Elevate(ctx context.Context, id token.Identity) (token.Identity, error) {
	scopes := make([]string, 0, len(id.Scopes))
	for s := range id.Scopes {
		scopes = append(scopes, s)
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(elevationInput{
		Subject: id.ID,
		Scopes:  scopes,
	}))
	if err != nil {
		return token.Identity{}, autherr.Wrap(autherr.System, "evaluate elevation policy", err)
	}
	if len(results) == 0 {
		return token.Identity{}, autherr.New(autherr.System, "elevation policy produced no result")
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return token.Identity{}, autherr.New(autherr.System, "elevation policy returned unexpected type")
	}

	final := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		final = append(final, s)
	}

	return token.NewIdentity(id.ID, final), nil
}
