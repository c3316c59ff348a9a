// Package contracts embeds the OpenAPI documents served and enforced by the API server.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed provisioning.yaml
var provisioningYAML []byte

// Provisioning returns a freshly parsed and validated copy of the provisioning contract.
func Provisioning() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(provisioningYAML)
	if err != nil {
		return nil, fmt.Errorf("load provisioning contract: %w", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate provisioning contract: %w", err)
	}
	return spec, nil
}
