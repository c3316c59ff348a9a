package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
)

// Step names recorded in the migration log.
const (
	StepBaseSchema      = "base_schema"
	StepAuthConfig      = "auth_config"
	StepRLSPolicies     = "rls_policies"
	StepLoadCredentials = "load_credentials"
	StepConnect         = "connect"
	featureStepPrefix   = "feature:"
)

const tenantPolicy = "palmyra_tenant_isolation"

// Step is one schema-application unit. Apply either fully succeeds or returns an error.
type Step struct {
	Name  string
	Apply func(ctx context.Context, client remotedb.Client) error
}

// FeatureStepName is the log name of the step applying feature key.
func FeatureStepName(key string) string {
	return featureStepPrefix + key
}

// Plan builds the ordered step list: base schema, each feature in selection order,
// auth configuration, then row-level isolation. An unknown feature becomes a step that
// fails with *TemplateNotFoundError, so the executor stops there.
func (c *Catalog) Plan(customerID uuid.UUID, features []string) []Step {
	steps := make([]Step, 0, len(features)+3)
	steps = append(steps, execStep(StepBaseSchema, c.baseSQL))

	tables := append([]string(nil), c.baseTables...)
	for _, key := range features {
		f, err := c.Lookup(key)
		if err != nil {
			steps = append(steps, failingStep(FeatureStepName(key), err))
			continue
		}
		steps = append(steps, execStep(FeatureStepName(key), f.SQL))
		tables = append(tables, f.Tables...)
	}

	steps = append(steps,
		execStep(StepAuthConfig, c.authSQL+"\n"+rolePermissionsSQL(features)),
		execStep(StepRLSPolicies, rlsSQL(customerID, tables)),
	)
	return steps
}

func execStep(name, sql string) Step {
	return Step{
		Name: name,
		Apply: func(ctx context.Context, client remotedb.Client) error {
			return client.Exec(ctx, sql)
		},
	}
}

func failingStep(name string, err error) Step {
	return Step{
		Name:  name,
		Apply: func(context.Context, remotedb.Client) error { return err },
	}
}

// rolePermissionsSQL grants owners read/write and members read on every selected feature.
func rolePermissionsSQL(features []string) string {
	perms := mapset.NewThreadUnsafeSet[string]("owner:workspace.read", "owner:workspace.write", "member:workspace.read")
	for _, key := range features {
		perms.Add("owner:" + key + ".read")
		perms.Add("owner:" + key + ".write")
		perms.Add("member:" + key + ".read")
	}

	grants := perms.ToSlice()
	sort.Strings(grants)

	values := make([]string, 0, len(grants))
	for _, g := range grants {
		role, perm, _ := strings.Cut(g, ":")
		values = append(values, fmt.Sprintf("(%s, %s)", quoteLiteral(role), quoteLiteral(perm)))
	}
	return "INSERT INTO public.role_permissions (role, permission) VALUES\n    " +
		strings.Join(values, ",\n    ") +
		"\nON CONFLICT (role, permission) DO NOTHING;\n"
}

// rlsSQL scopes every tenant table to the owning customer. Policies are dropped and
// recreated so the step tolerates re-execution.
func rlsSQL(customerID uuid.UUID, tables []string) string {
	tenant := quoteLiteral(customerID.String()) + "::uuid"
	seen := mapset.NewThreadUnsafeSet[string]()

	var b strings.Builder
	for _, t := range tables {
		if !seen.Add(t) {
			continue
		}
		ident := pgx.Identifier{"public", t}.Sanitize()
		policy := pgx.Identifier{tenantPolicy}.Sanitize()
		fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n", ident)
		fmt.Fprintf(&b, "DROP POLICY IF EXISTS %s ON %s;\n", policy, ident)
		fmt.Fprintf(&b, "CREATE POLICY %s ON %s USING (tenant_id = %s) WITH CHECK (tenant_id = %s);\n", policy, ident, tenant, tenant)
	}
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
