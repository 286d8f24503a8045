package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// manifestValidate is the validator instance for manifests.
// Initialized in init() with custom validators.
var manifestValidate *validator.Validate

var waveNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func init() {
	manifestValidate = validator.New()
	_ = manifestValidate.RegisterValidation("wavename", func(fl validator.FieldLevel) bool {
		return waveNamePattern.MatchString(fl.Field().String())
	})
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (m Manifest) Validate() error {
	if err := manifestValidate.Struct(m); err != nil {
		return fmt.Errorf("manifest %q: %w", m.Name, describe(err))
	}

	if m.Budget.MaxDuration < 0 {
		return fmt.Errorf("manifest %q: budget.max_duration must be >= 0", m.Name)
	}

	for _, key := range append(append([]string(nil), m.Listens.Required...), m.Listens.Optional...) {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("manifest %q: listens entries cannot be empty", m.Name)
		}
	}

	for _, e := range m.Escalation {
		if e.Target == m.Name {
			return fmt.Errorf("manifest %q: cannot escalate to itself", m.Name)
		}
	}

	if len(m.Escalation) > 0 && m.Taxonomy.Persistence != PersistenceEscalatable {
		return fmt.Errorf("manifest %q: escalation rules require persistence %q, got %q",
			m.Name, PersistenceEscalatable, m.Taxonomy.Persistence)
	}

	return nil
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
