package model

import (
	stderrors "errors"
	"sync"

	"github.com/go-playground/validator/v10"

	"threadlens/internal/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that n has the minimal shape the rest of the system relies on.
// It returns a *errors.ValidationError listing the failing fields.
func (n Note) Validate() error {
	err := validatorInstance().Struct(n)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.NewValidation(n.ID, []string{err.Error()})
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+":"+fe.Tag())
	}
	return errors.NewValidation(n.ID, fields)
}

// ValidateAll validates every note and returns the first failure.
func ValidateAll(notes []Note) error {
	for _, n := range notes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}
